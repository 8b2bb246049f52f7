package plot

import (
	"fmt"
	"io"
	"os"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/series"
	"github.com/xuri/excelize/v2"
)

// RenderXLSX writes one sheet per chart: a timestamp column, one column
// per channel and, for non-counter metrics, the min/mean/max band. A
// channel absent from a capture leaves its cell empty.
func RenderXLSX(w io.Writer, charts []Chart) error {
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for i := range charts {
		c := &charts[i]
		if c.empty() {
			continue
		}

		sheet := c.Name
		if len(sheet) > 31 {
			sheet = sheet[:31]
		}
		if first {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return errors.New().Wrap(errors.ErrRender, err)
			}
			first = false
		} else if _, err := f.NewSheet(sheet); err != nil {
			return errors.New().Wrap(errors.ErrRender, err)
		}

		if err := writeSheet(f, sheet, c); err != nil {
			return errors.New().Wrap(errors.ErrRender, err)
		}
	}

	if first {
		return errors.New().WithMessage(errors.ErrRender, "no data to export")
	}

	if err := f.Write(w); err != nil {
		return errors.New().Wrap(errors.ErrRender, err)
	}

	return nil
}

// WriteXLSX exports charts to path.
func WriteXLSX(path string, charts []Chart) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.New().Wrap(errors.ErrRender, err)
	}

	if err := RenderXLSX(out, charts); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}

	if err := out.Close(); err != nil {
		return errors.New().Wrap(errors.ErrRender, err)
	}

	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func writeSheet(f *excelize.File, sheet string, c *Chart) error {
	idx := c.captureIndex()
	ids := series.Channels(c.Series)

	if err := f.SetCellValue(sheet, cell(1, 1), "timestamp"); err != nil {
		return err
	}
	for i, ts := range c.Captures {
		if err := f.SetCellValue(sheet, cell(1, i+2), ts.UTC()); err != nil {
			return err
		}
	}

	for n, id := range ids {
		col := n + 2
		if err := f.SetCellValue(sheet, cell(col, 1), fmt.Sprintf("ch %d", id)); err != nil {
			return err
		}
		for _, p := range c.Series[id].Points {
			row, ok := idx[p.Time.UnixNano()]
			if !ok {
				continue
			}
			if err := f.SetCellValue(sheet, cell(col, row+2), p.Value); err != nil {
				return err
			}
		}
	}

	if len(c.Band) == 0 {
		return nil
	}

	col := len(ids) + 2
	for k, name := range []string{"min", "mean", "max"} {
		if err := f.SetCellValue(sheet, cell(col+k, 1), name); err != nil {
			return err
		}
	}
	for _, bp := range c.Band {
		row, ok := idx[bp.Time.UnixNano()]
		if !ok {
			continue
		}
		for k, v := range []float64{bp.Min, bp.Mean, bp.Max} {
			if err := f.SetCellValue(sheet, cell(col+k, row+2), v); err != nil {
				return err
			}
		}
	}

	return nil
}
