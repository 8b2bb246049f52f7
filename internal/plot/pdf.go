package plot

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/series"
	"github.com/jung-kurt/gofpdf"
)

// Page geometry in mm, A4 landscape.
const (
	pageW = 297.0
	pageH = 210.0

	marginL = 25.0
	marginR = 40.0
	marginT = 22.0
	marginB = 22.0

	ticks = 5
)

var palette = [][3]int{
	{31, 119, 180}, {255, 127, 14}, {44, 160, 44}, {214, 39, 40},
	{148, 103, 189}, {140, 86, 75}, {227, 119, 194}, {127, 127, 127},
	{188, 189, 34}, {23, 190, 207},
}

// frame maps data coordinates onto the plot area of a page.
type frame struct {
	t0, t1 float64
	v0, v1 float64
	x0, x1 float64
	y0, y1 float64
}

func (f frame) x(t time.Time) float64 {
	return f.x0 + (float64(t.UnixNano())-f.t0)/(f.t1-f.t0)*(f.x1-f.x0)
}

func (f frame) y(v float64) float64 {
	return f.y1 - (v-f.v0)/(f.v1-f.v0)*(f.y1-f.y0)
}

func newFrame(c *Chart) frame {
	f := frame{
		t0: math.Inf(1), t1: math.Inf(-1),
		v0: math.Inf(1), v1: math.Inf(-1),
		x0: marginL, x1: pageW - marginR,
		y0: marginT, y1: pageH - marginB,
	}

	for _, s := range c.Series {
		for _, p := range s.Points {
			t := float64(p.Time.UnixNano())
			f.t0, f.t1 = math.Min(f.t0, t), math.Max(f.t1, t)
			f.v0, f.v1 = math.Min(f.v0, p.Value), math.Max(f.v1, p.Value)
		}
	}

	// A single capture or a flat line still needs a non-empty range.
	if f.t1 <= f.t0 {
		f.t0 -= float64(time.Minute)
		f.t1 += float64(time.Minute)
	}
	if f.v1 <= f.v0 {
		f.v0--
		f.v1++
	}
	pad := (f.v1 - f.v0) * 0.05
	f.v0 -= pad
	f.v1 += pad

	return f
}

// RenderPDF draws one page per chart. Charts without any data point are
// skipped; it is an error when nothing is left to draw.
func RenderPDF(w io.Writer, heading string, charts []Chart) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(heading, true)
	pdf.SetCreator("modemstat", true)

	pages := 0
	for i := range charts {
		c := &charts[i]
		if c.empty() {
			continue
		}
		drawChart(pdf, heading, c)
		pages++
	}

	if pages == 0 {
		return errors.New().WithMessage(errors.ErrRender, "no data to plot")
	}

	if err := pdf.Output(w); err != nil {
		return errors.New().Wrap(errors.ErrRender, err)
	}

	return nil
}

// WritePDF renders charts to path.
func WritePDF(path, heading string, charts []Chart) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.New().Wrap(errors.ErrRender, err)
	}

	if err := RenderPDF(f, heading, charts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}

	if err := f.Close(); err != nil {
		return errors.New().Wrap(errors.ErrRender, err)
	}

	return nil
}

func drawChart(pdf *gofpdf.Fpdf, heading string, c *Chart) {
	pdf.AddPage()
	f := newFrame(c)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "B", 13)
	pdf.Text(marginL, 12, c.label())
	pdf.SetFont("Arial", "", 9)
	pdf.Text(marginL, 17, heading)

	drawAxes(pdf, f)
	drawBand(pdf, f, c.Band)

	idx := c.captureIndex()
	pdf.SetDashPattern([]float64{}, 0)
	pdf.SetLineWidth(0.35)

	for n, id := range series.Channels(c.Series) {
		col := palette[n%len(palette)]
		pdf.SetDrawColor(col[0], col[1], col[2])
		pdf.SetFillColor(col[0], col[1], col[2])

		pts := c.Series[id].Points
		for i, p := range pts {
			joined := false
			if i+1 < len(pts) {
				a, aok := idx[p.Time.UnixNano()]
				b, bok := idx[pts[i+1].Time.UnixNano()]
				if aok && bok && b == a+1 {
					pdf.Line(f.x(p.Time), f.y(p.Value), f.x(pts[i+1].Time), f.y(pts[i+1].Value))
					joined = true
				}
			}
			prevJoined := i > 0 && idx[pts[i-1].Time.UnixNano()]+1 == idx[p.Time.UnixNano()]
			if !joined && !prevJoined {
				pdf.Circle(f.x(p.Time), f.y(p.Value), 0.6, "F")
			}
		}

		drawLegendEntry(pdf, n, id, col)
	}
}

func drawAxes(pdf *gofpdf.Fpdf, f frame) {
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.2)
	pdf.Line(f.x0, f.y1, f.x1, f.y1)
	pdf.Line(f.x0, f.y0, f.x0, f.y1)

	pdf.SetFont("Arial", "", 7)
	span := time.Duration(f.t1 - f.t0)
	layout := "01-02 15:04"
	if span < 24*time.Hour {
		layout = "15:04:05"
	}

	for i := 0; i <= ticks; i++ {
		frac := float64(i) / ticks

		v := f.v0 + frac*(f.v1-f.v0)
		y := f.y(v)
		pdf.SetDrawColor(220, 220, 220)
		pdf.Line(f.x0, y, f.x1, y)
		label := strconv.FormatFloat(v, 'g', 4, 64)
		pdf.Text(f.x0-2-pdf.GetStringWidth(label), y+1, label)

		ts := time.Unix(0, int64(f.t0+frac*(f.t1-f.t0))).UTC()
		x := f.x(ts)
		pdf.SetDrawColor(0, 0, 0)
		pdf.Line(x, f.y1, x, f.y1+1.5)
		label = ts.Format(layout)
		pdf.Text(x-pdf.GetStringWidth(label)/2, f.y1+5, label)
	}
}

// drawBand draws the per-capture mean as a dashed line between grey
// min and max lines.
func drawBand(pdf *gofpdf.Fpdf, f frame, band []series.BandPoint) {
	if len(band) < 2 {
		return
	}

	pdf.SetLineWidth(0.15)
	pdf.SetDrawColor(170, 170, 170)
	for i := 1; i < len(band); i++ {
		a, b := band[i-1], band[i]
		pdf.Line(f.x(a.Time), f.y(a.Min), f.x(b.Time), f.y(b.Min))
		pdf.Line(f.x(a.Time), f.y(a.Max), f.x(b.Time), f.y(b.Max))
	}

	pdf.SetLineWidth(0.5)
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetDashPattern([]float64{1.5, 1}, 0)
	for i := 1; i < len(band); i++ {
		a, b := band[i-1], band[i]
		pdf.Line(f.x(a.Time), f.y(a.Mean), f.x(b.Time), f.y(b.Mean))
	}
	pdf.SetDashPattern([]float64{}, 0)
}

func drawLegendEntry(pdf *gofpdf.Fpdf, n, id int, col [3]int) {
	const rowH = 4.0
	perColumn := int(math.Floor((pageH - marginT - marginB) / rowH))

	x := pageW - marginR + 5 + float64(n/perColumn)*17
	y := marginT + float64(n%perColumn)*rowH

	pdf.SetLineWidth(0.8)
	pdf.Line(x, y, x+5, y)
	pdf.SetTextColor(col[0], col[1], col[2])
	pdf.SetFont("Arial", "", 7)
	pdf.Text(x+6, y+1, fmt.Sprintf("ch %d", id))
	pdf.SetTextColor(0, 0, 0)
	pdf.SetLineWidth(0.35)
}
