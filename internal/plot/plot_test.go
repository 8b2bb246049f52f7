package plot_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/plot"
	"codeberg.org/mutker/modemstat/internal/series"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var t0 = time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)

func capture(offset time.Duration, channels map[int]float64) telemetry.Record {
	rec := telemetry.Record{
		Timestamp: t0.Add(offset),
		Vendor:    "hitron",
		Model:     "CODA-4582",
		Upstream:  []telemetry.UpstreamChannel{},
	}
	for _, id := range []int{3, 4, 5} {
		power, ok := channels[id]
		if !ok {
			continue
		}
		rec.Downstream = append(rec.Downstream, telemetry.DownstreamChannel{
			ChannelID:         id,
			FrequencyHz:       591000000,
			Modulation:        "QAM256",
			PowerDBmV:         power,
			SNRDB:             40,
			CorrectableErrors: int64(offset.Minutes()) * int64(id),
		})
	}

	return rec
}

func history() []telemetry.Record {
	return []telemetry.Record{
		capture(0, map[int]float64{3: 5.6, 4: 1.0}),
		capture(5*time.Minute, map[int]float64{4: 1.5}),
		capture(10*time.Minute, map[int]float64{3: 6.0, 4: 2.0}),
	}
}

func TestCharts(t *testing.T) {
	charts := plot.Charts(history(), []series.Metric{series.Power, series.CorrectableErrors, series.UpstreamPower})
	require.Len(t, charts, 3)

	power := charts[0]
	assert.Equal(t, "power", power.Name)
	assert.Equal(t, "dBmV", power.Unit)
	assert.Len(t, power.Captures, 3)
	assert.Len(t, power.Series[3].Points, 2)
	assert.Len(t, power.Band, 3)

	errs := charts[1]
	assert.Equal(t, "correctable_errors_delta", errs.Name)
	assert.Empty(t, errs.Band)
	// Channel 3 misses the middle capture, so no per-capture change is known.
	assert.Empty(t, errs.Series[3].Points)
	assert.Equal(t, []series.Point{
		{Time: t0, Value: 20},
		{Time: t0.Add(5 * time.Minute), Value: 20},
	}, errs.Series[4].Points)

	assert.Empty(t, charts[2].Series)
}

func TestRenderPDF(t *testing.T) {
	charts := plot.Charts(history(), plot.DefaultMetrics())

	var buf bytes.Buffer
	require.NoError(t, plot.RenderPDF(&buf, "hitron CODA-4582", charts))

	out := buf.Bytes()
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	// Upstream power has no data and gets no page.
	assert.Equal(t, 4, bytes.Count(out, []byte("/Type /Page\n")))
}

func TestRenderPDFSingleCapture(t *testing.T) {
	charts := plot.Charts(history()[:1], []series.Metric{series.SNR})

	var buf bytes.Buffer
	require.NoError(t, plot.RenderPDF(&buf, "one capture", charts))
	assert.NotZero(t, buf.Len())
}

func TestRenderPDFNoData(t *testing.T) {
	var buf bytes.Buffer
	err := plot.RenderPDF(&buf, "empty", plot.Charts(nil, plot.DefaultMetrics()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrRender, errors.CodeOf(err))
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modem.xlsx")
	charts := plot.Charts(history(), []series.Metric{series.Power, series.UncorrectableErrors})

	require.NoError(t, plot.WriteXLSX(path, charts))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"power", "uncorrectable_errors_delta"}, f.GetSheetList())

	rows, err := f.GetRows("power")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"timestamp", "ch 3", "ch 4", "min", "mean", "max"}, rows[0])

	// Channel 3 is missing from the second capture.
	assert.Equal(t, "", rows[2][1])
	assert.Equal(t, "1.5", rows[2][2])
	assert.Equal(t, "5.6", rows[1][1])
}

func TestWriteXLSXNoData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modem.xlsx")

	err := plot.WriteXLSX(path, plot.Charts(nil, []series.Metric{series.Power}))
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
