// Package plot renders capture history as per-channel line charts (PDF)
// and as a spreadsheet of the same series (XLSX).
package plot

import (
	"fmt"
	"time"

	"codeberg.org/mutker/modemstat/internal/series"
	"codeberg.org/mutker/modemstat/internal/telemetry"
)

// Chart is one metric across every channel that reported it.
type Chart struct {
	Name   string
	Title  string
	Unit   string
	Metric series.Metric

	// Captures lists every capture instant in the history. A series point
	// is joined to the next only when no capture lies between them, so
	// gaps stay visible.
	Captures []time.Time
	Series   map[int]series.Series
	Band     []series.BandPoint
}

// DefaultMetrics are plotted when none are requested.
func DefaultMetrics() []series.Metric {
	return []series.Metric{
		series.Power,
		series.SNR,
		series.CorrectableErrors,
		series.UncorrectableErrors,
		series.UpstreamPower,
	}
}

// Charts builds one chart per metric. Counter metrics are charted as the
// change between captures, since raw counters only ever grow until a
// reboot resets them.
func Charts(history []telemetry.Record, metrics []series.Metric) []Chart {
	captures := series.Captures(history)

	charts := make([]Chart, 0, len(metrics))
	for _, m := range metrics {
		c := Chart{
			Name:     string(m),
			Title:    title(m),
			Unit:     m.Unit(),
			Metric:   m,
			Captures: captures,
			Series:   series.Build(history, m),
		}

		if m.Counter() {
			c.Name += "_delta"
			c.Title += " (change per capture)"
			for id, s := range c.Series {
				c.Series[id] = series.Delta(s, captures)
			}
		} else {
			c.Band = series.Band(history, m)
		}

		charts = append(charts, c)
	}

	return charts
}

func title(m series.Metric) string {
	switch m {
	case series.Power:
		return "Downstream power"
	case series.SNR:
		return "Downstream SNR"
	case series.Frequency:
		return "Downstream frequency"
	case series.CorrectableErrors:
		return "Correctable errors"
	case series.UncorrectableErrors:
		return "Uncorrectable errors"
	case series.UpstreamPower:
		return "Upstream power"
	case series.UpstreamFrequency:
		return "Upstream frequency"
	default:
		return string(m)
	}
}

func (c *Chart) empty() bool {
	for _, s := range c.Series {
		if len(s.Points) > 0 {
			return false
		}
	}

	return true
}

// captureIndex maps capture instants to their position in Captures.
func (c *Chart) captureIndex() map[int64]int {
	idx := make(map[int64]int, len(c.Captures))
	for i, ts := range c.Captures {
		idx[ts.UnixNano()] = i
	}

	return idx
}

func (c *Chart) label() string {
	if c.Unit == "" {
		return c.Title
	}

	return fmt.Sprintf("%s [%s]", c.Title, c.Unit)
}
