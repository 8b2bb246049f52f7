// Package series turns a capture history into per-channel time series for
// plotting. It performs no I/O and never modifies the history it reads.
package series

import (
	"math"
	"sort"
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/telemetry"
)

// Metric names one plottable channel attribute.
type Metric string

const (
	Power               Metric = "power"
	SNR                 Metric = "snr"
	Frequency           Metric = "frequency"
	CorrectableErrors   Metric = "correctable_errors"
	UncorrectableErrors Metric = "uncorrectable_errors"
	UpstreamPower       Metric = "upstream_power"
	UpstreamFrequency   Metric = "upstream_frequency"
)

type metricInfo struct {
	direction telemetry.Direction
	unit      string
	counter   bool
	down      func(telemetry.DownstreamChannel) float64
	up        func(telemetry.UpstreamChannel) float64
}

var metrics = map[Metric]metricInfo{
	Power: {
		direction: telemetry.Downstream,
		unit:      "dBmV",
		down:      func(ch telemetry.DownstreamChannel) float64 { return ch.PowerDBmV },
	},
	SNR: {
		direction: telemetry.Downstream,
		unit:      "dB",
		down:      func(ch telemetry.DownstreamChannel) float64 { return ch.SNRDB },
	},
	Frequency: {
		direction: telemetry.Downstream,
		unit:      "Hz",
		down:      func(ch telemetry.DownstreamChannel) float64 { return float64(ch.FrequencyHz) },
	},
	CorrectableErrors: {
		direction: telemetry.Downstream,
		counter:   true,
		down:      func(ch telemetry.DownstreamChannel) float64 { return float64(ch.CorrectableErrors) },
	},
	UncorrectableErrors: {
		direction: telemetry.Downstream,
		counter:   true,
		down:      func(ch telemetry.DownstreamChannel) float64 { return float64(ch.UncorrectableErrors) },
	},
	UpstreamPower: {
		direction: telemetry.Upstream,
		unit:      "dBmV",
		up:        func(ch telemetry.UpstreamChannel) float64 { return ch.PowerDBmV },
	},
	UpstreamFrequency: {
		direction: telemetry.Upstream,
		unit:      "Hz",
		up:        func(ch telemetry.UpstreamChannel) float64 { return float64(ch.FrequencyHz) },
	},
}

// Metrics lists every known metric in a stable order.
func Metrics() []Metric {
	return []Metric{
		Power, SNR, Frequency, CorrectableErrors, UncorrectableErrors,
		UpstreamPower, UpstreamFrequency,
	}
}

// ParseMetric resolves a metric name, ignoring case and surrounding space.
func ParseMetric(name string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := metrics[m]; !ok {
		return "", errors.New().WithData(errors.ErrInvalidArgument, struct {
			Metric string
			Known  []Metric
		}{
			Metric: name,
			Known:  Metrics(),
		})
	}

	return m, nil
}

func (m Metric) Direction() telemetry.Direction { return metrics[m].direction }
func (m Metric) Unit() string                   { return metrics[m].unit }

// Counter reports whether the metric is a monotonic error counter, for
// which Delta is the more useful view.
func (m Metric) Counter() bool { return metrics[m].counter }

type Point struct {
	Time  time.Time
	Value float64
}

// Series is the history of one metric on one channel. Captures in which
// the channel was absent contribute no point.
type Series struct {
	ChannelID int
	Metric    Metric
	Points    []Point
}

// values calls fn for every channel of rec that the metric covers, in
// record order. A channel id repeated within one capture is reported once.
func values(rec *telemetry.Record, metric Metric, fn func(id int, v float64)) {
	info, ok := metrics[metric]
	if !ok {
		return
	}

	seen := make(map[int]bool)
	switch info.direction {
	case telemetry.Downstream:
		for _, ch := range rec.Downstream {
			if !seen[ch.ChannelID] {
				seen[ch.ChannelID] = true
				fn(ch.ChannelID, info.down(ch))
			}
		}
	case telemetry.Upstream:
		for _, ch := range rec.Upstream {
			if !seen[ch.ChannelID] {
				seen[ch.ChannelID] = true
				fn(ch.ChannelID, info.up(ch))
			}
		}
	}
}

// Build returns one series per channel id seen anywhere in history.
// Channels are matched by id alone, so a retuned channel continues its
// previous series. Points keep history order.
func Build(history []telemetry.Record, metric Metric) map[int]Series {
	out := make(map[int]Series)

	for i := range history {
		rec := &history[i]
		values(rec, metric, func(id int, v float64) {
			s, ok := out[id]
			if !ok {
				s = Series{ChannelID: id, Metric: metric}
			}
			s.Points = append(s.Points, Point{Time: rec.Timestamp, Value: v})
			out[id] = s
		})
	}

	return out
}

// Channels returns the channel ids of a Build result in ascending order.
func Channels(set map[int]Series) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids
}

// BandPoint summarizes one capture across all of its channels.
type BandPoint struct {
	Time     time.Time
	Min      float64
	Mean     float64
	Max      float64
	Channels int
}

// Band reduces each capture to the min, mean and max of a metric across
// its channels. Captures without any channel for the metric are skipped.
func Band(history []telemetry.Record, metric Metric) []BandPoint {
	var out []BandPoint

	for i := range history {
		rec := &history[i]

		bp := BandPoint{Time: rec.Timestamp, Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		values(rec, metric, func(_ int, v float64) {
			bp.Min = math.Min(bp.Min, v)
			bp.Max = math.Max(bp.Max, v)
			sum += v
			bp.Channels++
		})
		if bp.Channels == 0 {
			continue
		}
		bp.Mean = sum / float64(bp.Channels)

		out = append(out, bp)
	}

	return out
}

// Captures lists the distinct capture instants of a history in time
// order.
func Captures(history []telemetry.Record) []time.Time {
	seen := make(map[int64]bool, len(history))
	out := make([]time.Time, 0, len(history))
	for i := range history {
		ts := history[i].Timestamp
		if !seen[ts.UnixNano()] {
			seen[ts.UnixNano()] = true
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	return out
}

// Delta returns the change of a series from one capture to the next.
// Point i holds value[i+1]-value[i] at the time of point i, and exists only
// when point i+1 comes from the capture right after point i. A channel
// missing from a capture leaves a gap instead of a change spread over
// several intervals.
func Delta(s Series, captures []time.Time) Series {
	out := Series{ChannelID: s.ChannelID, Metric: s.Metric}
	if len(s.Points) < 2 {
		return out
	}

	index := make(map[int64]int, len(captures))
	for i, ts := range captures {
		index[ts.UnixNano()] = i
	}

	for i := 0; i < len(s.Points)-1; i++ {
		a, aok := index[s.Points[i].Time.UnixNano()]
		b, bok := index[s.Points[i+1].Time.UnixNano()]
		if !aok || !bok || b != a+1 {
			continue
		}
		out.Points = append(out.Points, Point{
			Time:  s.Points[i].Time,
			Value: s.Points[i+1].Value - s.Points[i].Value,
		})
	}

	return out
}
