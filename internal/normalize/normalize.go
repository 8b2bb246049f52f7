// Package normalize validates driver output and turns it into a Record.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/telemetry"
)

// Plausible ranges, inclusive.
const (
	MinDownstreamPowerDBmV = -30.0
	MaxDownstreamPowerDBmV = 30.0
	MinSNRDB               = 0.0
	MaxSNRDB               = 65.0
	MinUpstreamPowerDBmV   = 0.0
	MaxUpstreamPowerDBmV   = 65.0
	MaxFrequencyHz         = 2_000_000_000
)

var (
	qamSuffixRe = regexp.MustCompile(`^(\d+)QAM$`)
	qamPrefixRe = regexp.MustCompile(`^QAM(\d+)$`)
	separators  = strings.NewReplacer(" ", "", "_", "", "-", "")
)

// CanonicalModulation spells QAM orders as QAM<n>: "256QAM", "qam_256" and
// "QAM 256" all become "QAM256". Other names are upper-cased.
func CanonicalModulation(s string) string {
	m := strings.ToUpper(separators.Replace(strings.TrimSpace(s)))
	if sub := qamSuffixRe.FindStringSubmatch(m); sub != nil {
		return "QAM" + sub[1]
	}
	if sub := qamPrefixRe.FindStringSubmatch(m); sub != nil {
		return "QAM" + sub[1]
	}

	return m
}

type checker struct {
	violations []Violation
}

func (c *checker) add(field, value, constraint string) {
	c.violations = append(c.violations, Violation{Field: field, Value: value, Constraint: constraint})
}

func (c *checker) inRange(field string, v, lo, hi float64, unit string) {
	if !(v >= lo && v <= hi) {
		c.add(field, formatFloat(v), fmt.Sprintf("must be within [%s, %s] %s", formatFloat(lo), formatFloat(hi), unit))
	}
}

func (c *checker) frequency(field string, hz int64) {
	if hz <= 0 || hz > MaxFrequencyHz {
		c.add(field, strconv.FormatInt(hz, 10), "must be within (0, 2000000000] Hz")
	}
}

func (c *checker) nonNegative(field string, v int64) {
	if v < 0 {
		c.add(field, strconv.FormatInt(v, 10), "must be >= 0")
	}
}

func (c *checker) channelID(field string, id int, seen map[int]int, prefix string) {
	if id < 0 {
		c.add(field, strconv.Itoa(id), "must be >= 0")
		return
	}
	if first, ok := seen[id]; ok {
		c.add(field, strconv.Itoa(id), fmt.Sprintf("duplicates %s[%d]", prefix, first))
	}
}

func (c *checker) lockStatus(field string, raw telemetry.LockStatus) telemetry.LockStatus {
	status, ok := telemetry.ParseLockStatus(string(raw))
	if !ok {
		c.add(field, string(raw), "must be locked, unlocked or unknown")
	}

	return status
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}

	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Normalize validates partial and finalizes it into a Record stamped with
// capturedAt. Every violation is collected before failing, ordered record
// fields first, then downstream and upstream channels in their reported
// order. The same input always yields the same record or the same
// violations.
func Normalize(partial *telemetry.Partial, capturedAt time.Time) (*telemetry.Record, error) {
	if partial == nil {
		return nil, &ValidationError{Violations: []Violation{{Field: "record", Constraint: "must be present"}}}
	}

	var c checker

	vendor := strings.TrimSpace(partial.Vendor)
	model := strings.TrimSpace(partial.Model)
	if vendor == "" {
		c.add("vendor", "", "must not be empty")
	}
	if model == "" {
		c.add("model", "", "must not be empty")
	}
	if partial.Uptime < 0 {
		c.add("uptime", partial.Uptime.String(), "must be >= 0")
	}

	rec := &telemetry.Record{
		Timestamp:  capturedAt.Round(0),
		Vendor:     vendor,
		Model:      model,
		Uptime:     telemetry.Duration(partial.Uptime),
		Downstream: make([]telemetry.DownstreamChannel, 0, len(partial.Downstream)),
		Upstream:   make([]telemetry.UpstreamChannel, 0, len(partial.Upstream)),
	}

	seen := make(map[int]int)
	for i, in := range partial.Downstream {
		prefix := fmt.Sprintf("downstream[%d].", i)
		ch := in

		c.channelID(prefix+"channel_id", ch.ChannelID, seen, "downstream")
		if _, dup := seen[ch.ChannelID]; !dup {
			seen[ch.ChannelID] = i
		}
		c.frequency(prefix+"frequency_hz", ch.FrequencyHz)
		ch.Modulation = CanonicalModulation(ch.Modulation)
		c.inRange(prefix+"power_dbmv", ch.PowerDBmV, MinDownstreamPowerDBmV, MaxDownstreamPowerDBmV, "dBmV")
		c.inRange(prefix+"snr_db", ch.SNRDB, MinSNRDB, MaxSNRDB, "dB")
		c.nonNegative(prefix+"correctable_errors", ch.CorrectableErrors)
		c.nonNegative(prefix+"uncorrectable_errors", ch.UncorrectableErrors)
		ch.LockStatus = c.lockStatus(prefix+"lock_status", ch.LockStatus)

		rec.Downstream = append(rec.Downstream, ch)
	}

	seen = make(map[int]int)
	for i, in := range partial.Upstream {
		prefix := fmt.Sprintf("upstream[%d].", i)
		ch := in

		c.channelID(prefix+"channel_id", ch.ChannelID, seen, "upstream")
		if _, dup := seen[ch.ChannelID]; !dup {
			seen[ch.ChannelID] = i
		}
		c.frequency(prefix+"frequency_hz", ch.FrequencyHz)
		ch.Modulation = CanonicalModulation(ch.Modulation)
		c.inRange(prefix+"power_dbmv", ch.PowerDBmV, MinUpstreamPowerDBmV, MaxUpstreamPowerDBmV, "dBmV")
		ch.ChannelType = strings.ToUpper(strings.TrimSpace(ch.ChannelType))
		ch.LockStatus = c.lockStatus(prefix+"lock_status", ch.LockStatus)

		rec.Upstream = append(rec.Upstream, ch)
	}

	if len(c.violations) > 0 {
		return nil, &ValidationError{Violations: c.violations}
	}

	return rec, nil
}
