package telemetry

import (
	"strings"
	"time"
)

// Direction names a channel set.
type Direction string

const (
	Downstream Direction = "downstream"
	Upstream   Direction = "upstream"
)

// LockStatus is the carrier lock state reported for a channel.
type LockStatus string

const (
	LockLocked   LockStatus = "locked"
	LockUnlocked LockStatus = "unlocked"
	LockUnknown  LockStatus = "unknown"
)

// ParseLockStatus maps a persisted or vendor-reported lock state onto a
// LockStatus. The empty string is reported as unknown.
func ParseLockStatus(s string) (LockStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "locked", "true", "yes", "1":
		return LockLocked, true
	case "unlocked", "not locked", "false", "no", "0":
		return LockUnlocked, true
	case "", "unknown":
		return LockUnknown, true
	default:
		return LockUnknown, false
	}
}

// LockStatusFromBool converts a boolean lock flag.
func LockStatusFromBool(locked bool) LockStatus {
	if locked {
		return LockLocked
	}

	return LockUnlocked
}

// DownstreamChannel is one network-to-modem carrier.
type DownstreamChannel struct {
	ChannelID           int        `json:"channel_id"`
	FrequencyHz         int64      `json:"frequency_hz"`
	Modulation          string     `json:"modulation"`
	PowerDBmV           float64    `json:"power_dbmv"`
	SNRDB               float64    `json:"snr_db"`
	CorrectableErrors   int64      `json:"correctable_errors"`
	UncorrectableErrors int64      `json:"uncorrectable_errors"`
	LockStatus          LockStatus `json:"lock_status"`
}

// UpstreamChannel is one modem-to-network carrier.
type UpstreamChannel struct {
	ChannelID   int        `json:"channel_id"`
	FrequencyHz int64      `json:"frequency_hz"`
	Modulation  string     `json:"modulation"`
	PowerDBmV   float64    `json:"power_dbmv"`
	ChannelType string     `json:"channel_type"`
	LockStatus  LockStatus `json:"lock_status,omitempty"`
}

// Partial is what a driver extracts from one device payload. It has the
// shape of a Record without the capture instant and has not been validated.
type Partial struct {
	Vendor     string
	Model      string
	Uptime     time.Duration
	Downstream []DownstreamChannel
	Upstream   []UpstreamChannel
}

// Record is one validated snapshot of a modem's state. Its JSON form is
// the canonical lossless representation written to history files.
type Record struct {
	Timestamp  time.Time           `json:"timestamp"`
	Vendor     string              `json:"vendor"`
	Model      string              `json:"model"`
	Uptime     Duration            `json:"uptime"`
	Downstream []DownstreamChannel `json:"downstream"`
	Upstream   []UpstreamChannel   `json:"upstream"`
}

// Identity returns "vendor model".
func (r *Record) Identity() string {
	return r.Vendor + " " + r.Model
}
