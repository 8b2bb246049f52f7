// Package history appends captures to per-modem history files and loads
// them back for plotting. Two formats are kept: a long-format CSV with one
// row per channel per capture, and JSON lines with one record per line.
package history

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/telemetry"
)

const (
	CSVExt   = ".csv"
	JSONLExt = ".jsonl"

	filePerm = 0o644
)

// Appender persists one record per call. Each call is a single write so a
// failed run never leaves half a capture behind.
type Appender interface {
	Append(rec *telemetry.Record) error
	Path() string
}

// Warning is a non-fatal finding of a loader.
type Warning struct {
	Line    int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

// FileName maps a modem address onto a history file name in dir. Anything
// that is not safe in a file name (such as the colon of host:port) is
// replaced.
func FileName(dir, address, ext string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, address)

	return filepath.Join(dir, safe+ext)
}

// Load reads a CSV or JSON lines history, picked by extension. Records
// come back sorted by timestamp; out-of-order captures are reported as
// warnings.
func Load(path string) ([]telemetry.Record, []Warning, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case CSVExt:
		return LoadCSV(path)
	case JSONLExt, ".json":
		return LoadJSONL(path)
	default:
		return nil, nil, errors.New().WithData(errors.ErrReadHistory, struct {
			Path   string
			Reason string
		}{
			Path:   path,
			Reason: "unknown history format",
		})
	}
}

type located struct {
	line int
	rec  telemetry.Record
}

// order checks that captures are strictly increasing in time and returns
// them sorted.
func order(items []located) ([]telemetry.Record, []Warning) {
	var warnings []Warning
	for i := 1; i < len(items); i++ {
		prev, cur := items[i-1].rec.Timestamp, items[i].rec.Timestamp
		if !cur.After(prev) {
			warnings = append(warnings, Warning{
				Line: items[i].line,
				Message: fmt.Sprintf("timestamp %s does not follow %s",
					cur.Format(timeLayout), prev.Format(timeLayout)),
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].rec.Timestamp.Before(items[j].rec.Timestamp)
	})

	records := make([]telemetry.Record, len(items))
	for i, it := range items {
		records[i] = it.rec
	}

	return records, warnings
}
