package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/modemstat/internal/config"
	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/history"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/plot"
	"codeberg.org/mutker/modemstat/internal/series"
	"codeberg.org/mutker/modemstat/internal/store"
	"codeberg.org/mutker/modemstat/internal/telemetry"
)

// loadHistory reads any supported history file. SQLite databases are
// opened read-only and never migrated.
func loadHistory(path string) ([]telemetry.Record, []history.Warning, error) {
	if !strings.EqualFold(filepath.Ext(path), store.Ext) {
		return history.Load(path)
	}

	db, err := store.OpenReadOnly(path, logger.Default())
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	records, err := db.Load()
	return records, nil, err
}

func parseMetrics(names []string) ([]series.Metric, error) {
	if len(names) == 0 {
		return plot.DefaultMetrics(), nil
	}

	metrics := make([]series.Metric, 0, len(names))
	for _, name := range names {
		m, err := series.ParseMetric(name)
		if err != nil {
			return nil, errors.New().Wrap(errors.ErrUsage, err)
		}
		metrics = append(metrics, m)
	}

	return metrics, nil
}

// outputPath resolves a relative output file against --path.
func outputPath(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(dir, name)
}

func heading(path string, records []telemetry.Record) string {
	base := filepath.Base(path)
	if len(records) == 0 {
		return base
	}
	last := records[len(records)-1]

	return fmt.Sprintf("%s %s (%s, %d captures)", last.Vendor, last.Model, base, len(records))
}

func plotHistory(cfg *config.Config, stdout, stderr io.Writer) error {
	operands := cfg.Operands()
	if len(operands) != 1 {
		return errors.New().WithMessage(errors.ErrUsage, "plot takes exactly one FILE")
	}
	path := operands[0]

	metrics, err := parseMetrics(cfg.Metrics)
	if err != nil {
		return err
	}

	if err := cfg.CheckPath(); err != nil {
		return err
	}

	records, warnings, err := loadHistory(path)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn().Str("path", path).Int("line", w.Line).Msg(w.Message)
		fmt.Fprintf(stderr, "%s: %s\n", path, w)
	}

	charts := plot.Charts(records, metrics)

	out := outputPath(cfg.Path, cfg.Out)
	if err := plot.WritePDF(out, heading(path, records), charts); err != nil {
		return err
	}
	fmt.Fprintln(stdout, out)

	if cfg.XLSX != "" {
		xlsx := outputPath(cfg.Path, cfg.XLSX)
		if err := plot.WriteXLSX(xlsx, charts); err != nil {
			return err
		}
		fmt.Fprintln(stdout, xlsx)
	}

	return nil
}
