package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"codeberg.org/mutker/modemstat/internal/collector"
	"codeberg.org/mutker/modemstat/internal/config"
	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/history"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/metrics"
	"codeberg.org/mutker/modemstat/internal/pid"
	"codeberg.org/mutker/modemstat/internal/store"
)

var hostnameRe = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)(?:\.(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?))*\.?$`)

// validAddress accepts an IP literal or an RFC 1123 hostname, optionally
// followed by a port.
func validAddress(addr string) bool {
	if host, port, err := net.SplitHostPort(addr); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return false
		}
		addr = host
	}

	if net.ParseIP(addr) != nil {
		return true
	}

	return len(addr) <= 253 && hostnameRe.MatchString(addr)
}

func parseGetArgs(cfg *config.Config) (string, error) {
	errFactory := errors.New()

	operands := cfg.Operands()
	if len(operands) != 1 {
		return "", errFactory.WithMessage(errors.ErrUsage, "get takes exactly one ADDRESS")
	}
	address := strings.TrimSpace(operands[0])
	if !validAddress(address) {
		return "", errFactory.WithData(errors.ErrUsage, address)
	}
	if !cfg.CSV && !cfg.JSON && !cfg.SQLite {
		return "", errFactory.WithMessage(errors.ErrUsage, "get requires at least one of --csv, --json, --sqlite")
	}

	return address, nil
}

func get(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	address, err := parseGetArgs(cfg)
	if err != nil {
		return err
	}

	if err := cfg.CheckPath(); err != nil {
		return err
	}

	if err := pid.Write(cfg.Path); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.Path); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to remove lock file")
		}
	}()

	log := logger.Default()

	var sinks []history.Appender
	if cfg.CSV {
		sinks = append(sinks, history.NewCSVWriter(cfg.Path, address, log))
	}
	if cfg.JSON {
		sinks = append(sinks, history.NewJSONLWriter(cfg.Path, address, log))
	}
	if cfg.SQLite {
		db, err := store.Open(cfg.Path, address, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.ErrorWithCode(err).Msg("Failed to close database")
			}
		}()
		sinks = append(sinks, db)
	}

	registry, err := collector.DefaultRegistry(log)
	if err != nil {
		return err
	}

	rec, err := collector.New(registry, log).Run(ctx, collector.Options{
		Address:     address,
		Timeout:     cfg.Timeout,
		Retries:     cfg.Retries,
		Backoff:     cfg.Backoff,
		InsecureTLS: cfg.InsecureTLS,
		Credentials: driver.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}, sinks...)
	if rec == nil {
		return err
	}

	fmt.Fprintf(stdout, "%s %s %s: %d downstream, %d upstream channels\n",
		rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"), rec.Vendor, rec.Model,
		len(rec.Downstream), len(rec.Upstream))

	if cfg.Prom != "" {
		if promErr := metrics.WriteTextfile(cfg.Prom, rec); promErr != nil {
			err = errors.Join(err, promErr)
		} else {
			logger.Info().Str("path", cfg.Prom).Msg("Textfile written")
		}
	}

	return err
}
