// Package store keeps capture history in a SQLite database, one database
// per modem, as an alternative to the flat history files.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/history"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

const (
	Ext = ".db"

	defaultDirPerm = 0o755
	timeLayout     = time.RFC3339Nano
)

type Store struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

// Open opens or creates the database for address in dir. A database
// written by another schema version is backed up and recreated.
func Open(dir, address string, log logger.Logger) (*Store, error) {
	return OpenPath(history.FileName(dir, address, Ext), log)
}

func OpenPath(path string, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  path,
			Error: err.Error(),
		})
	}

	dsn := path + "?_journal=WAL&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// One writer per run; a single connection keeps WAL state simple.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, path, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Debug().
		Str("path", path).
		Int("schema_version", SchemaVersion).
		Msg("History database opened")

	return &Store{db: db, path: path, logger: log}, nil
}

// OpenReadOnly opens an existing database for loading. It never migrates:
// a database of another schema version is an error.
func OpenReadOnly(path string, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if _, err := os.Stat(path); err != nil {
		return nil, errFactory.Wrap(ErrStorageRead, err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageRead, err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if version != SchemaVersion {
		db.Close()
		return nil, errFactory.WithData(ErrSchemaMismatch, struct {
			Path     string
			Version  int
			Expected int
		}{
			Path:     path,
			Version:  version,
			Expected: SchemaVersion,
		})
	}

	return &Store{db: db, path: path, logger: log}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Append stores one capture in a single transaction.
func (s *Store) Append(rec *telemetry.Record) error {
	errFactory := errors.New()

	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	res, err := tx.Exec(insertCaptureSQL,
		rec.Timestamp.Format(timeLayout),
		rec.Timestamp.UnixNano(),
		rec.Vendor,
		rec.Model,
		int64(rec.Uptime),
	)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	captureID, err := res.LastInsertId()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertChannelSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for i, ch := range rec.Downstream {
		if _, err := stmt.Exec(
			captureID, string(telemetry.Downstream), i,
			ch.ChannelID, ch.FrequencyHz, ch.Modulation, ch.PowerDBmV,
			ch.SNRDB, ch.CorrectableErrors, ch.UncorrectableErrors,
			string(ch.LockStatus), nil,
		); err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}
	for i, ch := range rec.Upstream {
		if _, err := stmt.Exec(
			captureID, string(telemetry.Upstream), i,
			ch.ChannelID, ch.FrequencyHz, ch.Modulation, ch.PowerDBmV,
			nil, nil, nil,
			string(ch.LockStatus), ch.ChannelType,
		); err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	s.logger.Debug().
		Str("path", s.path).
		Int64("capture_id", captureID).
		Int("channels", len(rec.Downstream)+len(rec.Upstream)).
		Msg("Stored capture")

	return nil
}

// Load returns every capture ordered by timestamp.
func (s *Store) Load() ([]telemetry.Record, error) {
	errFactory := errors.New()

	rows, err := s.db.Query(selectCapturesSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageRead, err)
	}
	defer rows.Close()

	var (
		records []telemetry.Record
		index   = make(map[int64]int)
	)
	for rows.Next() {
		var (
			id      int64
			ts      string
			rec     telemetry.Record
			uptimeN int64
		)
		if err := rows.Scan(&id, &ts, &rec.Vendor, &rec.Model, &uptimeN); err != nil {
			return nil, errFactory.Wrap(ErrStorageRead, err)
		}
		if rec.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, errFactory.Wrap(ErrStorageRead, err)
		}
		rec.Uptime = telemetry.Duration(uptimeN)
		rec.Downstream = []telemetry.DownstreamChannel{}
		rec.Upstream = []telemetry.UpstreamChannel{}

		index[id] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageRead, err)
	}

	if err := s.loadChannels(records, index); err != nil {
		return nil, err
	}

	return records, nil
}

func (s *Store) loadChannels(records []telemetry.Record, index map[int64]int) error {
	errFactory := errors.New()

	rows, err := s.db.Query(selectChannelsSQL)
	if err != nil {
		return errFactory.Wrap(ErrStorageRead, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			captureID     int64
			direction     string
			channelID     int
			frequency     int64
			modulation    string
			power         float64
			snr           sql.NullFloat64
			correctable   sql.NullInt64
			uncorrectable sql.NullInt64
			lock          string
			channelType   sql.NullString
		)
		if err := rows.Scan(&captureID, &direction, &channelID, &frequency, &modulation, &power,
			&snr, &correctable, &uncorrectable, &lock, &channelType); err != nil {
			return errFactory.Wrap(ErrStorageRead, err)
		}

		i, ok := index[captureID]
		if !ok {
			continue
		}
		rec := &records[i]

		switch telemetry.Direction(direction) {
		case telemetry.Downstream:
			rec.Downstream = append(rec.Downstream, telemetry.DownstreamChannel{
				ChannelID:           channelID,
				FrequencyHz:         frequency,
				Modulation:          modulation,
				PowerDBmV:           power,
				SNRDB:               snr.Float64,
				CorrectableErrors:   correctable.Int64,
				UncorrectableErrors: uncorrectable.Int64,
				LockStatus:          telemetry.LockStatus(lock),
			})
		case telemetry.Upstream:
			rec.Upstream = append(rec.Upstream, telemetry.UpstreamChannel{
				ChannelID:   channelID,
				FrequencyHz: frequency,
				Modulation:  modulation,
				PowerDBmV:   power,
				ChannelType: channelType.String,
				LockStatus:  telemetry.LockStatus(lock),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return errFactory.Wrap(ErrStorageRead, err)
	}

	return nil
}

func (s *Store) Close() error {
	errFactory := errors.New()

	// Checkpoint WAL and cleanup on close
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Debug().Err(err).Msg("WAL checkpoint failed")
	}

	if err := s.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	return nil
}
