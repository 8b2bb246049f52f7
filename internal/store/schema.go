package store

import (
	"database/sql"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/logger"
)

const (
	SchemaVersion = 1 // Increment version for breaking change

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS captures (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp    TEXT NOT NULL,
	       timestamp_ns INTEGER NOT NULL CHECK (typeof(timestamp_ns) = 'integer'),
	       vendor       TEXT NOT NULL,
	       model        TEXT NOT NULL,
	       uptime_ns    INTEGER NOT NULL CHECK (uptime_ns >= 0)
	   );
	   CREATE INDEX IF NOT EXISTS captures_by_time ON captures (timestamp_ns);
	   CREATE TABLE IF NOT EXISTS channels (
	       capture_id           INTEGER NOT NULL REFERENCES captures (id) ON DELETE CASCADE,
	       direction            TEXT NOT NULL CHECK (direction IN ('downstream', 'upstream')),
	       position             INTEGER NOT NULL,
	       channel_id           INTEGER NOT NULL CHECK (typeof(channel_id) = 'integer'),
	       frequency_hz         INTEGER NOT NULL CHECK (typeof(frequency_hz) = 'integer'),
	       modulation           TEXT NOT NULL,
	       power_dbmv           REAL NOT NULL,
	       snr_db               REAL,
	       correctable_errors   INTEGER,
	       uncorrectable_errors INTEGER,
	       lock_status          TEXT NOT NULL,
	       channel_type         TEXT,
	       PRIMARY KEY (capture_id, direction, position)
	   );`

	insertCaptureSQL = `
    INSERT INTO captures (
        timestamp, timestamp_ns, vendor, model, uptime_ns
    ) VALUES (?, ?, ?, ?, ?)`

	insertChannelSQL = `
    INSERT INTO channels (
        capture_id, direction, position,
        channel_id, frequency_hz, modulation, power_dbmv,
        snr_db, correctable_errors, uncorrectable_errors,
        lock_status, channel_type
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectCapturesSQL = `
    SELECT id, timestamp, vendor, model, uptime_ns
    FROM captures
    ORDER BY timestamp_ns, id`

	selectChannelsSQL = `
    SELECT capture_id, direction,
           channel_id, frequency_hz, modulation, power_dbmv,
           snr_db, correctable_errors, uncorrectable_errors,
           lock_status, channel_type
    FROM channels
    ORDER BY capture_id, direction, position`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	log.Debug().Str("sql", createTablesSQL).Msg("Executing SQL statement")
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
