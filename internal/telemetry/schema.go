package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/snapshot"
)

const (
	SchemaVersion = 1

	// SQL statements derived from schema. Readings are nullable: an absent
	// reading is stored as NULL, never as a number.
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS telemetry (
	       id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp           INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       session             TEXT,
	       state               TEXT NOT NULL,
	       head_height         REAL,
	       cutting_current     REAL,
	       descent_current     REAL,
	       blade_deviation     REAL,
	       descent_state       REAL,
	       cut_state           REAL,
	       cutting_speed       REAL,
	       descent_speed       REAL,
	       ambient_temperature REAL,
	       motor_temperature   REAL,
	       vibration_x         REAL,
	       vibration_y         REAL,
	       vibration_z         REAL,
	       vibration_frequency REAL,
	       hydraulic_pressure  REAL
	   );
	   CREATE INDEX IF NOT EXISTS telemetry_timestamp ON telemetry (timestamp);
	   CREATE INDEX IF NOT EXISTS telemetry_session ON telemetry (session);`

	insertTelemetrySQL = `
    INSERT INTO telemetry (
        timestamp, session, state,
        head_height, cutting_current, descent_current, blade_deviation,
        descent_state, cut_state, cutting_speed, descent_speed,
        ambient_temperature, motor_temperature,
        vibration_x, vibration_y, vibration_z, vibration_frequency,
        hydraulic_pressure
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// readingColumns lists the reading columns in insert order.
var readingColumns = []snapshot.Field{
	snapshot.HeadHeight,
	snapshot.CuttingCurrent,
	snapshot.DescentCurrent,
	snapshot.BladeDeviation,
	snapshot.DescentState,
	snapshot.CutState,
	snapshot.CuttingSpeed,
	snapshot.DescentSpeed,
	snapshot.AmbientTemperature,
	snapshot.MotorTemperature,
	snapshot.VibrationX,
	snapshot.VibrationY,
	snapshot.VibrationZ,
	snapshot.VibrationFrequency,
	snapshot.HydraulicPressure,
}

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
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

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

// GetSchemaVersion returns the current schema version, 0 for a fresh database.
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

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
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
