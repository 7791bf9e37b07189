package telemetry

import (
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
)

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/sawctl/telemetry.db"
	defaultBackupDir    = "/var/lib/sawctl/backups"
	defaultInterval     = 100 * time.Millisecond
	defaultBatchSize    = 50
	defaultBatchTimeout = 5 * time.Second
)

type Config struct {
	Enabled bool
	DBPath  string
	// Interval is the period of the storage loop.
	Interval time.Duration
	// BatchSize records are buffered before a flush; BatchTimeout bounds how
	// long a partial batch waits.
	BatchSize    int
	BatchTimeout time.Duration
	// BackupDir receives a copy of the database before a schema rebuild.
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		DBPath:       defaultDBPath,
		Interval:     defaultInterval,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		BackupDir:    defaultBackupDir,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.Interval <= 0 || c.BatchSize < 1 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Interval     time.Duration
			BatchSize    int
			BatchTimeout time.Duration
		}{c.Interval, c.BatchSize, c.BatchTimeout})
	}
	if c.BackupDir == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "backup directory is required")
	}
	return nil
}
