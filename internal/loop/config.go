package loop

import (
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/modbus"
)

const (
	DefaultDelay                  = 100 * time.Millisecond
	DefaultMinWriteInterval       = 500 * time.Millisecond
	DefaultDescentActiveThreshold = 1
	DefaultCutCompleteValue       = 2
)

// Config is the loop's scheduling and state trigger configuration.
type Config struct {
	Delay            time.Duration
	MinWriteInterval time.Duration
	TelemetryStart   uint16
	TelemetryCount   uint16
	// DescentActiveThreshold moves Ready to Cutting once descent_state
	// reaches it.
	DescentActiveThreshold float64
	// CutCompleteValue moves Cutting to Completed when descent_state
	// equals it.
	CutCompleteValue float64
	AutoStart        bool
}

func DefaultConfig() Config {
	return Config{
		Delay:                  DefaultDelay,
		MinWriteInterval:       DefaultMinWriteInterval,
		TelemetryStart:         0,
		TelemetryCount:         15,
		DescentActiveThreshold: DefaultDescentActiveThreshold,
		CutCompleteValue:       DefaultCutCompleteValue,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Delay <= 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value time.Duration
		}{"delay", c.Delay})
	}
	if c.MinWriteInterval < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value time.Duration
		}{"min_write_interval", c.MinWriteInterval})
	}
	if c.TelemetryCount == 0 || c.TelemetryCount > modbus.MaxReadCount {
		return errFactory.WithData(ErrInvalidConfig, c.TelemetryCount)
	}
	return nil
}
