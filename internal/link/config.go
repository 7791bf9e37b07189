package link

import (
	"strings"
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
	"go.bug.st/serial"
)

const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
)

const (
	DefaultBaudRate         = 115200
	DefaultTimeout          = 500 * time.Millisecond
	DefaultReconnectBackoff = time.Second
	DefaultFailureThreshold = 3
)

// Config holds register link connection parameters.
type Config struct {
	Transport        string
	Port             string
	BaudRate         int
	DataBits         int
	Parity           string
	StopBits         int
	Address          string
	DeviceID         byte
	Timeout          time.Duration
	ReconnectBackoff time.Duration
	FailureThreshold int
}

// DefaultConfig is an RTU link on ttyUSB0 at 115200 8N1.
func DefaultConfig() Config {
	return Config{
		Transport:        TransportSerial,
		Port:             "/dev/ttyUSB0",
		BaudRate:         DefaultBaudRate,
		DataBits:         8,
		Parity:           "none",
		StopBits:         1,
		DeviceID:         1,
		Timeout:          DefaultTimeout,
		ReconnectBackoff: DefaultReconnectBackoff,
		FailureThreshold: DefaultFailureThreshold,
	}
}

// Validate checks the parameters of the selected transport.
func (c Config) Validate() error {
	errFactory := errors.New()

	switch c.Transport {
	case TransportSerial:
		if c.Port == "" {
			return errFactory.WithMessage(ErrInvalidConfig, "serial port is required")
		}
		if _, err := c.serialMode(); err != nil {
			return err
		}
	case TransportTCP:
		if c.Address == "" {
			return errFactory.WithMessage(ErrInvalidConfig, "tcp address is required")
		}
	default:
		return errFactory.WithData(ErrInvalidConfig, c.Transport)
	}

	if c.Timeout <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "timeout must be positive")
	}
	if c.ReconnectBackoff <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "reconnect backoff must be positive")
	}
	if c.FailureThreshold < 1 {
		return errFactory.WithMessage(ErrInvalidConfig, "failure threshold must be at least 1")
	}

	return nil
}

func (c Config) serialMode() (*serial.Mode, error) {
	errFactory := errors.New()

	if c.BaudRate <= 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, c.BaudRate)
	}

	mode := &serial.Mode{BaudRate: c.BaudRate, DataBits: c.DataBits}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch strings.ToLower(c.Parity) {
	case "", "none", "n":
		mode.Parity = serial.NoParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	default:
		return nil, errFactory.WithData(ErrInvalidConfig, c.Parity)
	}

	switch c.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, errFactory.WithData(ErrInvalidConfig, c.StopBits)
	}

	return mode, nil
}
