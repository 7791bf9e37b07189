package link

import (
	"context"
	"io"
	"net"
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
	"go.bug.st/serial"
)

// Port is an open point-to-point transport. serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds the next Read. A serial port returns (0, nil)
	// when it expires; a socket returns a timeout error.
	SetReadTimeout(t time.Duration) error
}

// inputResetter is implemented by ports that can drop stale input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Opener opens a fresh Port.
type Opener func(ctx context.Context) (Port, error)

// NewOpener returns the opener for cfg.Transport.
func NewOpener(cfg Config) (Opener, error) {
	switch cfg.Transport {
	case TransportSerial:
		mode, err := cfg.serialMode()
		if err != nil {
			return nil, err
		}
		return SerialOpener(cfg.Port, mode), nil
	case TransportTCP:
		return TCPOpener(cfg.Address, cfg.Timeout), nil
	default:
		return nil, errors.New().WithData(ErrInvalidConfig, cfg.Transport)
	}
}

// SerialOpener opens the named serial device.
func SerialOpener(name string, mode *serial.Mode) Opener {
	return func(context.Context) (Port, error) {
		p, err := serial.Open(name, mode)
		if err != nil {
			return nil, errors.New().Wrap(ErrOpenFailed, err).WithData(name)
		}
		return p, nil
	}
}

// TCPOpener dials a serial-over-TCP gateway.
func TCPOpener(address string, timeout time.Duration) Opener {
	return func(ctx context.Context) (Port, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, errors.New().Wrap(ErrOpenFailed, err)
		}
		return &tcpPort{Conn: conn}, nil
	}
}

type tcpPort struct {
	net.Conn
}

func (p *tcpPort) SetReadTimeout(t time.Duration) error {
	if t <= 0 {
		return p.Conn.SetReadDeadline(time.Time{})
	}
	return p.Conn.SetReadDeadline(time.Now().Add(t))
}
