// Package link is the register link to the saw PLC: a Modbus RTU
// conversation over a serial port or a TCP gateway.
package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/modbus"
)

// headerSize is device address plus function code.
const headerSize = 2

// Link owns one Port at a time. Exchanges are serialized.
type Link struct {
	mu       sync.Mutex
	cfg      Config
	open     Opener
	port     Port
	failures int
	log      logger.Logger
}

// New returns a disconnected Link.
func New(cfg Config, open Opener, log logger.Logger) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Link{cfg: cfg, open: open, log: log.With("link")}, nil
}

// Connect opens the transport, retrying with a fixed back-off until it
// succeeds or ctx is done. It only returns an error on cancellation.
func (l *Link) Connect(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.New().Wrap(ErrConnectCancelled, err)
		}

		attempt++
		port, err := l.open(ctx)
		if err == nil {
			l.mu.Lock()
			l.port = port
			l.failures = 0
			l.mu.Unlock()

			l.log.Info().Int("attempt", attempt).Msg("Link connected")
			return nil
		}

		l.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", l.cfg.ReconnectBackoff).
			Msg("Link connect failed")

		if err := sleep(ctx, l.cfg.ReconnectBackoff); err != nil {
			return errors.New().Wrap(ErrConnectCancelled, err)
		}
	}
}

// Reconnect tears the transport down, waits one back-off and connects again.
func (l *Link) Reconnect(ctx context.Context) error {
	if err := l.Disconnect(); err != nil {
		l.log.Debug().Err(err).Msg("Close during reconnect failed")
	}

	l.log.Warn().Dur("backoff", l.cfg.ReconnectBackoff).Msg("Reconnecting link")
	if err := sleep(ctx, l.cfg.ReconnectBackoff); err != nil {
		return errors.New().Wrap(ErrConnectCancelled, err)
	}

	return l.Connect(ctx)
}

// Disconnect closes the transport. Calling it on a closed link is a no-op.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures = 0
	if l.port == nil {
		return nil
	}

	err := l.port.Close()
	l.port = nil
	if err != nil {
		return errors.New().Wrap(ErrIO, err)
	}
	return nil
}

// IsConnected reports whether a transport is open.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Read returns count consecutive holding registers starting at addr.
func (l *Link) Read(addr, count uint16) ([]uint16, error) {
	req, err := modbus.BuildReadHolding(l.cfg.DeviceID, addr, count)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	resp, err := l.exchange(req, modbus.ReadResponseSize(count))
	if err == nil {
		var values []uint16
		values, err = modbus.ParseReadResponse(l.cfg.DeviceID, count, resp)
		if err == nil {
			return values, nil
		}
	}

	return nil, l.fail(err)
}

// Write sets register addr to value and checks the echo.
func (l *Link) Write(addr, value uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.write(addr, value)
}

// WriteSequence performs the writes in order under one hold of the link,
// stopping at the first failure. It is used for the unlock, write, save
// maintenance sequence and never by the control loop.
func (l *Link) WriteSequence(steps []modbus.WriteRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, step := range steps {
		if err := l.write(step.Address, step.Value); err != nil {
			return errors.New().Wrap(ErrSequenceStep, err).WithMessage(
				fmt.Sprintf("maintenance step %d of %d failed", i+1, len(steps)))
		}
		l.log.Debug().
			Int("step", i+1).
			Uint16("register", step.Address).
			Uint16("value", step.Value).
			Msg("Maintenance write acknowledged")
	}

	return nil
}

func (l *Link) write(addr, value uint16) error {
	req := modbus.BuildWriteSingle(l.cfg.DeviceID, addr, value)

	resp, err := l.exchange(req, modbus.WriteFrameSize)
	if err == nil {
		err = modbus.ParseWriteResponse(l.cfg.DeviceID, addr, value, resp)
		if err == nil {
			l.failures = 0
			return nil
		}
	}

	return l.fail(err)
}

// fail counts an exchange failure on an open link and escalates to
// reconnect-required once the threshold is reached. Only a successful
// write or a disconnect clears the count; reads succeeding in between do
// not.
func (l *Link) fail(err error) error {
	if l.port == nil {
		return err
	}

	l.failures++
	if l.failures >= l.cfg.FailureThreshold {
		l.log.Warn().Err(err).Int("failures", l.failures).Msg("Link failure threshold reached")
		return errors.New().Wrap(ErrReconnectRequired, err)
	}

	return err
}

// exchange sends req and reads a response of want bytes, or the shorter
// exception frame when the device flags one. Must hold l.mu.
func (l *Link) exchange(req []byte, want int) ([]byte, error) {
	errFactory := errors.New()

	if l.port == nil {
		return nil, errFactory.New(ErrNotConnected)
	}

	if r, ok := l.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return nil, errFactory.Wrap(ErrIO, err)
		}
	}

	if _, err := l.port.Write(req); err != nil {
		return nil, errFactory.Wrap(ErrIO, err)
	}

	deadline := time.Now().Add(l.cfg.Timeout)
	resp := make([]byte, want)

	if err := l.readExact(resp[:headerSize], deadline); err != nil {
		return nil, err
	}

	if modbus.IsException(resp[1]) {
		resp = resp[:modbus.ExceptionFrameSize]
	}

	if err := l.readExact(resp[headerSize:], deadline); err != nil {
		return nil, err
	}

	return resp, nil
}

// readExact fills buf before deadline.
func (l *Link) readExact(buf []byte, deadline time.Time) error {
	errFactory := errors.New()

	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errFactory.WithData(ErrTimeout, struct {
				Want int
				Got  int
			}{len(buf), got})
		}

		if err := l.port.SetReadTimeout(remaining); err != nil {
			return errFactory.Wrap(ErrIO, err)
		}

		n, err := l.port.Read(buf[got:])
		got += n
		if err != nil {
			if isTimeout(err) {
				return errFactory.Wrap(ErrTimeout, err)
			}
			return errFactory.Wrap(ErrIO, err)
		}
	}

	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
