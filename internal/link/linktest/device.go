// Package linktest provides a simulated PLC that answers Modbus RTU
// requests over an in-memory port, with injectable faults.
package linktest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"codeberg.org/mutker/sawctl/internal/link"
	"codeberg.org/mutker/sawctl/internal/modbus"
)

// ErrOpen is returned by the opener while opens are being failed.
var ErrOpen = errors.New("simulated open failure")

type timeoutError struct{}

func (timeoutError) Error() string   { return "simulated read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Device is a register file behind a fake transport.
type Device struct {
	mu sync.Mutex
	id byte

	regs   map[uint16]uint16
	writes []modbus.WriteRequest
	reads  int
	opens  int
	closes int

	timeoutReads  int
	timeoutWrites int
	corrupt       int
	failOpens     int
	exception     byte
}

// NewDevice returns a device answering to unit id.
func NewDevice(id byte) *Device {
	return &Device{id: id, regs: make(map[uint16]uint16)}
}

// Set stores value at addr.
func (d *Device) Set(addr, value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[addr] = value
}

// SetBlock stores values at consecutive addresses from start.
func (d *Device) SetBlock(start uint16, values []uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range values {
		d.regs[start+uint16(i)] = v
	}
}

// Get returns the value at addr.
func (d *Device) Get(addr uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[addr]
}

// Writes returns every acknowledged write in order.
func (d *Device) Writes() []modbus.WriteRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]modbus.WriteRequest, len(d.writes))
	copy(out, d.writes)
	return out
}

// Reads returns the number of read requests received.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Opens returns how many ports were opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many ports were closed.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// TimeoutReads makes the next n read requests go unanswered.
func (d *Device) TimeoutReads(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeoutReads = n
}

// TimeoutWrites makes the next n write requests go unanswered.
func (d *Device) TimeoutWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeoutWrites = n
}

// CorruptResponses flips a bit in the checksum of the next n responses.
func (d *Device) CorruptResponses(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt = n
}

// RaiseException answers the next request with exception code.
func (d *Device) RaiseException(code byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exception = code
}

// FailOpens makes the next n opens fail.
func (d *Device) FailOpens(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpens = n
}

// Opener returns a link.Opener connected to d.
func (d *Device) Opener() link.Opener {
	return func(context.Context) (link.Port, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.failOpens > 0 {
			d.failOpens--
			return nil, ErrOpen
		}
		d.opens++
		return &port{dev: d}, nil
	}
}

// handle answers one request frame. A nil response means no answer.
func (d *Device) handle(req []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(req) != modbus.WriteFrameSize || !modbus.Verify(req) || req[0] != d.id {
		return nil
	}

	addr := binary.BigEndian.Uint16(req[2:4])
	arg := binary.BigEndian.Uint16(req[4:6])

	var resp []byte
	if d.exception != 0 {
		resp = modbus.BuildException(d.id, req[1], d.exception)
		d.exception = 0
		return resp
	}

	switch req[1] {
	case modbus.FuncReadHoldingRegisters:
		d.reads++
		if d.timeoutReads > 0 {
			d.timeoutReads--
			return nil
		}
		values := make([]uint16, arg)
		for i := range values {
			values[i] = d.regs[addr+uint16(i)]
		}
		resp = modbus.BuildReadResponse(d.id, values)
	case modbus.FuncWriteSingleRegister:
		if d.timeoutWrites > 0 {
			d.timeoutWrites--
			return nil
		}
		d.regs[addr] = arg
		d.writes = append(d.writes, modbus.WriteRequest{Address: addr, Value: arg})
		resp = append([]byte(nil), req...)
	default:
		resp = modbus.BuildException(d.id, req[1], 0x01)
	}

	if d.corrupt > 0 {
		d.corrupt--
		resp[len(resp)-1] ^= 0x01
	}

	return resp
}

type port struct {
	mu     sync.Mutex
	dev    *Device
	buf    bytes.Buffer
	closed bool
}

func (p *port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if resp := p.dev.handle(b); resp != nil {
		p.buf.Write(resp)
	}
	return len(b), nil
}

func (p *port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.buf.Len() == 0 {
		return 0, timeoutError{}
	}
	return p.buf.Read(b)
}

func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.dev.mu.Lock()
		p.dev.closes++
		p.dev.mu.Unlock()
	}
	return nil
}

func (p *port) SetReadTimeout(time.Duration) error { return nil }

func (p *port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	return nil
}
