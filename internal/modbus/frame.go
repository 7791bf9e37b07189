package modbus

import (
	"encoding/binary"

	"codeberg.org/mutker/sawctl/internal/errors"
)

// Function codes used by the saw controller. Nothing else is spoken.
const (
	FuncReadHoldingRegisters byte = 0x03
	FuncWriteSingleRegister  byte = 0x06

	exceptionFlag byte = 0x80
)

const (
	// WriteFrameSize is the size of a single-register write request and of
	// its echoed response.
	WriteFrameSize = 8
	// ExceptionFrameSize is address, function|0x80, exception code, CRC.
	ExceptionFrameSize = 5
	// MaxReadCount is the largest register count one read may request.
	MaxReadCount = 125

	readHeaderSize = 3
	crcSize        = 2
)

// Exception describes an exception response from the device.
type Exception struct {
	Function byte
	Code     byte
}

// WriteRequest is one single-register write.
type WriteRequest struct {
	Address uint16
	Value   uint16
}

// BuildWriteSingle builds the 8-byte request writing value to register addr.
func BuildWriteSingle(device byte, addr, value uint16) []byte {
	frame := make([]byte, 6, WriteFrameSize)
	frame[0] = device
	frame[1] = FuncWriteSingleRegister
	binary.BigEndian.PutUint16(frame[2:4], addr)
	binary.BigEndian.PutUint16(frame[4:6], value)
	return AppendCRC(frame)
}

// BuildReadHolding builds the 8-byte request reading count registers from addr.
func BuildReadHolding(device byte, addr, count uint16) ([]byte, error) {
	if count == 0 || count > MaxReadCount {
		return nil, errors.New().WithData(ErrInvalidCount, count)
	}
	frame := make([]byte, 6, WriteFrameSize)
	frame[0] = device
	frame[1] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(frame[2:4], addr)
	binary.BigEndian.PutUint16(frame[4:6], count)
	return AppendCRC(frame), nil
}

// ReadResponseSize is the full length of a successful read response.
func ReadResponseSize(count uint16) int {
	return readHeaderSize + 2*int(count) + crcSize
}

// IsException reports whether a response header carries the exception flag.
func IsException(function byte) bool {
	return function&exceptionFlag != 0
}

// ParseWriteResponse validates the echo of a single-register write.
func ParseWriteResponse(device byte, addr, value uint16, resp []byte) error {
	errFactory := errors.New()

	if err := checkException(device, FuncWriteSingleRegister, resp); err != nil {
		return err
	}
	if len(resp) != WriteFrameSize {
		return errFactory.WithData(ErrFrameLength, lengthData(WriteFrameSize, len(resp)))
	}
	if !Verify(resp) {
		return errFactory.New(ErrFrameChecksum)
	}
	if resp[0] != device || resp[1] != FuncWriteSingleRegister {
		return errFactory.WithData(ErrFrameMismatch, struct {
			Device   byte
			Function byte
		}{resp[0], resp[1]})
	}
	gotAddr := binary.BigEndian.Uint16(resp[2:4])
	gotValue := binary.BigEndian.Uint16(resp[4:6])
	if gotAddr != addr || gotValue != value {
		return errFactory.WithData(ErrFrameMismatch, struct {
			Address uint16
			Value   uint16
		}{gotAddr, gotValue})
	}

	return nil
}

// ParseReadResponse validates a read response and returns its registers.
func ParseReadResponse(device byte, count uint16, resp []byte) ([]uint16, error) {
	errFactory := errors.New()

	if err := checkException(device, FuncReadHoldingRegisters, resp); err != nil {
		return nil, err
	}
	want := ReadResponseSize(count)
	if len(resp) != want {
		return nil, errFactory.WithData(ErrFrameLength, lengthData(want, len(resp)))
	}
	if !Verify(resp) {
		return nil, errFactory.New(ErrFrameChecksum)
	}
	if resp[0] != device || resp[1] != FuncReadHoldingRegisters || int(resp[2]) != 2*int(count) {
		return nil, errFactory.WithData(ErrFrameMismatch, struct {
			Device    byte
			Function  byte
			ByteCount byte
		}{resp[0], resp[1], resp[2]})
	}

	values := make([]uint16, count)
	for i := range values {
		offset := readHeaderSize + 2*i
		values[i] = binary.BigEndian.Uint16(resp[offset : offset+2])
	}

	return values, nil
}

// BuildReadResponse builds the response a device sends for a read. It is
// the inverse of ParseReadResponse and is used by simulators and tests.
func BuildReadResponse(device byte, values []uint16) []byte {
	frame := make([]byte, readHeaderSize, ReadResponseSize(uint16(len(values))))
	frame[0] = device
	frame[1] = FuncReadHoldingRegisters
	frame[2] = byte(2 * len(values))
	for _, v := range values {
		frame = binary.BigEndian.AppendUint16(frame, v)
	}
	return AppendCRC(frame)
}

// BuildException builds an exception response for function.
func BuildException(device, function, code byte) []byte {
	return AppendCRC([]byte{device, function | exceptionFlag, code})
}

func checkException(device, function byte, resp []byte) error {
	if len(resp) < 2 || !IsException(resp[1]) {
		return nil
	}

	errFactory := errors.New()
	if len(resp) != ExceptionFrameSize {
		return errFactory.WithData(ErrFrameLength, lengthData(ExceptionFrameSize, len(resp)))
	}
	if !Verify(resp) {
		return errFactory.New(ErrFrameChecksum)
	}
	if resp[0] != device || resp[1]&^exceptionFlag != function {
		return errFactory.WithData(ErrFrameMismatch, struct {
			Device   byte
			Function byte
		}{resp[0], resp[1]})
	}

	return errFactory.WithData(ErrFrameException, Exception{Function: function, Code: resp[2]})
}

func lengthData(want, got int) any {
	return struct {
		Want int
		Got  int
	}{want, got}
}
