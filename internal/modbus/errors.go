package modbus

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	// Frame Errors
	ErrFrameLength    = errors.ErrorCode("link_frame_length")
	ErrFrameChecksum  = errors.ErrorCode("link_checksum_mismatch")
	ErrFrameMismatch  = errors.ErrorCode("link_frame_mismatch")
	ErrFrameException = errors.ErrorCode("link_device_exception")

	// Request Errors
	ErrInvalidCount = errors.ErrorCode("modbus_invalid_register_count")
)

func init() {
	errors.Register(ErrFrameLength, errors.CategoryLink, "Response frame has unexpected length")
	errors.Register(ErrFrameChecksum, errors.CategoryLink, "Response frame checksum mismatch")
	errors.Register(ErrFrameMismatch, errors.CategoryLink, "Response frame does not match request")
	errors.Register(ErrFrameException, errors.CategoryLink, "Device returned an exception")
	errors.Register(ErrInvalidCount, errors.CategoryInternal, "Invalid register count")
}
