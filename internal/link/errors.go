package link

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	// Transport Errors
	ErrNotConnected      = errors.ErrorCode("link_not_connected")
	ErrOpenFailed        = errors.ErrorCode("link_open_failed")
	ErrTimeout           = errors.ErrorCode("link_timeout")
	ErrIO                = errors.ErrorCode("link_io_failed")
	ErrReconnectRequired = errors.ErrorCode("link_reconnect_required")
	ErrSequenceStep      = errors.ErrorCode("link_sequence_step_failed")

	// Lifecycle Errors
	ErrConnectCancelled = errors.ErrorCode("link_connect_cancelled")
	ErrInvalidConfig    = errors.ErrorCode("link_invalid_config")
)

func init() {
	errors.Register(ErrNotConnected, errors.CategoryLink, "Link is not connected")
	errors.Register(ErrOpenFailed, errors.CategoryLink, "Failed to open link transport")
	errors.Register(ErrTimeout, errors.CategoryLink, "Link response timed out")
	errors.Register(ErrIO, errors.CategoryLink, "Link I/O failed")
	errors.Register(ErrReconnectRequired, errors.CategoryLink, "Link must be reconnected")
	errors.Register(ErrSequenceStep, errors.CategoryLink, "Maintenance write sequence step failed")
	errors.Register(ErrConnectCancelled, errors.CategoryInternal, "Link connect cancelled")
	errors.Register(ErrInvalidConfig, errors.CategoryInternal, "Invalid link configuration")
}
