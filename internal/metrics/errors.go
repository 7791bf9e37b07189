package metrics

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidListen = errors.ErrorCode("metrics_invalid_listen_address")

	// Server Errors
	ErrServeFailed    = errors.ErrorCode("metrics_serve_failed")
	ErrServerShutdown = errors.ErrShutdownFailed
	ErrRegister       = errors.ErrorCode("metrics_register_failed")
)

func init() {
	errors.Register(ErrInvalidListen, errors.CategoryInternal, "Invalid metrics listen address")
	errors.Register(ErrServeFailed, errors.CategoryInternal, "Metrics server failed")
	errors.Register(ErrRegister, errors.CategoryInternal, "Failed to register metrics collector")
}
