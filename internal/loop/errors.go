package loop

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	ErrInvalidConfig     = errors.ErrorCode("loop_invalid_config")
	ErrCommandQueueFull  = errors.ErrorCode("loop_command_queue_full")
	ErrTelemetryTooShort = errors.ErrorCode("loop_telemetry_block_too_short")
)

func init() {
	errors.Register(ErrInvalidConfig, errors.CategoryInternal, "Invalid control loop configuration")
	errors.Register(ErrCommandQueueFull, errors.CategoryInternal, "Operator command queue is full")
	errors.Register(ErrTelemetryTooShort, errors.CategoryInternal, "Telemetry block does not cover every mapped field")
}
