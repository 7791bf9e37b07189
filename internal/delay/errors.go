package delay

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("delay_invalid_config")
)

func init() {
	errors.Register(ErrInvalidConfig, errors.CategoryInternal, "Invalid startup delay configuration")
}
