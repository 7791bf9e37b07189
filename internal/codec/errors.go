package codec

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	ErrInvalidStep  = errors.ErrorCode("codec_invalid_step")
	ErrNotFinite    = errors.ErrorCode("codec_value_not_finite")
	ErrOutOfRange   = errors.ErrorCode("speed_out_of_range")
	ErrNotEncodable = errors.ErrorCode("codec_value_not_encodable")
)

func init() {
	errors.Register(ErrInvalidStep, errors.CategoryInternal, "Calibration step must be positive")
	errors.Register(ErrNotFinite, errors.CategoryController, "Speed is not a finite number")
	errors.Register(ErrOutOfRange, errors.CategoryValidation, "Speed outside configured limits")
	errors.Register(ErrNotEncodable, errors.CategoryValidation, "Speed does not fit in a register")
}
