package controller

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig   = errors.ErrorCode("controller_invalid_config")
	ErrUnknownStrategy = errors.ErrorCode("controller_unknown_strategy")

	// Decision Errors
	ErrInvalidCoefficient = errors.ErrorCode("controller_invalid_coefficient")
	ErrMissingInput       = errors.ErrorCode("controller_missing_input")
	ErrEncodeFailed       = errors.ErrorCode("controller_encode_failed")
	ErrWriteFailed        = errors.ErrorCode("controller_write_failed")

	// Limit Errors
	ErrSpeedClamped = errors.ErrorCode("speed_clamped")
)

func init() {
	errors.Register(ErrInvalidConfig, errors.CategoryController, "Invalid controller configuration")
	errors.Register(ErrUnknownStrategy, errors.CategoryController, "Unknown controller strategy")
	errors.Register(ErrInvalidCoefficient, errors.CategoryController, "Controller produced an invalid coefficient")
	errors.Register(ErrMissingInput, errors.CategoryInternal, "Controller input not available")
	errors.Register(ErrEncodeFailed, errors.CategoryController, "Failed to encode speed command")
	errors.Register(ErrWriteFailed, errors.CategoryController, "Failed to write speed command")
	errors.Register(ErrSpeedClamped, errors.CategoryValidation, "Commanded speed outside limits")
}
