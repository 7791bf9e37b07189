package config

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrReadConfig      = errors.ErrReadConfig
	ErrBindFlags       = errors.ErrBindFlags
	ErrInvalidLogLevel = errors.ErrInvalidLogLevel
	ErrParseFlags      = errors.ErrorCode("config_parse_flags_failed")
	ErrUnmarshal       = errors.ErrorCode("config_unmarshal_failed")
	ErrInvalidWrite    = errors.ErrorCode("config_invalid_maintenance_write")
)

func init() {
	errors.Register(ErrParseFlags, errors.CategoryInternal, "Failed to parse command line flags")
	errors.Register(ErrUnmarshal, errors.CategoryInternal, "Failed to decode configuration")
	errors.Register(ErrInvalidWrite, errors.CategoryInternal, "Maintenance write must be ADDR=VALUE")
}
