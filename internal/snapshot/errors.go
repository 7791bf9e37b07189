package snapshot

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	ErrUnknownField   = errors.ErrorCode("snapshot_unknown_field")
	ErrDuplicateField = errors.ErrorCode("snapshot_duplicate_field")
	ErrInvalidSpec    = errors.ErrorCode("snapshot_invalid_field_spec")
)

func init() {
	errors.Register(ErrUnknownField, errors.CategoryInternal, "Unknown telemetry field")
	errors.Register(ErrDuplicateField, errors.CategoryInternal, "Telemetry field mapped twice")
	errors.Register(ErrInvalidSpec, errors.CategoryInternal, "Invalid telemetry field mapping")
}
