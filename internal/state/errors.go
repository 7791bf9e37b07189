package state

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	ErrInvalidTransition = errors.ErrorCode("state_invalid_transition")
)

func init() {
	errors.Register(ErrInvalidTransition, errors.CategoryValidation, "Event not valid in current state")
}
