package errors

import (
	"errors"
	"fmt"
)

// Basic error check functions from standard library
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// appError implements the Error interface
type appError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *appError) Error() string {
	msg := e.message
	if msg == "" {
		msg = GetErrorMessage(e.code)
	}

	if e.data != nil {
		return fmt.Sprintf("%s: %v", msg, e.data)
	}

	if e.err != nil {
		return fmt.Sprintf("%s: %v", msg, e.err)
	}

	return msg
}

func (e *appError) Code() ErrorCode {
	return e.code
}

func (e *appError) Category() Category {
	return GetCategory(e.code)
}

func (e *appError) WithMessage(msg string) Error {
	return &appError{
		code:    e.code,
		message: msg,
		err:     e.err,
		data:    e.data,
	}
}

func (e *appError) WithData(data any) Error {
	return &appError{
		code:    e.code,
		message: e.message,
		err:     e.err,
		data:    data,
	}
}

func (e *appError) GetData() any {
	return e.data
}

func (e *appError) Unwrap() error {
	return e.err
}

// Is reports whether target is an Error carrying the same code.
func (e *appError) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code() == e.code
}

type defaultFactory struct{}

func (*defaultFactory) New(code ErrorCode) Error {
	return &appError{
		code: code,
	}
}

func (*defaultFactory) Wrap(code ErrorCode, err error) Error {
	return &appError{
		code: code,
		err:  err,
	}
}

func (*defaultFactory) WithMessage(code ErrorCode, msg string) Error {
	return &appError{
		code:    code,
		message: msg,
	}
}

func (*defaultFactory) WithData(code ErrorCode, data any) Error {
	return &appError{
		code: code,
		data: data,
	}
}

// New creates a Factory instance for error creation
func New() Factory {
	return &defaultFactory{}
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(Error); ok && e.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}

	return false
}

// CategoryOf returns the category of the outermost domain error in err's
// chain, or CategoryInternal when the chain carries none.
func CategoryOf(err error) Category {
	var e Error
	if errors.As(err, &e) {
		return e.Category()
	}

	return CategoryInternal
}

// hasCategory reports whether any domain error in err's chain belongs to c.
func hasCategory(err error, c Category) bool {
	for err != nil {
		if e, ok := err.(Error); ok && e.Category() == c {
			return true
		}
		err = errors.Unwrap(err)
	}

	return false
}

// IsLinkFault reports whether err was caused by the register link.
func IsLinkFault(err error) bool {
	return hasCategory(err, CategoryLink)
}

// IsControllerError reports whether err originates in the decision layer.
func IsControllerError(err error) bool {
	return hasCategory(err, CategoryController)
}

// IsValidationError reports whether err is a recoverable limit violation.
func IsValidationError(err error) bool {
	return hasCategory(err, CategoryValidation)
}
