package errors

// ErrorCode represents a unique identifier for each error type
type ErrorCode string

// Category groups error codes by the recovery policy that applies to them
type Category string

const (
	// CategoryInternal covers everything that is neither a fault of the
	// register link nor of the decision layer.
	CategoryInternal Category = "internal"
	// CategoryLink is a LinkFault: recovered by disconnect and reconnect.
	CategoryLink Category = "link"
	// CategoryController is a ControllerError: the state machine moves to
	// Error and writes stop until reset.
	CategoryController Category = "controller"
	// CategoryValidation is a ValidationError: recovered locally by clamping.
	CategoryValidation Category = "validation"
)

// Error represents a domain-specific error with context
type Error interface {
	error
	Code() ErrorCode
	Category() Category
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory defines methods for creating domain errors
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
