package errors

// ErrorCode represents a unique identifier for each error type
type ErrorCode string

// Error represents a domain-specific error with context
type Error interface {
	error
	Code() ErrorCode
}

// Factory defines methods for creating coded errors
type Factory interface {
	New(code ErrorCode) *AppError
	Wrap(code ErrorCode, err error) *AppError
	WithMessage(code ErrorCode, msg string) *AppError
	WithData(code ErrorCode, data any) *AppError
}
