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
	Join   = errors.Join
)

// AppError is the generic coded error used for infrastructure failures
// (configuration, storage, rendering). Domain packages define their own
// typed errors that also satisfy Error.
type AppError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *AppError) Error() string {
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

func (e *AppError) Code() ErrorCode {
	return e.code
}

func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		code:    e.code,
		message: msg,
		err:     e.err,
		data:    e.data,
	}
}

func (e *AppError) WithData(data any) *AppError {
	return &AppError{
		code:    e.code,
		message: e.message,
		err:     e.err,
		data:    data,
	}
}

func (e *AppError) GetData() any {
	return e.data
}

func (e *AppError) Unwrap() error {
	return e.err
}

type defaultFactory struct{}

func (*defaultFactory) New(code ErrorCode) *AppError {
	return &AppError{
		code: code,
	}
}

func (*defaultFactory) Wrap(code ErrorCode, err error) *AppError {
	return &AppError{
		code: code,
		err:  err,
	}
}

func (*defaultFactory) WithMessage(code ErrorCode, msg string) *AppError {
	return &AppError{
		code:    code,
		message: msg,
	}
}

func (*defaultFactory) WithData(code ErrorCode, data any) *AppError {
	return &AppError{
		code: code,
		data: data,
	}
}

// New creates a Factory instance for error creation
func New() Factory {
	return &defaultFactory{}
}

// CodeOf returns the code of the first coded error in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var coded Error
	if errors.As(err, &coded) {
		return coded.Code()
	}

	return ErrInternal
}
