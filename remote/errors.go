package remote

import (
	"errors"
	"fmt"
)

// Error kinds every remote failure is classified into.
var (
	ErrTransportFailure     = errors.New("transport failure")
	ErrUnsuccessfulResponse = errors.New("unsuccessful response")
	ErrMalformedPayload     = errors.New("malformed payload")
)

// RequestError describes a failed API operation.
type RequestError struct {
	Op     string
	Kind   error
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Op + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *RequestError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns a short label for the error kind, suitable for logs and
// metric labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransportFailure):
		return "transport"
	case errors.Is(err, ErrUnsuccessfulResponse):
		return "unsuccessful"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	default:
		return "unknown"
	}
}

func transportError(op string, err error) error {
	return &RequestError{Op: op, Kind: ErrTransportFailure, Err: err}
}

func unsuccessfulError(op string, status int, body string) error {
	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	return &RequestError{Op: op, Kind: ErrUnsuccessfulResponse, Status: status, Err: cause}
}

func malformedError(op string, status int, err error) error {
	return &RequestError{Op: op, Kind: ErrMalformedPayload, Status: status, Err: err}
}
