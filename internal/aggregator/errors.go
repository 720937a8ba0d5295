package aggregator

import (
	"errors"
	"fmt"
)

var (
	ErrTransport         = errors.New("transport failure")
	ErrRejected          = errors.New("payment intent rejected")
	ErrMalformedResponse = errors.New("malformed response")
	ErrMissingRedirect   = errors.New("checkout url missing from response")
)

// InitiationError describes why a payment intent could not be opened.
// Kind is one of the sentinel errors above and matches with errors.Is.
type InitiationError struct {
	Kind       error
	StatusCode int
	Message    string
	Err        error
}

func (e *InitiationError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%v (%d): %s", e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%v (%d)", e.Kind, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return e.Kind.Error()
}

func (e *InitiationError) Is(target error) bool {
	return target == e.Kind
}

func (e *InitiationError) Unwrap() error {
	return e.Err
}
