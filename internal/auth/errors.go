package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrValidation         = errors.New("validation error")
	ErrUnknown            = errors.New("request failed")
	ErrNoCredentials      = errors.New("no stored credentials")
)

// APIError is a classified failure of a call against the inventory API.
// errors.Is matches it against its Kind.
type APIError struct {
	Kind    error
	Status  int
	Message string
	URL     string
	Err     error
}

func (e *APIError) Error() string {
	switch {
	case e.Kind == ErrBackendUnreachable:
		return fmt.Sprintf("cannot connect to backend server; make sure the inventory API is running at %s", e.URL)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%v (status %d)", e.Kind, e.Status)
	default:
		return e.Kind.Error()
	}
}

func (e *APIError) Is(target error) bool {
	return e.Kind == target
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy sentinel of err, or ErrUnknown when err is not
// classified.
func Kind(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind != nil {
		return apiErr.Kind
	}
	for _, k := range []error{ErrInvalidCredentials, ErrUnauthorized, ErrBackendUnreachable, ErrValidation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}
