package vonage

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the provider's REST API
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: status %d: %s", e.Status, e.Body)
}

// TransientError marks failures worth retrying: network errors and
// 5xx/429 responses. Everything else is permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
