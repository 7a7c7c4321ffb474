package mail

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the mail provider. Status and Body are
// preserved verbatim so operators can diagnose provider-side failures.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mail api error: status %d: %s", e.Status, e.Body)
}

// Auth reports whether the failure is an authentication/authorization error.
// Auth failures are fatal and must not be retried.
func (e *APIError) Auth() bool {
	return e.Status == 401 || e.Status == 403
}

// Retryable reports whether the failure is transient. 5xx responses are
// retryable; 4xx responses (auth included) are not.
func (e *APIError) Retryable() bool {
	return e.Status >= 500
}

// IsRetryable classifies any error from this package. Network-level errors
// (no APIError in the chain) count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// IsAuth reports whether the error chain contains an auth failure.
func IsAuth(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Auth()
}
