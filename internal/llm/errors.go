package llm

import (
	"errors"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/antoniostano/relay/internal/reliability"
)

// IsTransient reports whether a failed invocation might succeed if retried.
// Rate limits, 5xx answers and connection timeouts are transient; auth and
// request errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.Code)
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return reliability.IsRetryableHTTPStatus(ae.StatusCode)
	}
	return reliability.IsTransientNetError(err)
}
