package session

import (
	"errors"
	"fmt"
)

// ErrModelInvocation matches every *ModelInvocationError via errors.Is.
var ErrModelInvocation = errors.New("model invocation failed")

// ModelInvocationError reports a failed or timed-out model call. No turns
// are written when it is returned.
type ModelInvocationError struct {
	Err error
	// Transient is set when retrying the same turn might succeed.
	Transient bool
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation: %v", e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

func (e *ModelInvocationError) Is(target error) bool { return target == ErrModelInvocation }
