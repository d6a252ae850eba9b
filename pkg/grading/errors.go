package grading

import "errors"

type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindCrashed        ErrorKind = "crashed"
	KindInvalidPayload ErrorKind = "invalid_payload"
)

// InvocationError is the structured failure of one autograder call. The
// invoker never retries; the orchestrator owns the retry policy.
type InvocationError struct {
	Kind   ErrorKind
	Detail string
}

func (e *InvocationError) Error() string {
	return "grading invocation failed (" + string(e.Kind) + "): " + e.Detail
}

func AsInvocationError(err error) (*InvocationError, bool) {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr, true
	}
	return nil, false
}
