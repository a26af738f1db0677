package gateway

import "errors"

type ErrKind string

const (
	ErrKindTimeout     ErrKind = "timeout"
	ErrKindUnreachable ErrKind = "unreachable"
	ErrKindRejected    ErrKind = "rejected"
)

// GatewayError classifies every failure mode of the external payment API.
// Timeout and Unreachable are retryable; Rejected carries the gateway's own
// message and is not.
type GatewayError struct {
	Kind   ErrKind
	Reason string
}

func (e *GatewayError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Reason
}

func Rejected(reason string) *GatewayError {
	return &GatewayError{Kind: ErrKindRejected, Reason: reason}
}

// IsRetryable reports whether the error is transient (timeout or unreachable).
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind == ErrKindTimeout || gwErr.Kind == ErrKindUnreachable
	}
	return false
}

// RejectionReason extracts the gateway's message from a Rejected error.
func RejectionReason(err error) (string, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.Kind == ErrKindRejected {
		return gwErr.Reason, true
	}
	return "", false
}
