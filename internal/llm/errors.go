package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a model call failure.
type Kind string

const (
	KindAuth              Kind = "auth"
	KindRateLimited       Kind = "rate-limited"
	KindTimeout           Kind = "timeout"
	KindNetwork           Kind = "network"
	KindServer            Kind = "server"
	KindMalformedResponse Kind = "malformed-response"
	KindInvalidRequest    Kind = "invalid-request"
	KindExhaustedRetries  Kind = "exhausted-retries"
)

// ModelError is a terminal model client failure.
type ModelError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ModelError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("model call failed (%s, %d attempts): %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("model call failed (%s): %v", e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Transient reports whether a failure kind may be retried. This is the
// single classification point shared by the client and its tests.
func Transient(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindTimeout, KindNetwork, KindServer, KindMalformedResponse:
		return true
	default:
		return false
	}
}

// classifyStatus maps a non-200 HTTP status to a failure kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return KindInvalidRequest
	case status >= 500:
		return KindServer
	default:
		return KindNetwork
	}
}

// classifyTransport maps a transport-level error to a failure kind.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
