package engine

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// UpstreamError is any non-success response from the identity provider or
// the chat API. The body is captured (capped) for the logs.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Body)
}

// ProtocolError is a successful upstream response that lacks an expected
// field. Malformed stream frames are NOT protocol errors; those are skipped.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected upstream response: %s", e.Op, e.Detail)
}

// TimeoutError reports an event channel that went idle past the configured
// deadline without delivering the terminal state event.
type TimeoutError struct {
	ChatID string
	Idle   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("chat %s: event stream idle for %s", e.ChatID, e.Idle)
}

// IsAuthError reports whether err looks like a rejected credential, in which
// case the caller may retry the pipeline with the next pooled cookie.
func IsAuthError(err error) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	return ue.Status == http.StatusUnauthorized || ue.Status == http.StatusForbidden
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
