// Package engine bridges the upstream conversational service: it resolves a
// session cookie into an identity, mints short-lived bearer tokens, opens
// remote chat sessions, and translates the chat event stream.
package engine

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ctobridge/ctobridge/pkg/config"
)

const (
	// Query parameters the identity provider's browser client sends; the
	// upstream rejects requests without them.
	clerkAPIVersion      = "2025-04-10"
	clerkJSVersion       = "5.102.0"
	clerkTokensJSVersion = "5.101.1"

	browserUserAgent = "Mozilla/5.0"

	maxErrorBodyBytes = 2048
)

// Identity is the session/user pair resolved from one cookie. The UserToken
// doubles as the event channel's access token.
type Identity struct {
	SessionID string
	UserToken string
}

type Client struct {
	clerkBaseURL string
	apiBaseURL   string
	wsBaseURL    string
	origin       string
	idleTimeout  time.Duration

	httpClient *http.Client
}

func NewClient(cfg config.UpstreamConfig, stream config.StreamConfig) *Client {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	idle := stream.IdleTimeoutSeconds
	if idle <= 0 {
		idle = 120
	}
	return &Client{
		clerkBaseURL: strings.TrimRight(cfg.ClerkBaseURL, "/"),
		apiBaseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		wsBaseURL:    strings.TrimRight(cfg.WSBaseURL, "/"),
		origin:       strings.TrimRight(cfg.Origin, "/"),
		idleTimeout:  time.Duration(idle) * time.Second,
		httpClient:   &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return strings.TrimSpace(string(b))
}
