package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/ctobridge/ctobridge/pkg/config"
)

func newTestClient(srvURL string) *Client {
	return NewClient(config.UpstreamConfig{
		ClerkBaseURL:   srvURL,
		APIBaseURL:     srvURL,
		WSBaseURL:      "ws" + srvURL[len("http"):],
		Origin:         "https://cto.new",
		TimeoutSeconds: 5,
	}, config.StreamConfig{IdleTimeoutSeconds: 2})
}

func TestResolveIdentityParsesSessionAndUser(t *testing.T) {
	var gotCookie, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/me/organization_memberships" {
			http.NotFound(w, r)
			return
		}
		gotCookie = r.Header.Get("Cookie")
		gotVersion = r.URL.Query().Get("__clerk_api_version")
		_, _ = w.Write([]byte(`{"client":{"last_active_session_id":"sess_1","sessions":[{"user":{"id":"user_9"}}]}}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).ResolveIdentity(context.Background(), "__client=abc")
	if err != nil {
		t.Fatalf("ResolveIdentity: %v", err)
	}
	if id.SessionID != "sess_1" || id.UserToken != "user_9" {
		t.Fatalf("identity = %+v, want sess_1/user_9", id)
	}
	if gotCookie != "__client=abc" {
		t.Fatalf("cookie header = %q", gotCookie)
	}
	if gotVersion != "2025-04-10" {
		t.Fatalf("clerk api version = %q", gotVersion)
	}
}

func TestResolveIdentityUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ResolveIdentity(context.Background(), "stale")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if ue.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", ue.Status)
	}
	if !IsAuthError(err) {
		t.Fatal("401 should classify as auth error")
	}
}

func TestResolveIdentityProtocolError(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing session id", `{"client":{"sessions":[{"user":{"id":"user_9"}}]}}`},
		{"missing sessions", `{"client":{"last_active_session_id":"sess_1","sessions":[]}}`},
		{"not json", `<html>cloudflare</html>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).ResolveIdentity(context.Background(), "c")
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProtocolError, got %T: %v", err, err)
			}
		})
	}
}

func TestMintTokenReturnsJWT(t *testing.T) {
	var gotPath, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"jwt":"tok-123"}`))
	}))
	defer srv.Close()

	tok, err := newTestClient(srv.URL).MintToken(context.Background(), "sess_1", "cookie")
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if tok != "tok-123" {
		t.Fatalf("token = %q", tok)
	}
	if gotPath != "/v1/client/sessions/sess_1/tokens" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("content type = %q", gotContentType)
	}
}

func TestMintTokenMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"token"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).MintToken(context.Background(), "sess_1", "cookie")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %T: %v", err, err)
	}
}

func TestOpenChatSendsFirstMessage(t *testing.T) {
	type chatBody struct {
		Prompt        string `json:"prompt"`
		ChatHistoryID string `json:"chatHistoryId"`
		AdapterName   string `json:"adapterName"`
	}
	var got chatBody
	var gotAuth, gotOrigin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/engine-agent/chat" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotOrigin = r.Header.Get("Origin")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode chat body: %v", err)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	chatID, err := newTestClient(srv.URL).OpenChat(context.Background(), "bearer-tok", "hello there", "GPT5")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if _, err := uuid.Parse(chatID); err != nil {
		t.Fatalf("chat id %q is not a uuid: %v", chatID, err)
	}
	if got.ChatHistoryID != chatID {
		t.Fatalf("chatHistoryId = %q, want %q", got.ChatHistoryID, chatID)
	}
	if got.Prompt != "hello there" || got.AdapterName != "GPT5" {
		t.Fatalf("body = %+v", got)
	}
	if gotAuth != "Bearer bearer-tok" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotOrigin != "https://cto.new" {
		t.Fatalf("origin = %q", gotOrigin)
	}
}

func TestSendMessageUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exhausted", http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendMessage(context.Background(), "tok", "chat-1", "hi", "GPT5")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if ue.Status != http.StatusForbidden || ue.Body != "quota exhausted" {
		t.Fatalf("error = %+v", ue)
	}
}

func TestIsAuthErrorOnlyForAuthStatuses(t *testing.T) {
	if IsAuthError(&UpstreamError{Status: http.StatusInternalServerError}) {
		t.Fatal("500 must not classify as auth error")
	}
	if IsAuthError(errors.New("plain")) {
		t.Fatal("plain error must not classify as auth error")
	}
	if !IsAuthError(&UpstreamError{Status: http.StatusForbidden}) {
		t.Fatal("403 should classify as auth error")
	}
}
