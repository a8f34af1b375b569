package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
)

type chatRequest struct {
	Prompt        string `json:"prompt"`
	ChatHistoryID string `json:"chatHistoryId"`
	AdapterName   string `json:"adapterName"`
}

// OpenChat creates a fresh remote chat session and sends the first message
// into it. The chat id is generated locally; the upstream accepts any unique
// identifier, so no coordination is needed.
func (c *Client) OpenChat(ctx context.Context, token, prompt, adapter string) (string, error) {
	chatID := uuid.NewString()
	if err := c.SendMessage(ctx, token, chatID, prompt, adapter); err != nil {
		return "", err
	}
	return chatID, nil
}

// SendMessage posts one prompt into an existing chat session. The upstream
// starts producing streamed output for the session id as a side effect; the
// HTTP response carries no acknowledgment worth waiting on.
func (c *Client) SendMessage(ctx context.Context, token, chatID, prompt, adapter string) error {
	body, err := json.Marshal(chatRequest{
		Prompt:        prompt,
		ChatHistoryID: chatID,
		AdapterName:   adapter,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/engine-agent/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.origin)
	req.Header.Set("Referer", c.origin)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: "send message", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
