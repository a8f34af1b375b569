package engine

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"
)

// streamFrame is the outer shape of an event channel message. The buffer
// field is a JSON document encoded as a string.
type streamFrame struct {
	Type   string       `json:"type"`
	Buffer string       `json:"buffer"`
	State  *streamState `json:"state"`
}

type streamState struct {
	InProgress bool `json:"inProgress"`
}

type bufferPayload struct {
	Type string `json:"type"`
	Chat struct {
		Content string `json:"content"`
	} `json:"chat"`
}

// StreamItem is one element of the lazy chunk sequence produced by
// StreamChunks. Exactly one of Chunk, Done, or Err is set; Done is the
// end-of-stream sentinel and is always the last item before the channel
// closes on a successful stream.
type StreamItem struct {
	Chunk *openai.ChatCompletionStreamResponse
	Done  bool
	Err   error
}

// Stream connects to the chat session's event channel and invokes onFragment
// for every incremental content fragment, in arrival order, until the
// terminal state event. Frames that fail to parse (outer or inner) and
// frames of unknown type are expected background noise and are skipped.
//
// Cancelling ctx closes the connection. A channel idle for longer than the
// configured idle timeout fails with *TimeoutError.
func (c *Client) Stream(ctx context.Context, chatID, userToken string, onFragment func(string) error) error {
	wsURL := c.wsBaseURL + "/engine-agent/chat-histories/" + url.PathEscape(chatID) +
		"/buffer/stream?token=" + url.QueryEscape(userToken)

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return &UpstreamError{Op: "open event channel", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
		}
		return err
	}
	defer conn.Close()

	// Propagate caller cancellation into the blocking read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &TimeoutError{ChatID: chatID, Idle: c.idleTimeout}
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Upstream hung up before the terminal state event; the
				// fragments seen so far are all we get.
				log.Warn("event channel closed before terminal state", "chat_id", chatID)
				return nil
			}
			return err
		}

		var frame streamFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "update":
			if frame.Buffer == "" {
				continue
			}
			var inner bufferPayload
			if err := json.Unmarshal([]byte(frame.Buffer), &inner); err != nil {
				continue
			}
			if inner.Type != "chat" {
				continue
			}
			if err := onFragment(inner.Chat.Content); err != nil {
				return err
			}
		case "state":
			if frame.State != nil && !frame.State.InProgress {
				return nil
			}
		}
	}
}

// Collect consumes the whole event stream and returns the concatenated,
// whitespace-trimmed reply. Used by non-streaming callers.
func (c *Client) Collect(ctx context.Context, chatID, userToken string) (string, error) {
	var sb strings.Builder
	err := c.Stream(ctx, chatID, userToken, func(fragment string) error {
		sb.WriteString(fragment)
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// StreamChunks consumes the event stream lazily, yielding one OpenAI chunk
// per non-empty fragment, then a finish_reason "stop" chunk, then the Done
// sentinel. The channel closes after the sentinel, or after a single Err
// item if the stream failed.
func (c *Client) StreamChunks(ctx context.Context, chatID, userToken, model string) <-chan StreamItem {
	out := make(chan StreamItem)
	created := time.Now().Unix()

	emit := func(item StreamItem) bool {
		select {
		case out <- item:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		err := c.Stream(ctx, chatID, userToken, func(fragment string) error {
			if fragment == "" {
				return nil
			}
			if !emit(StreamItem{Chunk: c.contentChunk(chatID, model, created, fragment)}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			emit(StreamItem{Err: err})
			return
		}
		if !emit(StreamItem{Chunk: c.stopChunk(chatID, model, created)}) {
			return
		}
		emit(StreamItem{Done: true})
	}()
	return out
}

func (c *Client) contentChunk(chatID, model string, created int64, fragment string) *openai.ChatCompletionStreamResponse {
	return &openai.ChatCompletionStreamResponse{
		ID:      "chatcmpl-" + chatID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: fragment},
		}},
	}
}

func (c *Client) stopChunk(chatID, model string, created int64) *openai.ChatCompletionStreamResponse {
	return &openai.ChatCompletionStreamResponse{
		ID:      "chatcmpl-" + chatID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        openai.ChatCompletionStreamChoiceDelta{},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}
