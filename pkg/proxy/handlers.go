package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ctobridge/ctobridge/pkg/engine"
)

// maxCredentialAttempts bounds how many pooled cookies one request may burn
// through when the upstream rejects a credential as unauthorized.
const maxCredentialAttempts = 2

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "OpenAI Compatible API Server",
		"endpoints": map[string]string{
			"chat":   "/v1/chat/completions",
			"models": "/v1/models",
		},
	})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().Unix()
	data := make([]map[string]any, 0, len(s.cfg.Models))
	for _, m := range s.cfg.Models {
		data = append(data, map[string]any{
			"id":       m.Name,
			"object":   "model",
			"created":  now,
			"owned_by": "cto-new",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	prompt, ok := lastUserMessage(req.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, "No user message found")
		return
	}
	adapter := s.cfg.AdapterFor(req.Model)

	chatID, userToken, err := s.openSession(r.Context(), prompt, adapter)
	if err != nil {
		log.Error("open chat session", "err", err)
		writeError(w, errorStatus(err), err.Error())
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, req.Model, chatID, userToken)
		return
	}

	content, err := s.engine.Collect(r.Context(), chatID, userToken)
	if err != nil {
		log.Error("collect reply", "chat_id", chatID, "err", err)
		writeError(w, errorStatus(err), err.Error())
		return
	}

	promptTokens := estimateTokens(prompt)
	completionTokens := estimateTokens(content)
	writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + chatID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

// openSession runs the credential pipeline: next cookie, resolve identity,
// mint a token, open the remote chat. An unauthorized upstream answer
// (expired cookie) rotates to the next pooled credential once before giving
// up; every other failure surfaces immediately.
func (s *Server) openSession(ctx context.Context, prompt, adapter string) (chatID, userToken string, err error) {
	for attempt := 1; ; attempt++ {
		chatID, userToken, err = s.tryOpenSession(ctx, prompt, adapter)
		if err == nil {
			return chatID, userToken, nil
		}
		if attempt < maxCredentialAttempts && engine.IsAuthError(err) {
			log.Warn("credential rejected, rotating to next", "attempt", attempt, "err", err)
			continue
		}
		return "", "", err
	}
}

func (s *Server) tryOpenSession(ctx context.Context, prompt, adapter string) (string, string, error) {
	cookie, err := s.pool.Next()
	if err != nil {
		return "", "", err
	}
	identity, err := s.engine.ResolveIdentity(ctx, cookie)
	if err != nil {
		return "", "", err
	}
	token, err := s.engine.MintToken(ctx, identity.SessionID, cookie)
	if err != nil {
		return "", "", err
	}
	chatID, err := s.engine.OpenChat(ctx, token, prompt, adapter)
	if err != nil {
		return "", "", err
	}
	return chatID, identity.UserToken, nil
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, model, chatID, userToken string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	wroteHeader := false
	begin := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		wroteHeader = true
	}

	for item := range s.engine.StreamChunks(r.Context(), chatID, userToken, model) {
		switch {
		case item.Err != nil:
			if !wroteHeader {
				log.Error("event stream", "chat_id", chatID, "err", item.Err)
				writeError(w, errorStatus(item.Err), item.Err.Error())
				return
			}
			// Mid-stream failure: nothing left to do but end the partial
			// stream; the client sees a truncated response.
			log.Warn("event stream ended early", "chat_id", chatID, "err", item.Err)
			return
		case item.Done:
			if !wroteHeader {
				begin()
			}
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		default:
			if !wroteHeader {
				begin()
			}
			b, err := json.Marshal(item.Chunk)
			if err != nil {
				log.Error("encode chunk", "chat_id", chatID, "err", err)
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}

func lastUserMessage(messages []openai.ChatCompletionMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return strings.TrimSpace(messages[i].Content), true
		}
	}
	return "", false
}
