// Package cache persists the interactive CLI's chat session between runs so
// a conversation can be resumed instead of opening a fresh remote chat.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotFound = errors.New("chat cache not found")

type ChatState struct {
	ChatID  string    `json:"chat_id"`
	Adapter string    `json:"adapter,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

func LoadChatState(path string) (ChatState, error) {
	var st ChatState
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, ErrNotFound
		}
		return st, fmt.Errorf("read chat cache: %w", err)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("decode chat cache: %w", err)
	}
	if strings.TrimSpace(st.ChatID) == "" {
		return st, ErrNotFound
	}
	return st, nil
}

func SaveChatState(path string, st ChatState) error {
	if strings.TrimSpace(st.ChatID) == "" {
		return errors.New("chat id cannot be empty")
	}
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir cache dir: %w", err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chat cache: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write chat cache temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename chat cache: %w", err)
	}
	return nil
}
