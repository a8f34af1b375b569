package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.json")

	want := ChatState{ChatID: "c0ffee00-0000-4000-8000-000000000001", Adapter: "GPT5"}
	if err := SaveChatState(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadChatState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ChatID != want.ChatID || got.Adapter != want.Adapter {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.SavedAt.IsZero() {
		t.Fatal("saved_at not populated on save")
	}
}

func TestLoadMissingFileIsNotFound(t *testing.T) {
	_, err := LoadChatState(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadEmptyChatIDIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	if err := os.WriteFile(path, []byte(`{"chat_id":"  "}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadChatState(path)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadCorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadChatState(path)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestSaveRejectsEmptyChatID(t *testing.T) {
	if err := SaveChatState(filepath.Join(t.TempDir(), "chat.json"), ChatState{}); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}

func TestSaveOverwritesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	if err := SaveChatState(path, ChatState{ChatID: "first"}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := SaveChatState(path, ChatState{ChatID: "second", Adapter: "ClaudeSonnet4_5"}); err != nil {
		t.Fatalf("save second: %v", err)
	}
	got, err := LoadChatState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ChatID != "second" || got.Adapter != "ClaudeSonnet4_5" {
		t.Fatalf("got %+v", got)
	}
}
