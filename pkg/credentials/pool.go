// Package credentials manages the rotating pool of raw session cookies that
// authenticate the bridge against the upstream identity provider.
//
// The pool is backed by a plain-text file, one cookie per line. Blank lines
// and lines starting with '#' are ignored. The file is re-read whenever its
// modification time changes, so an operator can swap cookies in and out
// without restarting the process.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ConfigError reports an unusable credential store: the file is missing or
// holds no usable lines. It is fatal to the request that observed it.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("credential store %s: %s", e.Path, e.Reason)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Pool hands out cookies round-robin. Safe for concurrent use; the lock is
// held only for the cursor update and the occasional reload, never across
// network calls.
type Pool struct {
	path string

	mu      sync.Mutex
	cookies []string
	cursor  int
	modTime time.Time
	loaded  bool
}

func NewPool(path string) *Pool {
	return &Pool{path: path}
}

// Next returns the next cookie in rotation, reloading from disk first if the
// backing file's modification time changed since the last load.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &ConfigError{Path: p.path, Reason: "file not found"}
		}
		return "", fmt.Errorf("stat credential store: %w", err)
	}

	if !p.loaded || !info.ModTime().Equal(p.modTime) {
		if err := p.reloadLocked(info.ModTime()); err != nil {
			return "", err
		}
	}

	cookie := p.cookies[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.cookies)
	return cookie, nil
}

// Size reports how many cookies the pool currently holds. It does not
// trigger a reload; a pool that never served a cookie reports zero.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cookies)
}

func (p *Pool) reloadLocked(modTime time.Time) error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ConfigError{Path: p.path, Reason: "file not found"}
		}
		return fmt.Errorf("read credential store: %w", err)
	}

	cookies := make([]string, 0, 4)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cookies = append(cookies, line)
	}
	if len(cookies) == 0 {
		return &ConfigError{Path: p.path, Reason: "no credentials defined"}
	}

	p.cookies = cookies
	p.cursor = 0
	p.modTime = modTime
	p.loaded = true
	return nil
}
