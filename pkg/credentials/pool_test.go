package credentials

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeCookies(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write cookies file: %v", err)
	}
}

func TestNextRoundRobinWrapsInFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCookies(t, path, "alpha\nbeta\ngamma\n")
	p := NewPool(path)

	want := []string{"alpha", "beta", "gamma", "alpha"}
	for i, w := range want {
		got, err := p.Next()
		if err != nil {
			t.Fatalf("Next() call %d: %v", i+1, err)
		}
		if got != w {
			t.Fatalf("Next() call %d = %q, want %q", i+1, got, w)
		}
	}
}

func TestNextSkipsBlankAndCommentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCookies(t, path, "# first account\n\n  one  \n\n# spare\ntwo\n")
	p := NewPool(path)

	if got, _ := p.Next(); got != "one" {
		t.Fatalf("first Next() = %q, want %q", got, "one")
	}
	if got, _ := p.Next(); got != "two" {
		t.Fatalf("second Next() = %q, want %q", got, "two")
	}
	if p.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", p.Size())
	}
}

func TestNextFailsWhenFileMissing(t *testing.T) {
	p := NewPool(filepath.Join(t.TempDir(), "absent.txt"))
	_, err := p.Next()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
}

func TestNextFailsOnEmptyPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCookies(t, path, "# only comments\n\n   \n")
	p := NewPool(path)

	for i := 0; i < 3; i++ {
		got, err := p.Next()
		if err == nil {
			t.Fatalf("call %d: expected error, got %q", i+1, got)
		}
		if !IsConfigError(err) {
			t.Fatalf("call %d: expected ConfigError, got %T", i+1, err)
		}
		if got != "" {
			t.Fatalf("call %d: returned non-empty cookie %q with error", i+1, got)
		}
	}
}

func TestNextReloadsWhenModTimeChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCookies(t, path, "old-one\nold-two\n")
	p := NewPool(path)

	if got, _ := p.Next(); got != "old-one" {
		t.Fatalf("Next() = %q, want old-one", got)
	}

	writeCookies(t, path, "new-one\nnew-two\n")
	bumpModTime(t, path)

	// Reload resets the cursor: the replaced file starts from line one.
	if got, _ := p.Next(); got != "new-one" {
		t.Fatalf("Next() after swap = %q, want new-one", got)
	}
	if got, _ := p.Next(); got != "new-two" {
		t.Fatalf("Next() after swap = %q, want new-two", got)
	}
}

func TestNextServesStalePoolWhenModTimeUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCookies(t, path, "cached\n")
	p := NewPool(path)

	if got, _ := p.Next(); got != "cached" {
		t.Fatalf("Next() = %q, want cached", got)
	}

	// Rewrite the content but pin the modification time back to what the
	// pool already saw; the in-memory pool must keep serving.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	writeCookies(t, path, "replaced\n")
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if got, _ := p.Next(); got != "cached" {
		t.Fatalf("Next() with unchanged mtime = %q, want cached", got)
	}
}

func TestNextEvenDistributionUnderConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCookies(t, path, "a\nb\nc\nd\n")
	p := NewPool(path)

	const rounds = 25
	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 4*rounds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Next()
			if err != nil {
				t.Errorf("Next(): %v", err)
				return
			}
			mu.Lock()
			counts[got]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, cookie := range []string{"a", "b", "c", "d"} {
		if counts[cookie] != rounds {
			t.Fatalf("cookie %q served %d times, want %d (counts=%v)", cookie, counts[cookie], rounds, counts)
		}
	}
}

// bumpModTime guarantees a visible mtime change even on filesystems with
// coarse timestamp resolution.
func bumpModTime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}
