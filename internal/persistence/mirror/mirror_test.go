package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	f.keys = append(f.keys, key)
	return nil
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMirror_UploadsRelativeKeys(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "alice", "tug-1.ship.zst")
	b := filepath.Join(dir, "bob", "skiff-1.ship.zst")
	writeFile(t, a)
	writeFile(t, b)

	up := &fakeUploader{fails: 1}
	m := New(up, dir, Options{Prefix: "/ships/", Workers: 1, Backoff: time.Millisecond}, nil)
	m.Enqueue(a)
	m.Enqueue(b)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere.ship.zst"))
	m.Close()

	sort.Strings(up.keys)
	want := []string{"ships/alice/tug-1.ship.zst", "ships/bob/skiff-1.ship.zst"}
	if len(up.keys) != 2 || up.keys[0] != want[0] || up.keys[1] != want[1] {
		t.Fatalf("keys=%v want %v", up.keys, want)
	}
	st := m.Stats()
	if st.Enqueued != 3 || st.Uploaded != 2 || st.Failed != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_GivesUpAfterAttempts(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.ship.zst")
	writeFile(t, p)
	up := &fakeUploader{fails: 10}
	m := New(up, dir, Options{Attempts: 2, Backoff: time.Millisecond}, nil)
	m.Enqueue(p)
	m.Close()
	if st := m.Stats(); st.Failed != 1 || st.Uploaded != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestNilMirrorIsInert(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("nil mirror reported stats")
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	cases := map[string]string{
		"/a//b\\c": "a/b/c",
		"  x ":     "x",
		"":         "",
	}
	for in, want := range cases {
		if got := normalizeObjectKey(in); got != want {
			t.Fatalf("normalizeObjectKey(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient("", "b", "", "k", "s"); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
	c, err := NewClient("http://127.0.0.1:9000", "ships", "", "k", "s")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.bucket != "ships" {
		t.Fatalf("bucket=%q", c.bucket)
	}
}
