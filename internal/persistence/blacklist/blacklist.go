// Package blacklist is the file-backed denylist of ship checksums.
package blacklist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Entry struct {
	Checksum string `json:"checksum"`
	Reason   string `json:"reason"`
	AddedAt  string `json:"added_at,omitempty"`
}

type fileV1 struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

var ErrEmptyChecksum = errors.New("blacklist: empty checksum")

// Store keeps the whole list in memory; the file is read on first use and rewritten in
// full after every mutation.
type Store struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	loaded  bool
	entries map[string]Entry
}

func Open(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string { return s.path }

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.entries = map[string]Entry{}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read blacklist: %w", err)
	}
	if len(strings.TrimSpace(string(b))) > 0 {
		var f fileV1
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("blacklist %s: %w", s.path, err)
		}
		for _, e := range f.Entries {
			e.Checksum = normalize(e.Checksum)
			if e.Checksum != "" {
				s.entries[e.Checksum] = e
			}
		}
	}
	s.loaded = true
	return nil
}

func (s *Store) saveLocked() error {
	f := fileV1{Version: 1, Entries: s.sortedLocked()}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write blacklist: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write blacklist: %w", err)
	}
	return nil
}

func (s *Store) sortedLocked() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Checksum < out[j].Checksum })
	return out
}

// normalize is applied to every checksum the store is given. Only surrounding
// whitespace is dropped; case is kept.
func normalize(checksum string) string { return strings.TrimSpace(checksum) }

// Lookup returns the entry for an exact checksum match.
func (s *Store) Lookup(checksum string) (Entry, bool, error) {
	checksum = normalize(checksum)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Entry{}, false, err
	}
	e, ok := s.entries[checksum]
	return e, ok, nil
}

func (s *Store) Contains(checksum string) (bool, error) {
	_, ok, err := s.Lookup(checksum)
	return ok, err
}

// Add inserts or replaces the reason for a checksum.
func (s *Store) Add(checksum, reason string) error {
	checksum = normalize(checksum)
	if checksum == "" {
		return ErrEmptyChecksum
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	prev, had := s.entries[checksum]
	s.entries[checksum] = Entry{Checksum: checksum, Reason: reason, AddedAt: s.now().UTC().Format(time.RFC3339)}
	if err := s.saveLocked(); err != nil {
		if had {
			s.entries[checksum] = prev
		} else {
			delete(s.entries, checksum)
		}
		return err
	}
	return nil
}

// Remove reports whether the checksum was present.
func (s *Store) Remove(checksum string) (bool, error) {
	checksum = normalize(checksum)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return false, err
	}
	prev, ok := s.entries[checksum]
	if !ok {
		return false, nil
	}
	delete(s.entries, checksum)
	if err := s.saveLocked(); err != nil {
		s.entries[checksum] = prev
		return false, err
	}
	return true, nil
}

// List returns every entry sorted by checksum.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s.sortedLocked(), nil
}
