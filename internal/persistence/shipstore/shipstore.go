// Package shipstore keeps saved ship documents on disk as zstd-compressed files, one
// directory per owner.
package shipstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	HeaderVersion = 1
	fileSuffix    = ".ship.zst"
)

// Header is the first line of every ship file.
type Header struct {
	Version      int       `json:"version"`
	OwnerID      string    `json:"owner_id"`
	ShipName     string    `json:"ship_name"`
	OriginGridID string    `json:"origin_grid_id"`
	Checksum     string    `json:"checksum"`
	SavedAt      time.Time `json:"saved_at"`
}

type Entry struct {
	Path   string
	Header Header
}

type Store struct {
	dir string
	now func() time.Time
}

func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) Dir() string { return s.dir }

// Write stores the document text and returns the file path.
func (s *Store) Write(h Header, text []byte) (string, error) {
	if strings.TrimSpace(h.OwnerID) == "" {
		return "", errors.New("shipstore: empty owner id")
	}
	h.Version = HeaderVersion
	if h.SavedAt.IsZero() {
		h.SavedAt = s.now().UTC()
	}
	name := fmt.Sprintf("%s-%s%s", slug(h.ShipName, "ship"), h.SavedAt.UTC().Format("20060102T150405.000000000Z"), fileSuffix)
	path := filepath.Join(s.dir, slug(h.OwnerID, "owner"), name)
	if err := writeFile(path, h, text); err != nil {
		return "", fmt.Errorf("shipstore: %s: %w", path, err)
	}
	return path, nil
}

func writeFile(path string, h Header, text []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	err = encode(f, h, text)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(w io.Writer, h Header, text []byte) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, err := json.Marshal(h)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(text); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Read returns the header and document text of a ship file.
func Read(path string) (Header, []byte, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, nil, err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return h, nil, fmt.Errorf("shipstore: %s: %w", path, err)
	}
	line, text, ok := bytes.Cut(raw, []byte("\n"))
	if !ok {
		return h, nil, fmt.Errorf("shipstore: %s: missing header", path)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, nil, fmt.Errorf("shipstore: %s: header: %w", path, err)
	}
	if h.Version != HeaderVersion {
		return h, nil, fmt.Errorf("shipstore: %s: unsupported version %d", path, h.Version)
	}
	return h, text, nil
}

// List returns the ships saved by ownerID, oldest first. Unreadable files are skipped.
func (s *Store) List(ownerID string) ([]Entry, error) {
	dir := filepath.Join(s.dir, slug(ownerID, "owner"))
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		h, _, err := Read(p)
		if err != nil {
			continue
		}
		out = append(out, Entry{Path: p, Header: h})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Header.SavedAt.Before(out[j].Header.SavedAt) })
	return out, nil
}

func slug(s, fallback string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}
