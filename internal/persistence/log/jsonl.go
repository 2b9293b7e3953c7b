// Package log writes the ship audit trail as zstd-compressed JSON lines, one file
// per hour.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const hourLayout = "2006-01-02-15"

// JSONLWriter appends JSON lines to hourly zstd files under dir. Each line is written
// as its own zstd frame, so a file is readable while it is still being appended to.
type JSONLWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	buf     []byte
}

func NewJSONLWriter(dir, prefix string) *JSONLWriter {
	return &JSONLWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(hourLayout)
	if hour != w.curHour || w.f == nil {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	w.buf = append(append(w.buf[:0], b...), '\n')
	if _, err := w.enc.Write(w.buf); err != nil {
		return err
	}
	if err := w.enc.Close(); err != nil {
		return err
	}
	w.enc.Reset(w.f)
	return nil
}

func (w *JSONLWriter) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if w.enc == nil {
		w.enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if err != nil {
			_ = f.Close()
			return err
		}
	} else {
		w.enc.Reset(f)
	}
	w.f = f
	w.curHour = hour
	return nil
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// closeLocked drops the pending empty frame; every written line is already complete.
func (w *JSONLWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}
	if w.enc != nil {
		w.enc.Reset(io.Discard)
	}
	err := w.f.Close()
	w.f = nil
	w.curHour = ""
	return err
}

func (w *JSONLWriter) path(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Files lists the files written under dir with prefix, oldest hour first.
func Files(dir, prefix string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJSONL calls fn with every line of a file written by JSONLWriter. A frame cut
// short at the end of the file (a crash mid-write) ends the file without an error.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
