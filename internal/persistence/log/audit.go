package log

import (
	"encoding/json"
	"time"
)

const auditPrefix = "ships"

// AuditEntry is one accepted or rejected ship operation.
type AuditEntry struct {
	Time         time.Time `json:"time"`
	Op           string    `json:"op"` // "save" or "load"
	Outcome      string    `json:"outcome"`
	CallerID     string    `json:"caller_id"`
	ShipName     string    `json:"ship_name,omitempty"`
	OriginGridID string    `json:"origin_grid_id,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	Format       string    `json:"format,omitempty"`
	Migrated     bool      `json:"migrated,omitempty"`
	Duplicate    bool      `json:"duplicate,omitempty"`
	Code         string    `json:"code,omitempty"`
	Reason       string    `json:"reason,omitempty"`

	Spawned           int `json:"spawned,omitempty"`
	Dropped           int `json:"dropped,omitempty"`
	ComponentFailures int `json:"component_failures,omitempty"`
}

type AuditLogger struct{ w *JSONLWriter }

func NewAuditLogger(dir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLWriter(dir, auditPrefix)}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error {
	if v.Time.IsZero() {
		v.Time = l.w.now().UTC()
	}
	return l.w.Write(v)
}

func (l *AuditLogger) Close() error { return l.w.Close() }

// AuditFilter selects entries; empty fields match anything.
type AuditFilter struct {
	Op       string
	Outcome  string
	CallerID string
	Since    time.Time
}

func (f AuditFilter) match(e AuditEntry) bool {
	switch {
	case f.Op != "" && e.Op != f.Op:
		return false
	case f.Outcome != "" && e.Outcome != f.Outcome:
		return false
	case f.CallerID != "" && e.CallerID != f.CallerID:
		return false
	case !f.Since.IsZero() && e.Time.Before(f.Since):
		return false
	}
	return true
}

// ReadAudit returns the matching audit entries under dir, oldest first. Lines that
// do not decode are skipped.
func ReadAudit(dir string, f AuditFilter) ([]AuditEntry, error) {
	files, err := Files(dir, auditPrefix)
	if err != nil {
		return nil, err
	}
	var out []AuditEntry
	for _, path := range files {
		err := ReadJSONL(path, func(line []byte) error {
			var e AuditEntry
			if json.Unmarshal(line, &e) != nil {
				return nil
			}
			if f.match(e) {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
