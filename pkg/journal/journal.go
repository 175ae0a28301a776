// Package journal persists sync session outcomes as JSON files for audit
// and retry tooling.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionRecord captures one completed sync session: what was pulled,
// what was skipped, and which dates failed with what error.
type SessionRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	Remote     string         `json:"remote"`
	Streams    int            `json:"streams"`
	Downloaded []DateEntry    `json:"downloaded,omitempty"`
	Failed     []FailureEntry `json:"failed,omitempty"`
	UpToDate   int            `json:"up_to_date"`
	Partial    bool           `json:"partial,omitempty"`
	Elapsed    string         `json:"elapsed,omitempty"`
}

// DateEntry is one transferred day file.
type DateEntry struct {
	Stream string `json:"stream"`
	Date   string `json:"date"`
	Bytes  int    `json:"bytes"`
}

// FailureEntry is one date that could not be transferred.
type FailureEntry struct {
	Stream string `json:"stream"`
	Date   string `json:"date"`
	Error  string `json:"error"`
}

// Writer persists session records to a directory, one JSON file per
// session.
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer rooted at dir.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteSession writes a session record to a timestamped JSON file and
// returns its path.
func (w *Writer) WriteSession(rec *SessionRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("sync_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadAll loads every session record under dir in file-name order, which
// is chronological for records written by Writer.
func ReadAll(dir string) ([]*SessionRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var records []*SessionRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec SessionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("journal: %s: %w", e.Name(), err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
