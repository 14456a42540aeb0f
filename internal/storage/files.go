// Package storage provides file-based persistence for crawl snapshots and
// the enriched-record side log, alongside the Badger entity store.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/models"
)

// SnapshotWriter persists the raw output of each crawl pass as a JSON file
// so a pass can be audited or replayed without re-crawling.
type SnapshotWriter struct {
	dir    string
	logger arbor.ILogger
}

// NewSnapshotWriter creates a snapshot writer rooted at dir.
func NewSnapshotWriter(dir string, logger arbor.ILogger) *SnapshotWriter {
	return &SnapshotWriter{dir: dir, logger: logger}
}

// Write stores the records captured for one city in this pass. Returns the
// path of the written snapshot.
func (w *SnapshotWriter) Write(city string, records []models.CrawlRecord) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", city, time.Now().Format("20060102_150405"))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	w.logger.Debug().
		Str("city", city).
		Str("path", path).
		Int("records", len(records)).
		Msg("Crawl snapshot written")
	return path, nil
}

// SideLog appends enriched records to a single JSON array file. The file
// survives database resets and feeds downstream imports.
type SideLog struct {
	mu     sync.Mutex
	path   string
	logger arbor.ILogger
}

// NewSideLog creates a side log at path.
func NewSideLog(path string, logger arbor.ILogger) *SideLog {
	return &SideLog{path: path, logger: logger}
}

// Append adds one enriched record to the log. The whole array is rewritten
// through a temp file and rename so a crash never leaves a truncated log.
func (l *SideLog) Append(record models.EnrichedRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.readAll()
	if err != nil {
		return err
	}
	records = append(records, record)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal side log: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create side log directory: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write side log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace side log: %w", err)
	}

	return nil
}

// ReadAll returns every record in the log.
func (l *SideLog) ReadAll() ([]models.EnrichedRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

func (l *SideLog) readAll() ([]models.EnrichedRecord, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read side log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []models.EnrichedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse side log: %w", err)
	}
	return records, nil
}
