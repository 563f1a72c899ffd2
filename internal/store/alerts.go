// ABOUTME: Append-only alert log with deduplication, compaction, and status lifecycle.
// ABOUTME: Owns the on-disk JSONL file; all mutations are serialized by one lock.

package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/docksentry/docksentry/internal/metrics"
	"github.com/docksentry/docksentry/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a status mutation targets an unknown alert id.
var ErrNotFound = errors.New("alert not found")

// baseIDSuffix matches the trailing "-<digits>" suffix the dashboard appends
// when it renames deduplicated alerts client-side.
var baseIDSuffix = regexp.MustCompile(`-\d+$`)

// AlertStore exclusively owns the alert log file. Appends, compaction, and
// the whole-file rewrite on status mutation are mutually exclusive; readers
// never observe a half-written file.
type AlertStore struct {
	path    string
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mutex sync.Mutex
}

// NewAlertStore creates the store and its parent directory. The metrics
// handle may be nil.
func NewAlertStore(path string, logger *logrus.Logger, m *metrics.Metrics) (*AlertStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create alert log directory: %w", err)
	}
	return &AlertStore{path: path, logger: logger, metrics: m}, nil
}

// Path returns the alert log file path.
func (s *AlertStore) Path() string { return s.path }

// Append assigns an id, timestamp, and open status where absent, writes the
// record as one JSONL line, and compacts under the same lock so readers
// never observe duplicate-id runs.
func (s *AlertStore) Append(record *types.AlertRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = types.StatusOpen
	}
	if record.Timestamp == "" {
		record.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal alert record: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.appendLine(line); err != nil {
		return err
	}
	if err := s.compactLocked(); err != nil {
		return err
	}

	if s.metrics != nil {
		source := record.Source
		if source == "" {
			source = "unknown"
		}
		s.metrics.AlertsAppended.WithLabelValues(source).Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"id":     record.ID,
		"source": record.Source,
	}).Info("Persisted alert")
	return nil
}

// AppendAudit writes an audit entry as one line. Audit entries carry no "id"
// field, so compaction always passes them through unchanged.
func (s *AlertStore) AppendAudit(entry types.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.appendLine(line)
}

func (s *AlertStore) appendLine(line []byte) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open alert log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to alert log: %w", err)
	}
	return nil
}

// ReadLines returns the parseable JSON lines of the log, oldest first.
// Unparseable lines are skipped rather than failing the whole read.
func (s *AlertStore) ReadLines() ([][]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.readLinesLocked()
}

func (s *AlertStore) readLinesLocked() ([][]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open alert log: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) == 0 || !json.Valid(raw) {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alert log: %w", err)
	}
	return lines, nil
}

// Count returns the number of physical lines in the log.
func (s *AlertStore) Count() int {
	lines, err := s.ReadLines()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to count alert log records")
		return 0
	}
	return len(lines)
}

// Compact collapses duplicate-id records, keeping only the occurrence
// physically closest to the end of the log for each id. Records without an
// id pass through unchanged. Idempotent: compacting a compacted log is a
// byte-for-byte no-op.
func (s *AlertStore) Compact() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.compactLocked()
}

func (s *AlertStore) compactLocked() error {
	lines, err := s.readLinesLocked()
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	// Newest-to-oldest pass so the last appended occurrence per id survives.
	seen := make(map[string]bool)
	keep := make([]bool, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		id := extractID(lines[i])
		if id == "" {
			keep[i] = true
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		keep[i] = true
	}

	survivors := lines[:0]
	for i, line := range lines {
		if keep[i] {
			survivors = append(survivors, line)
		}
	}

	if err := s.rewriteLocked(survivors); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.AlertLogRecords.Set(float64(len(survivors)))
	}
	return nil
}

func (s *AlertStore) rewriteLocked(lines [][]byte) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp alert log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write alert log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close alert log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace alert log: %w", err)
	}
	return nil
}

// UpdateStatus locates the record by exact id, or by the base-id heuristic
// (trailing "-<digits>" suffix stripped), mutates its status, rewrites the
// whole log, and appends an audit entry describing the transition. Returns
// the matched record's original id.
func (s *AlertStore) UpdateStatus(alertID, status string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	lines, err := s.readLinesLocked()
	if err != nil {
		return "", err
	}

	index, originalID := findByIDOrBase(lines, alertID)
	if index < 0 {
		return "", ErrNotFound
	}

	var record map[string]any
	if err := json.Unmarshal(lines[index], &record); err != nil {
		return "", fmt.Errorf("failed to decode alert %s: %w", originalID, err)
	}
	record["status"] = status
	updated, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode alert %s: %w", originalID, err)
	}
	lines[index] = updated

	if err := s.rewriteLocked(lines); err != nil {
		return "", err
	}

	audit := types.AuditEntry{
		AlertID:    alertID,
		OriginalID: originalID,
		Action:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Source:     "api",
	}
	auditLine, err := json.Marshal(audit)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if err := s.appendLine(auditLine); err != nil {
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"alert_id":    alertID,
		"original_id": originalID,
		"status":      status,
	}).Info("Alert status updated")
	return originalID, nil
}

// findByIDOrBase returns the index and id of the record matching alertID,
// trying an exact match first and the suffix-stripped base id second.
func findByIDOrBase(lines [][]byte, alertID string) (int, string) {
	for i, line := range lines {
		if extractID(line) == alertID {
			return i, alertID
		}
	}
	base := baseIDSuffix.ReplaceAllString(alertID, "")
	if base != alertID {
		for i, line := range lines {
			if extractID(line) == base {
				return i, base
			}
		}
	}
	return -1, ""
}

func extractID(line []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return ""
	}
	return probe.ID
}
