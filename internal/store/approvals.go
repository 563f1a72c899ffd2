// ABOUTME: Persisted registry of manual image trust decisions.
// ABOUTME: In-memory map reloaded at startup and fully rewritten on every set.

package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/docksentry/docksentry/internal/types"

	"github.com/sirupsen/logrus"
)

// ApprovalStore exclusively owns the approvals file. Last write wins per
// image key; no history is retained. Safe for concurrent get/set from
// multiple event-processing goroutines.
type ApprovalStore struct {
	path   string
	logger *logrus.Logger

	mutex   sync.Mutex
	entries map[string]types.ApprovalEntry
}

// NewApprovalStore loads the persisted approvals into memory. Unparseable
// lines are skipped; a missing file starts the registry empty.
func NewApprovalStore(path string, logger *logrus.Logger) (*ApprovalStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create approvals directory: %w", err)
	}

	s := &ApprovalStore{
		path:    path,
		logger:  logger,
		entries: make(map[string]types.ApprovalEntry),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ApprovalStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open approvals file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry types.ApprovalEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil || entry.ImageKey == "" {
			continue
		}
		s.entries[entry.ImageKey] = entry
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read approvals file: %w", err)
	}

	s.logger.WithField("entries", len(s.entries)).Info("Loaded image approvals")
	return nil
}

// Get returns the live approval entry for the image key, or nil.
func (s *ApprovalStore) Get(imageKey string) *types.ApprovalEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.entries[imageKey]
	if !ok {
		return nil
	}
	return &entry
}

// Set records a trust decision and rewrites the whole file under the same
// lock that guards the map, so the persisted state never diverges from
// memory.
func (s *ApprovalStore) Set(imageKey string, approved bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[imageKey] = types.ApprovalEntry{
		ImageKey:  imageKey,
		Approved:  approved,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.persistLocked(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"image_key": imageKey,
		"approved":  approved,
	}).Info("Image approval updated")
	return nil
}

func (s *ApprovalStore) persistLocked() error {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp approvals file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, key := range keys {
		line, err := json.Marshal(s.entries[key])
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to marshal approval entry: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write approvals file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close approvals file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace approvals file: %w", err)
	}
	return nil
}
