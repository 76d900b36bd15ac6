package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haideralmesaody/license-fabric/internal/authority"
)

// LicenseStore holds the ordered list of License Records, one JSON file
// backing the whole set. Every mutation (create/delete) triggers a full
// snapshot rewrite.
type LicenseStore struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	records []authority.LicenseRecord
}

// NewLicenseStore loads path if present (missing file → empty registry;
// an unreadable or unparsable file is logged and also starts empty) and
// returns a ready store.
func NewLicenseStore(path string, logger *slog.Logger) (*LicenseStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LicenseStore{path: path, logger: logger.With(slog.String("component", "license_store"))}

	var loaded []authority.LicenseRecord
	found, err := readJSONTolerant(path, &loaded)
	if err != nil {
		s.logger.Warn("failed to load license store, starting empty", slog.String("error", err.Error()))
		return s, nil
	}
	if found {
		s.records = loaded
	}
	return s, nil
}

// List returns a copy of every record, ordered by creation.
func (s *LicenseStore) List() []authority.LicenseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authority.LicenseRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with the given id, if any.
func (s *LicenseStore) Get(id string) (authority.LicenseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return authority.LicenseRecord{}, false
}

// Create appends record and persists the whole registry.
func (s *LicenseStore) Create(record authority.LicenseRecord) {
	s.mu.Lock()
	s.records = append(s.records, record)
	snapshot := append([]authority.LicenseRecord(nil), s.records...)
	s.mu.Unlock()
	s.persist(snapshot)
}

// Delete removes the record with id, returning whether it existed, and
// persists if it did.
func (s *LicenseStore) Delete(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, r := range s.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	snapshot := append([]authority.LicenseRecord(nil), s.records...)
	s.mu.Unlock()
	s.persist(snapshot)
	return true
}

// Backup snapshots the current registry to a timestamped file alongside the
// live store, for admin-triggered disaster recovery. It does not touch the
// live file and never mutates in-memory state.
func (s *LicenseStore) Backup() (string, error) {
	records := s.List()

	backupDir := filepath.Join(filepath.Dir(s.path), "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	backupPath := filepath.Join(backupDir, fmt.Sprintf("licenses_backup_%s.json", time.Now().Format("20060102_150405")))
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal license registry: %w", err)
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}

	s.logger.Info("license registry backed up",
		slog.String("backupPath", backupPath), slog.Int("records", len(records)))
	return backupPath, nil
}

// persist writes the snapshot to disk. Failures are logged, never returned
// to the caller — the in-memory mutation already took effect (§7).
func (s *LicenseStore) persist(snapshot []authority.LicenseRecord) {
	if err := writeJSONAtomic(s.path, snapshot); err != nil {
		s.logger.Error("failed to persist license store", slog.String("error", err.Error()))
	}
}
