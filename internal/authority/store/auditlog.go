package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haideralmesaody/license-fabric/internal/authority"
)

// AuditLog appends authority.ActivationEvent records as JSON-lines to a
// single append-only file — the durable record behind the admin-facing
// activation history.
type AuditLog struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewAuditLog returns an AuditLog for path. It opens nothing itself: the
// file and its parent directories are created by the first Append.
func NewAuditLog(path string, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{path: path, logger: logger.With(slog.String("component", "audit_log"))}
}

// Append writes one JSON-line event to the log, best-effort: a write
// failure is logged, never returned, so an audit-log outage can't block the
// register/heartbeat/unregister/sweep operation it's recording.
func (a *AuditLog) Append(event authority.ActivationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		a.logger.Error("failed to create audit log directory", slog.String("error", err.Error()))
		return
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.logger.Error("failed to open audit log", slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("failed to marshal activation event", slog.String("error", err.Error()))
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		a.logger.Error("failed to append activation event", slog.String("error", err.Error()))
	}
}

// Read returns every event in the log, tolerant of a missing file (returns
// an empty slice, not an error) and of individual malformed lines, which are
// logged and skipped rather than failing the whole read.
func (a *AuditLog) Read() ([]authority.ActivationEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log %s: %w", a.path, err)
	}
	defer f.Close()

	var events []authority.ActivationEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event authority.ActivationEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			a.logger.Warn("failed to parse activation event line, skipping",
				slog.String("error", err.Error()), slog.String("line", line))
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan audit log %s: %w", a.path, err)
	}
	return events, nil
}
