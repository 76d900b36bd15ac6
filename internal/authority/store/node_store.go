package store

import (
	"log/slog"
	"sync"

	"github.com/haideralmesaody/license-fabric/internal/authority"
)

// NodeStore holds nodeId → NodeInfo plus the reverse index licenseCode →
// ordered nodeIds, backed by one JSON file containing only the node table;
// the reverse index is always rebuilt from it.
type NodeStore struct {
	mu           sync.Mutex
	path         string
	logger       *slog.Logger
	nodes        map[string]authority.NodeInfo
	byLicense    map[string][]string
}

// NewNodeStore loads path, drops any node whose last heartbeat is older
// than nodeTimeoutMs relative to nowMs, rebuilds the reverse index, and — if
// anything was dropped — rewrites the file immediately so a second restart
// doesn't see the same stale entries. A missing or unreadable file starts
// the store empty.
func NewNodeStore(path string, nodeTimeoutMs int64, nowMs int64, logger *slog.Logger) (*NodeStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &NodeStore{
		path:      path,
		logger:    logger.With(slog.String("component", "node_store")),
		nodes:     make(map[string]authority.NodeInfo),
		byLicense: make(map[string][]string),
	}

	var loaded []authority.NodeInfo
	found, err := readJSONTolerant(path, &loaded)
	if err != nil {
		s.logger.Warn("failed to load node store, starting empty", slog.String("error", err.Error()))
		return s, nil
	}
	if !found {
		return s, nil
	}

	dropped := 0
	for _, n := range loaded {
		if nowMs-n.LastHeartbeatTimeMs > nodeTimeoutMs {
			dropped++
			continue
		}
		s.nodes[n.NodeID] = n
		s.byLicense[n.LicenseCode] = append(s.byLicense[n.LicenseCode], n.NodeID)
	}

	if dropped > 0 {
		s.logger.Info("dropped stale nodes on recovery", slog.Int("dropped", dropped))
		s.persistLocked()
	}
	return s, nil
}

// NodesForLicense returns the live nodes registered under licenseCode.
func (s *NodeStore) NodesForLicense(licenseCode string) []authority.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byLicense[licenseCode]
	out := make([]authority.NodeInfo, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Get returns the node with the given id.
func (s *NodeStore) Get(nodeID string) (authority.NodeInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	return n, ok
}

// Upsert inserts or replaces a node and refreshes its reverse-index entry,
// then persists. Used both for new registrations and idempotent re-registers.
func (s *NodeStore) Upsert(node authority.NodeInfo) {
	s.mu.Lock()
	s.upsertLocked(node)
	s.persistLocked()
	s.mu.Unlock()
}

// TouchHeartbeat updates lastHeartbeatTimeMs without persisting (§4.4:
// heartbeat must never write to disk).
func (s *NodeStore) TouchHeartbeat(nodeID string, nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return false
	}
	n.LastHeartbeatTimeMs = nowMs
	s.nodes[nodeID] = n
	return true
}

// Remove deletes a node from both maps, idempotently, and persists.
func (s *NodeStore) Remove(nodeID string) bool {
	s.mu.Lock()
	_, existed := s.nodes[nodeID]
	if existed {
		s.removeLocked(nodeID)
		s.persistLocked()
	}
	s.mu.Unlock()
	return existed
}

// StaleNodeIDs returns every nodeId whose heartbeat is older than
// nodeTimeoutMs relative to nowMs — used by the sweep operation.
func (s *NodeStore) StaleNodeIDs(nodeTimeoutMs int64, nowMs int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	for id, n := range s.nodes {
		if nowMs-n.LastHeartbeatTimeMs > nodeTimeoutMs {
			stale = append(stale, id)
		}
	}
	return stale
}

// OnlineCount returns the number of live nodes.
func (s *NodeStore) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// LicenseCount returns the number of distinct licenseCodes with at least one live node.
func (s *NodeStore) LicenseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byLicense)
}

// All returns every live node, for admin listing.
func (s *NodeStore) All() []authority.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authority.NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}

// WithLock runs fn while holding the store's writer lock, so a caller (the
// protocol engine) can compose a read-then-write decision atomically —
// e.g. "check existing nodes, then upsert or reject" — without a second
// lock acquisition racing another goroutine in between.
func (s *NodeStore) WithLock(fn func(*NodeStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// UpsertLocked is Upsert without acquiring the lock; only valid inside WithLock.
func (s *NodeStore) UpsertLocked(node authority.NodeInfo) {
	s.upsertLocked(node)
	s.persistLocked()
}

// TouchHeartbeatLocked is TouchHeartbeat without acquiring the lock; only valid inside WithLock.
func (s *NodeStore) TouchHeartbeatLocked(nodeID string, nowMs int64) bool {
	n, ok := s.nodes[nodeID]
	if !ok {
		return false
	}
	n.LastHeartbeatTimeMs = nowMs
	s.nodes[nodeID] = n
	return true
}

// GetLocked is Get without acquiring the lock; only valid inside WithLock.
func (s *NodeStore) GetLocked(nodeID string) (authority.NodeInfo, bool) {
	n, ok := s.nodes[nodeID]
	return n, ok
}

// NodesForLicenseLocked is NodesForLicense without acquiring the lock; only valid inside WithLock.
func (s *NodeStore) NodesForLicenseLocked(licenseCode string) []authority.NodeInfo {
	ids := s.byLicense[licenseCode]
	out := make([]authority.NodeInfo, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// StaleNodeIDsLocked is StaleNodeIDs without acquiring the lock; only valid inside WithLock.
func (s *NodeStore) StaleNodeIDsLocked(nodeTimeoutMs int64, nowMs int64) []string {
	var stale []string
	for id, n := range s.nodes {
		if nowMs-n.LastHeartbeatTimeMs > nodeTimeoutMs {
			stale = append(stale, id)
		}
	}
	return stale
}

// RemoveLocked is Remove without acquiring the lock; only valid inside WithLock.
func (s *NodeStore) RemoveLocked(nodeID string) bool {
	_, existed := s.nodes[nodeID]
	if existed {
		s.removeLocked(nodeID)
		s.persistLocked()
	}
	return existed
}

func (s *NodeStore) upsertLocked(node authority.NodeInfo) {
	if existing, ok := s.nodes[node.NodeID]; ok && existing.LicenseCode != node.LicenseCode {
		s.removeFromIndexLocked(existing.LicenseCode, node.NodeID)
	}
	s.nodes[node.NodeID] = node
	ids := s.byLicense[node.LicenseCode]
	for _, id := range ids {
		if id == node.NodeID {
			return
		}
	}
	s.byLicense[node.LicenseCode] = append(ids, node.NodeID)
}

func (s *NodeStore) removeLocked(nodeID string) {
	n, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	delete(s.nodes, nodeID)
	s.removeFromIndexLocked(n.LicenseCode, nodeID)
}

func (s *NodeStore) removeFromIndexLocked(licenseCode, nodeID string) {
	ids := s.byLicense[licenseCode]
	for i, id := range ids {
		if id == nodeID {
			s.byLicense[licenseCode] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byLicense[licenseCode]) == 0 {
		delete(s.byLicense, licenseCode)
	}
}

func (s *NodeStore) persistLocked() {
	snapshot := make([]authority.NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		snapshot = append(snapshot, n)
	}
	if err := writeJSONAtomic(s.path, snapshot); err != nil {
		s.logger.Error("failed to persist node store", slog.String("error", err.Error()))
	}
}
