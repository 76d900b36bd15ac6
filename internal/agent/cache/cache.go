// Package cache implements the agent's offline cache: an AES-GCM sealed
// JSON record written to and read from a single file on disk.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/haideralmesaody/license-fabric/internal/cachecrypto"
	"github.com/haideralmesaody/license-fabric/internal/licenseerr"
	"github.com/haideralmesaody/license-fabric/internal/token"
)

// Record is the on-disk cache payload (§3: "Agent cache record").
type Record struct {
	Payload       token.Payload `json:"payload"`
	NodeID        string        `json:"nodeId"`
	LastVerifyMs  int64         `json:"lastVerifyTime"`
	LicenseCode   string        `json:"licenseCode"`
}

// Manager reads and writes the sealed cache file.
type Manager struct {
	path      string
	keyString string
}

// New builds a Manager. keyString is the encryption key material (in
// practice the PEM public-key text, per §4.2).
func New(path, keyString string) *Manager {
	return &Manager{path: path, keyString: keyString}
}

// Save seals record and writes it to path, creating parent directories as needed.
func (m *Manager) Save(record Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return licenseerr.Wrap(licenseerr.Internal, "marshal cache record", err)
	}
	sealed, err := cachecrypto.Seal(raw, m.keyString)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return licenseerr.Wrap(licenseerr.Internal, "create cache directory", err)
		}
	}
	if err := os.WriteFile(m.path, []byte(sealed), 0o600); err != nil {
		return licenseerr.Wrap(licenseerr.Internal, "write cache file", err)
	}
	return nil
}

// Load reads and opens the cache file. A missing file or any decode/auth
// failure is treated as "absent or corrupted" and returns (nil, nil) —
// callers distinguish "no usable cache" from a hard error this way, matching
// §4.5's tryDegradeFromCache contract ("If absent or corrupted → false").
func (m *Manager) Load() (*Record, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	plaintext, err := cachecrypto.Open(string(raw), m.keyString)
	if err != nil {
		return nil, nil
	}

	var record Record
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, nil
	}
	return &record, nil
}
