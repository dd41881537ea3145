// Package manifest reads and publishes the on-disk manifest advertising the
// master's namespaces and RPC methods to worker clients.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aigotowork/bucketd/internal/fsutil"
)

// FileName is the manifest's name under the metadata path. Publishing
// stages the document at FileName + ".tmp" and renames it into place.
const FileName = "manifest.json"

// Method describes one RPC method advertised to clients.
type Method struct {
	Type string `json:"type"`
}

// Manifest is the document workers read to bootstrap their sessions.
type Manifest struct {
	// Version increases on every publish.
	Version uint64 `json:"version"`

	// Namespaces lists every namespace a client may open.
	Namespaces []string `json:"namespaces"`

	// Methods advertises the server's non-KV methods.
	Methods map[string]Method `json:"methods"`
}

// New builds a manifest for the given namespace set.
func New(version uint64, namespaces []string) *Manifest {
	sorted := append([]string(nil), namespaces...)
	sort.Strings(sorted)
	return &Manifest{
		Version:    version,
		Namespaces: sorted,
		Methods: map[string]Method{
			"createSub": {Type: "async"},
		},
	}
}

// Has reports whether the manifest lists a namespace.
func (m *Manifest) Has(namespace string) bool {
	i := sort.SearchStrings(m.Namespaces, namespace)
	return i < len(m.Namespaces) && m.Namespaces[i] == namespace
}

// Path returns the manifest's location under a metadata path.
func Path(metadataPath string) string {
	return filepath.Join(metadataPath, FileName)
}

// Publish serializes the manifest and atomically replaces the file on disk.
func Publish(metadataPath string, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := fsutil.AtomicWriteFile(Path(metadataPath), data, 0644); err != nil {
		return fmt.Errorf("failed to publish manifest: %w", err)
	}
	return nil
}

// Load reads and parses the manifest from disk.
func Load(metadataPath string) (*Manifest, error) {
	data, err := os.ReadFile(Path(metadataPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	sort.Strings(m.Namespaces)
	return &m, nil
}
