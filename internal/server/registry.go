package server

import (
	"fmt"
	"sync"

	"github.com/aigotowork/bucketd/internal/manifest"
)

// Registry tracks the namespaces of the shared store and publishes the
// manifest that advertises them. The master is the manifest's only writer.
type Registry struct {
	mu           sync.Mutex
	metadataPath string
	namespaces   map[string]struct{}
	version      uint64
}

// NewRegistry builds an empty registry rooted at the metadata path.
func NewRegistry(metadataPath string) *Registry {
	return &Registry{
		metadataPath: metadataPath,
		namespaces:   make(map[string]struct{}),
	}
}

// Has reports whether a namespace is known.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.namespaces[name]
	return ok
}

// Names returns the known namespaces.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		names = append(names, name)
	}
	return names
}

// Restore adds a namespace without publishing. Used while rebuilding the
// registry at startup.
func (r *Registry) Restore(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.namespaces[name] = struct{}{}
}

// Create adds a namespace and publishes a manifest listing it. Creating an
// existing namespace succeeds without a republish. If publishing fails the
// namespace is rolled back and the create fails.
func (r *Registry) Create(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.namespaces[name]; ok {
		return nil
	}
	r.namespaces[name] = struct{}{}

	if err := r.publishLocked(); err != nil {
		delete(r.namespaces, name)
		return fmt.Errorf("failed to create namespace %q: %w", name, err)
	}
	return nil
}

// Publish writes the current namespace set to disk.
func (r *Registry) Publish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishLocked()
}

func (r *Registry) publishLocked() error {
	m := manifest.New(r.version+1, r.namesLocked())
	if err := manifest.Publish(r.metadataPath, m); err != nil {
		return err
	}
	r.version++
	return nil
}
