package bucketd

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aigotowork/bucketd/internal/fsutil"
	"github.com/aigotowork/bucketd/internal/keyspace"
	"github.com/aigotowork/bucketd/internal/kv"
	"github.com/aigotowork/bucketd/internal/metastore"
	"github.com/aigotowork/bucketd/internal/server"
)

// rootDBDir holds the ordered KV store's files under the metadata path.
const rootDBDir = "rootDB"

// Master owns the shared store and serves the RPC endpoint workers connect
// to. Exactly one master runs per metadata path; no other process opens the
// store directly.
type Master struct {
	metadataPath string
	addr         string
	log          Logger

	root  kv.Store
	reg   *server.Registry
	state *server.State

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
}

// OpenMaster opens (or creates) the store under metadataPath, rebuilds the
// namespace registry, bootstraps the metastore and the well-known users
// bucket, and publishes the manifest. The RPC listener is started
// separately with ListenAndServe or Serve.
func OpenMaster(metadataPath string, opts ...Option) (*Master, error) {
	o := applyOptions(opts)

	absPath, err := fsutil.AbsPath(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata path: %w", err)
	}
	if err := fsutil.EnsureDir(filepath.Join(absPath, rootDBDir), 0755); err != nil {
		return nil, err
	}

	root, err := kv.Open(filepath.Join(absPath, rootDBDir, "root.db"))
	if err != nil {
		return nil, err
	}

	m := &Master{
		metadataPath: absPath,
		addr:         o.addr,
		log:          o.logger,
		root:         root,
		reg:          server.NewRegistry(absPath),
		conns:        make(map[net.Conn]struct{}),
	}

	if err := m.bootstrap(o.clock); err != nil {
		root.Close()
		return nil, err
	}

	m.state = server.New(root, m.reg, o.logger)
	return m, nil
}

// bootstrap rebuilds the registry from the metastore, creates the reserved
// namespaces and the users bucket idempotently, and publishes the manifest.
func (m *Master) bootstrap(clock Clock) error {
	m.reg.Restore(metastore.Namespace)
	m.reg.Restore(metastore.UsersBucket)

	if err := m.restoreNamespaces(); err != nil {
		return err
	}

	ms := metastore.New(directBackend{root: m.root, ns: metastore.Namespace})
	has, err := ms.HasBucket(metastore.UsersBucket)
	if err != nil {
		return fmt.Errorf("users bucket check failed: %w", err)
	}
	if !has {
		info := NewBucketInfo(metastore.UsersBucket, metastore.UsersBucketOwner, clock.Now())
		attrs, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("users bucket encode failed: %w", err)
		}
		if err := ms.PutBucketAttrs(metastore.UsersBucket, attrs); err != nil {
			return fmt.Errorf("users bucket create failed: %w", err)
		}
		m.log.Info("created users bucket", F("owner", metastore.UsersBucketOwner))
	}

	if err := m.reg.Publish(); err != nil {
		return err
	}
	return nil
}

// restoreNamespaces scans the metastore's keys and registers one namespace
// per recorded bucket.
func (m *Master) restoreNamespaces() error {
	prefix := keyspace.Prefix(metastore.Namespace)
	rng := kv.Range{Start: prefix}
	if end, ok := keyspace.Advance(prefix); ok {
		rng.LT = end
	}

	it := m.root.Scan(rng)
	defer it.Close()
	for it.Next() {
		name, ok := keyspace.Strip(prefix, it.Key())
		if !ok {
			continue
		}
		m.reg.Restore(string(name))
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("namespace restore failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on the master's configured address and serves
// until Close.
func (m *Master) ListenAndServe() error {
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.addr, err)
	}
	return m.Serve(ln)
}

// Serve accepts worker connections on ln until Close. Each connection gets
// its own handler; requests within a connection stay strictly ordered.
func (m *Master) Serve(ln net.Listener) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ln.Close()
		return fmt.Errorf("master is closed")
	}
	m.ln = ln
	m.mu.Unlock()

	m.log.Info("serving metadata", F("addr", ln.Addr().String()))

	var eg errgroup.Group
	for {
		nc, err := ln.Accept()
		if err != nil {
			eg.Wait()
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			nc.Close()
			continue
		}
		m.conns[nc] = struct{}{}
		m.mu.Unlock()

		eg.Go(func() error {
			m.state.HandleConn(nc)
			m.mu.Lock()
			delete(m.conns, nc)
			m.mu.Unlock()
			return nil
		})
	}
}

// Addr returns the listener address once Serve has started, or the
// configured address before that.
func (m *Master) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.addr
}

// Close stops the listener, drops open connections, and closes the store.
func (m *Master) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ln := m.ln
	conns := make([]net.Conn, 0, len(m.conns))
	for nc := range m.conns {
		conns = append(conns, nc)
	}
	m.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, nc := range conns {
		nc.Close()
	}
	return m.root.Close()
}

// directBackend gives the master synchronous access to one namespace of its
// own store, without going through the transport.
type directBackend struct {
	root kv.Store
	ns   string
}

func (b directBackend) Get(key []byte) ([]byte, error) {
	return b.root.Get(keyspace.Key(b.ns, key))
}

func (b directBackend) Put(key, value []byte) error {
	return b.root.Put(keyspace.Key(b.ns, key), value, true)
}

func (b directBackend) Delete(key []byte) error {
	return b.root.Delete(keyspace.Key(b.ns, key), true)
}
