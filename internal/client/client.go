// Package client implements the worker side of the metadata service: a
// long-lived connection to the master, namespace handles with in-flight
// refcounting, and the deferred-reconnect protocol used when the cached
// manifest goes stale.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/aigotowork/bucketd/internal/kv"
	"github.com/aigotowork/bucketd/internal/logging"
	"github.com/aigotowork/bucketd/internal/manifest"
	"github.com/aigotowork/bucketd/internal/wire"
)

// ErrStaleManifest is returned by Namespace when the client's cached
// manifest does not list the requested namespace. A reconnect re-reads the
// manifest from disk and usually resolves it.
var ErrStaleManifest = errors.New("namespace not in cached manifest")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("client is closed")

// Session states.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Draining
)

// Config carries the knobs a worker needs to reach its master.
type Config struct {
	// MetadataPath is where the master publishes manifest.json.
	MetadataPath string

	// Addr is the master's RPC endpoint.
	Addr string

	// Log receives connection-level events.
	Log logging.Logger
}

// Client is one worker's session with the master.
//
// mu guards the session state (manifest, refcount, waiters); wmu serializes
// request/response pairs on the wire so responses always match the order
// requests were issued.
type Client struct {
	cfg Config

	wmu sync.Mutex

	mu      sync.Mutex
	state   State
	conn    *wire.Conn
	man     *manifest.Manifest
	refcnt  int64
	waiters []chan struct{}
	closed  bool
}

// Dial loads the manifest from disk and connects to the master.
func Dial(cfg Config) (*Client, error) {
	c := &Client{cfg: cfg, state: Connecting}

	man, conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	c.man = man
	c.conn = conn
	c.state = Ready
	return c, nil
}

func (c *Client) connect() (*manifest.Manifest, *wire.Conn, error) {
	man, err := c.loadManifest()
	if err != nil {
		return nil, nil, err
	}
	conn, err := c.dial()
	if err != nil {
		return nil, nil, err
	}
	return man, conn, nil
}

func (c *Client) loadManifest() (*manifest.Manifest, error) {
	man, err := manifest.Load(c.cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	return man, nil
}

func (c *Client) dial() (*wire.Conn, error) {
	nc, err := net.Dial("tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial master: %w", err)
	}
	return wire.NewConn(nc), nil
}

// State returns the session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Refcnt returns the number of outstanding namespace handles.
func (c *Client) Refcnt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refcnt
}

// Namespace returns a handle on a namespace listed by the cached manifest.
// The handle holds one reference on the session; every code path that
// obtains a handle must Close it exactly once.
func (c *Client) Namespace(name string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.man.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrStaleManifest, name)
	}
	c.refcnt++
	return &Handle{c: c, name: name}, nil
}

// CreateNamespace asks the master to create a namespace and publish a new
// manifest. The client's own cached manifest stays as it is; addressing the
// new namespace triggers the reconnect that picks the manifest up.
func (c *Client) CreateNamespace(name string) error {
	resp, err := c.call(&wire.Request{Op: wire.OpCreateNamespace, Namespace: name})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// Reconnect tears the session down and rebuilds it from the on-disk
// manifest. With in-flight handles outstanding, the session drains first:
// the reconnect happens when the refcount reaches zero.
func (c *Client) Reconnect() error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.refcnt == 0 {
			c.mu.Unlock()
			if done, err := c.tryReconnect(); done {
				return err
			}
			continue
		}

		// Defer until the outstanding handles release.
		ch := make(chan struct{})
		c.waiters = append(c.waiters, ch)
		c.state = Draining
		c.mu.Unlock()
		<-ch
	}
}

// tryReconnect swaps the connection and manifest, holding the wire lock so
// the swap never lands between a request and its response. done is false
// when a new handle slipped in and the drain must restart.
func (c *Client) tryReconnect() (done bool, err error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return true, ErrClosed
	}
	if c.refcnt != 0 {
		c.mu.Unlock()
		return false, nil
	}

	c.state = Connecting
	old := c.conn
	c.conn = nil
	c.man = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	// A manifest that cannot be read or parsed here means the worker has
	// lost its only way back to the master's namespace set.
	man, err := c.loadManifest()
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		c.cfg.Log.Fatal("manifest reload failed", logging.F("error", err))
		return true, err
	}

	conn, err := c.dial()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Disconnected
		c.cfg.Log.Error("reconnect failed", logging.F("error", err))
		return true, err
	}
	c.man = man
	c.conn = conn
	c.state = Ready
	c.cfg.Log.Info("reconnected",
		logging.F("manifestVersion", man.Version))
	return true, nil
}

// unref releases one handle reference and fires pending reconnect waiters
// when the session goes idle. A refcount below zero is a fatal invariant
// violation.
func (c *Client) unref() {
	c.mu.Lock()
	c.refcnt--
	if c.refcnt < 0 {
		c.mu.Unlock()
		c.cfg.Log.Fatal("refcount below zero")
		panic("bucketd: refcount below zero")
	}
	var wake []chan struct{}
	if c.refcnt == 0 && len(c.waiters) > 0 {
		wake = c.waiters
		c.waiters = nil
	}
	c.mu.Unlock()

	for _, ch := range wake {
		close(ch)
	}
}

// call performs one request/response exchange.
func (c *Client) call(req *wire.Request) (*wire.Response, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if conn == nil {
		return nil, errors.New("not connected")
	}

	if err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	var resp wire.Response
	if err := conn.Read(&resp); err != nil {
		return nil, fmt.Errorf("response failed: %w", err)
	}
	return &resp, nil
}

// respErr maps a wire error onto the client's error vocabulary.
func respErr(resp *wire.Response) error {
	if resp.Err == nil {
		return nil
	}
	switch resp.Err.Code {
	case wire.CodeNotFound:
		return fmt.Errorf("%w: %s", kv.ErrNotFound, resp.Err.Message)
	case wire.CodeNoSuchNamespace:
		return fmt.Errorf("%w: %s", ErrStaleManifest, resp.Err.Message)
	default:
		return resp.Err
	}
}

// Close tears the session down. Outstanding handles become no-ops on the
// wire but must still be closed by their holders.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = Disconnected
	conn := c.conn
	c.conn = nil
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
