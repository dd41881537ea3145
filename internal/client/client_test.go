package client

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigotowork/bucketd/internal/kv"
	"github.com/aigotowork/bucketd/internal/logging"
	"github.com/aigotowork/bucketd/internal/server"
	"github.com/aigotowork/bucketd/internal/wire"
)

// testMaster is a minimal master: a store, a registry publishing into a
// temp metadata path, and a TCP listener handing connections to the server
// loop.
type testMaster struct {
	metadataPath string
	reg          *server.Registry
	addr         string
}

func startMaster(t *testing.T, namespaces ...string) *testMaster {
	t.Helper()

	metadataPath := t.TempDir()
	root, err := kv.Open(filepath.Join(metadataPath, "root.db"))
	require.NoError(t, err)
	t.Cleanup(func() { root.Close() })

	reg := server.NewRegistry(metadataPath)
	for _, ns := range namespaces {
		reg.Restore(ns)
	}
	require.NoError(t, reg.Publish())

	st := server.New(root, reg, logging.NewNoop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go st.HandleConn(nc)
		}
	}()

	return &testMaster{metadataPath: metadataPath, reg: reg, addr: ln.Addr().String()}
}

func dialTest(t *testing.T, tm *testMaster) *Client {
	t.Helper()
	c, err := Dial(Config{
		MetadataPath: tm.metadataPath,
		Addr:         tm.addr,
		Log:          logging.NewNoop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialLoadsManifest(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	assert.Equal(t, Ready, c.State())

	h, err := c.Namespace("b1")
	require.NoError(t, err)
	defer h.Close()
}

func TestNamespaceRefcounting(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	h1, err := c.Namespace("b1")
	require.NoError(t, err)
	h2, err := c.Namespace("b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Refcnt())

	h1.Close()
	h1.Close() // releasing twice must not double-count
	assert.Equal(t, int64(1), c.Refcnt())

	h2.Close()
	assert.Equal(t, int64(0), c.Refcnt())
}

func TestStaleManifest(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	_, err := c.Namespace("unknown")
	require.ErrorIs(t, err, ErrStaleManifest)
}

func TestHandleKVOps(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	h, err := c.Namespace("b1")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Put([]byte("k"), []byte("v"), true))

	v, err := h.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, h.Delete([]byte("k"), true))

	_, err = h.Get([]byte("k"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestScanStream(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	h, err := c.Namespace("b1")
	require.NoError(t, err)
	defer h.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, h.Put([]byte(k), []byte("v-"+k), false))
	}

	scan, err := h.Scan(wire.RangeSpec{GT: []byte("a")})
	require.NoError(t, err)

	var keys []string
	for scan.Next() {
		keys = append(keys, string(scan.Key()))
	}
	require.NoError(t, scan.Err())
	assert.Equal(t, []string{"b", "c"}, keys)

	require.NoError(t, scan.Close())
	require.NoError(t, scan.Close())
	assert.False(t, scan.Next())
}

func TestScanCloseStopsDelivery(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	h, err := c.Namespace("b1")
	require.NoError(t, err)
	defer h.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, h.Put([]byte(k), []byte("v"), false))
	}

	scan, err := h.Scan(wire.RangeSpec{})
	require.NoError(t, err)
	require.True(t, scan.Next())
	require.NoError(t, scan.Close())
	assert.False(t, scan.Next())
}

func TestCreateNamespaceAndReconnect(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	// The new namespace is published server-side but the cached manifest
	// does not know it yet.
	require.NoError(t, c.CreateNamespace("b2"))
	_, err := c.Namespace("b2")
	require.ErrorIs(t, err, ErrStaleManifest)

	// An idle client reconnects immediately and picks the manifest up.
	require.NoError(t, c.Reconnect())
	h, err := c.Namespace("b2")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Put([]byte("k"), []byte("v"), true))
}

func TestReconnectDefersUntilIdle(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	h, err := c.Namespace("b1")
	require.NoError(t, err)

	require.NoError(t, c.CreateNamespace("b2"))

	var wg sync.WaitGroup
	wg.Add(1)
	reconnected := make(chan error, 1)
	go func() {
		defer wg.Done()
		reconnected <- c.Reconnect()
	}()

	// The reconnect must wait for the outstanding handle.
	require.Eventually(t, func() bool {
		return c.State() == Draining
	}, time.Second, 5*time.Millisecond)

	select {
	case <-reconnected:
		t.Fatal("reconnect completed while a handle was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	// The in-flight operation still works on the old session.
	require.NoError(t, h.Put([]byte("k"), []byte("v"), true))

	h.Close()
	wg.Wait()
	require.NoError(t, <-reconnected)
	assert.Equal(t, Ready, c.State())

	h2, err := c.Namespace("b2")
	require.NoError(t, err)
	defer h2.Close()
}

func TestCloseUnblocksWaiters(t *testing.T) {
	tm := startMaster(t, "b1")
	c := dialTest(t, tm)

	h, err := c.Namespace("b1")
	require.NoError(t, err)
	defer h.Close()

	done := make(chan error, 1)
	go func() {
		done <- c.Reconnect()
	}()

	require.Eventually(t, func() bool {
		return c.State() == Draining
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reconnect did not observe close")
	}
}
