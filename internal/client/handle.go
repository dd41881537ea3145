package client

import (
	"sync"

	"github.com/aigotowork/bucketd/internal/wire"
)

// Handle is a namespace handle carrying one reference on the session.
// Close releases the reference; releasing is idempotent so every exit path
// can defer it.
type Handle struct {
	c    *Client
	name string
	once sync.Once
}

// Name returns the namespace this handle is bound to.
func (h *Handle) Name() string { return h.name }

// Close releases the handle's session reference.
func (h *Handle) Close() {
	h.once.Do(h.c.unref)
}

// Get fetches one key from the namespace.
func (h *Handle) Get(key []byte) ([]byte, error) {
	resp, err := h.c.call(&wire.Request{Op: wire.OpGet, Namespace: h.name, Key: key})
	if err != nil {
		return nil, err
	}
	if err := respErr(resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Put stores one key in the namespace.
func (h *Handle) Put(key, value []byte, sync bool) error {
	resp, err := h.c.call(&wire.Request{
		Op:        wire.OpPut,
		Namespace: h.name,
		Key:       key,
		Value:     value,
		Sync:      sync,
	})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// Delete removes one key from the namespace.
func (h *Handle) Delete(key []byte, sync bool) error {
	resp, err := h.c.call(&wire.Request{
		Op:        wire.OpDel,
		Namespace: h.name,
		Key:       key,
		Sync:      sync,
	})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// Scan opens a server-side cursor over the namespace.
func (h *Handle) Scan(spec wire.RangeSpec) (*Scan, error) {
	resp, err := h.c.call(&wire.Request{
		Op:        wire.OpScanOpen,
		Namespace: h.name,
		Range:     &spec,
	})
	if err != nil {
		return nil, err
	}
	if err := respErr(resp); err != nil {
		return nil, err
	}
	return &Scan{c: h.c, id: resp.ScanID}, nil
}

// Scan is a client-side view of a server cursor. Records arrive in bounded
// batches; Close releases the server cursor and is idempotent, also after
// the cursor has reported its end.
type Scan struct {
	c  *Client
	id string

	buf []wire.Record
	idx int
	end bool

	key   []byte
	value []byte
	err   error

	closeOnce sync.Once
	closed    bool
}

// Next advances to the next record, pulling a batch from the server when
// the local buffer is drained.
func (s *Scan) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	for s.idx >= len(s.buf) {
		if s.end {
			return false
		}
		resp, err := s.c.call(&wire.Request{Op: wire.OpScanPull, ScanID: s.id})
		if err == nil {
			err = respErr(resp)
		}
		if err != nil {
			s.err = err
			return false
		}
		s.buf = resp.Records
		s.idx = 0
		s.end = resp.End
	}

	rec := s.buf[s.idx]
	s.idx++
	s.key = rec.Key
	s.value = rec.Value
	return true
}

// Key returns the current record's key.
func (s *Scan) Key() []byte { return s.key }

// Value returns the current record's value.
func (s *Scan) Value() []byte { return s.value }

// Err returns the first failure the scan hit.
func (s *Scan) Err() error { return s.err }

// Close releases the server-side cursor. No records are delivered after
// Close.
func (s *Scan) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		_, err = s.c.call(&wire.Request{Op: wire.OpScanClose, ScanID: s.id})
	})
	return err
}
