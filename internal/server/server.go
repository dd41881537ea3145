// Package server implements the master side of the metadata service: the
// namespace registry, the manifest publisher, and the RPC request loop
// multiplexing worker connections onto the shared store.
package server

import (
	"errors"
	"io"
	"net"

	"github.com/google/uuid"

	"github.com/aigotowork/bucketd/internal/keyspace"
	"github.com/aigotowork/bucketd/internal/kv"
	"github.com/aigotowork/bucketd/internal/logging"
	"github.com/aigotowork/bucketd/internal/wire"
)

// scanBatchSize bounds the number of records returned by one scanPull.
const scanBatchSize = 128

// State is the master's mutable state: the shared store and the namespace
// registry. One State serves every connection.
type State struct {
	root kv.Store
	reg  *Registry
	log  logging.Logger
}

// New builds the server state.
func New(root kv.Store, reg *Registry, log logging.Logger) *State {
	return &State{root: root, reg: reg, log: log}
}

// HandleConn serves one worker connection until it closes. Requests are
// processed strictly in arrival order, so responses are delivered in the
// order their requests were issued.
func (s *State) HandleConn(nc net.Conn) {
	sess := &session{
		st:    s,
		conn:  wire.NewConn(nc),
		scans: make(map[string]kv.Iterator),
	}
	defer sess.cleanup()

	for {
		var req wire.Request
		if err := sess.conn.Read(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("connection read failed", logging.F("error", err))
			}
			return
		}
		resp := sess.handle(&req)
		if err := sess.conn.Write(resp); err != nil {
			s.log.Warn("connection write failed", logging.F("error", err))
			return
		}
	}
}

// session is the per-connection state: the framed conn and the open scan
// cursors. Cursors are only ever touched by the connection's own loop.
type session struct {
	st    *State
	conn  *wire.Conn
	scans map[string]kv.Iterator
}

func (sess *session) cleanup() {
	for id, it := range sess.scans {
		it.Close()
		delete(sess.scans, id)
	}
	sess.conn.Close()
}

func errResponse(code, msg string) *wire.Response {
	return &wire.Response{Err: &wire.Error{Code: code, Message: msg}}
}

func (sess *session) handle(req *wire.Request) *wire.Response {
	switch req.Op {
	case wire.OpCreateNamespace:
		return sess.createNamespace(req)
	case wire.OpGet, wire.OpPut, wire.OpDel, wire.OpScanOpen:
		if !sess.st.reg.Has(req.Namespace) {
			return errResponse(wire.CodeNoSuchNamespace, req.Namespace)
		}
	case wire.OpScanPull, wire.OpScanClose:
	default:
		return errResponse(wire.CodeBadRequest, "unknown op: "+req.Op)
	}

	switch req.Op {
	case wire.OpGet:
		return sess.get(req)
	case wire.OpPut:
		return sess.put(req)
	case wire.OpDel:
		return sess.del(req)
	case wire.OpScanOpen:
		return sess.scanOpen(req)
	case wire.OpScanPull:
		return sess.scanPull(req)
	default:
		return sess.scanClose(req)
	}
}

func (sess *session) createNamespace(req *wire.Request) *wire.Response {
	if req.Namespace == "" {
		return errResponse(wire.CodeBadRequest, "empty namespace")
	}
	// The manifest is published before the reply so that a client
	// re-reading it after this response always sees the namespace.
	if err := sess.st.reg.Create(req.Namespace); err != nil {
		sess.st.log.Error("namespace create failed",
			logging.F("namespace", req.Namespace), logging.F("error", err))
		return errResponse(wire.CodeInternal, err.Error())
	}
	return &wire.Response{}
}

func (sess *session) get(req *wire.Request) *wire.Response {
	value, err := sess.st.root.Get(keyspace.Key(req.Namespace, req.Key))
	if errors.Is(err, kv.ErrNotFound) {
		return errResponse(wire.CodeNotFound, string(req.Key))
	}
	if err != nil {
		sess.st.log.Error("get failed", logging.F("error", err))
		return errResponse(wire.CodeInternal, err.Error())
	}
	return &wire.Response{Value: value}
}

func (sess *session) put(req *wire.Request) *wire.Response {
	if err := sess.st.root.Put(keyspace.Key(req.Namespace, req.Key), req.Value, req.Sync); err != nil {
		sess.st.log.Error("put failed", logging.F("error", err))
		return errResponse(wire.CodeInternal, err.Error())
	}
	return &wire.Response{}
}

func (sess *session) del(req *wire.Request) *wire.Response {
	if err := sess.st.root.Delete(keyspace.Key(req.Namespace, req.Key), req.Sync); err != nil {
		sess.st.log.Error("delete failed", logging.F("error", err))
		return errResponse(wire.CodeInternal, err.Error())
	}
	return &wire.Response{}
}

func (sess *session) scanOpen(req *wire.Request) *wire.Response {
	var spec wire.RangeSpec
	if req.Range != nil {
		spec = *req.Range
	}
	it := sess.st.root.Scan(namespaceRange(req.Namespace, spec))
	id := uuid.NewString()
	sess.scans[id] = &prefixIterator{
		Iterator: it,
		prefix:   keyspace.Prefix(req.Namespace),
	}
	return &wire.Response{ScanID: id}
}

func (sess *session) scanPull(req *wire.Request) *wire.Response {
	it, ok := sess.scans[req.ScanID]
	if !ok {
		return errResponse(wire.CodeBadRequest, "unknown scan: "+req.ScanID)
	}

	records := make([]wire.Record, 0, scanBatchSize)
	for len(records) < scanBatchSize && it.Next() {
		records = append(records, wire.Record{Key: it.Key(), Value: it.Value()})
	}
	if err := it.Err(); err != nil {
		sess.st.log.Error("scan failed", logging.F("error", err))
		return errResponse(wire.CodeInternal, err.Error())
	}
	// A short batch means the cursor is exhausted; the cursor stays
	// registered until scanClose so repeated pulls keep reporting end.
	return &wire.Response{Records: records, End: len(records) < scanBatchSize}
}

func (sess *session) scanClose(req *wire.Request) *wire.Response {
	if it, ok := sess.scans[req.ScanID]; ok {
		it.Close()
		delete(sess.scans, req.ScanID)
	}
	return &wire.Response{End: true}
}

// namespaceRange rebases client-relative scan bounds into the namespace's
// slice of the shared keyspace.
func namespaceRange(namespace string, spec wire.RangeSpec) kv.Range {
	prefix := keyspace.Prefix(namespace)
	abs := func(b []byte) []byte {
		if b == nil {
			return nil
		}
		return append(append([]byte(nil), prefix...), b...)
	}

	rng := kv.Range{
		GT:      abs(spec.GT),
		GTE:     abs(spec.GTE),
		LT:      abs(spec.LT),
		LTE:     abs(spec.LTE),
		Start:   abs(spec.Start),
		Limit:   spec.Limit,
		Reverse: spec.Reverse,
	}
	if rng.GT == nil && rng.GTE == nil && rng.Start == nil {
		rng.Start = prefix
	}
	if rng.LT == nil && rng.LTE == nil {
		if end, ok := keyspace.Advance(prefix); ok {
			rng.LT = end
		}
	}
	return rng
}

// prefixIterator strips the namespace prefix from delivered keys.
type prefixIterator struct {
	kv.Iterator
	prefix []byte
	key    []byte
}

func (it *prefixIterator) Next() bool {
	for it.Iterator.Next() {
		key, ok := keyspace.Strip(it.prefix, it.Iterator.Key())
		if !ok {
			continue
		}
		it.key = key
		return true
	}
	return false
}

func (it *prefixIterator) Key() []byte { return it.key }
