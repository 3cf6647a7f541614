// Package streamtransport is a reference session.TransportLayer built on
// top of net.Conn: every accepted connection is one logical connection on
// one physical slot, and its raw byte stream is handed to the session layer
// unparsed, exactly as it arrived off the wire.
//
// It follows the same accept-loop-plus-per-connection-read-loop shape the
// console-server daemon used for its own socket handling, adapted here from
// a single long-lived session to many concurrent slot/connection pairs.
package streamtransport

import (
	"fmt"
	"net"
	"sync"

	"cisessiond/internal/session"
)

const readBufferSize = 4096

// Logger is the minimal logging surface streamtransport needs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

type connKey struct {
	slotID uint8
	connID uint8
}

// Transport implements session.TransportLayer over accepted net.Conns,
// keyed by (slotID, connID) pairs assigned at accept time.
type Transport struct {
	mu     sync.Mutex
	conns  map[connKey]net.Conn
	nextID map[uint8]uint8
	cb     session.TransportCallback
	logger Logger
}

// New creates an empty Transport. Call RegisterCallback (done automatically
// by session.New) before accepting connections.
func New(opts ...Option) *Transport {
	t := &Transport{
		conns:  make(map[connKey]net.Conn),
		nextID: make(map[uint8]uint8),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithLogger installs a Logger for accept/read diagnostics.
func WithLogger(l Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// RegisterCallback satisfies session.TransportLayer.
func (t *Transport) RegisterCallback(cb session.TransportCallback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

// Serve accepts connections from ln forever, each one becoming a new
// connection on slotID. It returns when ln.Accept fails (typically because
// ln was closed by the caller).
func (t *Transport) Serve(ln net.Listener, slotID uint8) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("streamtransport: accept on slot %d: %w", slotID, err)
		}
		connID := t.allocateConnID(slotID)
		t.mu.Lock()
		t.conns[connKey{slotID, connID}] = conn
		t.mu.Unlock()
		t.logger.Debugf("streamtransport: slot=%d conn=%d accepted from %s", slotID, connID, conn.RemoteAddr())
		go t.readLoop(slotID, connID, conn)
	}
}

func (t *Transport) allocateConnID(slotID uint8) uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID[slotID]
	t.nextID[slotID] = id + 1
	return id
}

func (t *Transport) readLoop(slotID, connID uint8, conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.deliver(session.ReasonData, append([]byte(nil), buf[:n]...), slotID, connID)
		}
		if err != nil {
			t.logger.Debugf("streamtransport: slot=%d conn=%d closed: %v", slotID, connID, err)
			t.mu.Lock()
			delete(t.conns, connKey{slotID, connID})
			t.mu.Unlock()
			t.deliver(session.ReasonConnectionClose, nil, slotID, connID)
			return
		}
	}
}

func (t *Transport) deliver(reason session.CallbackReason, data []byte, slotID, connID uint8) {
	t.mu.Lock()
	cb := t.cb
	t.mu.Unlock()
	if cb != nil {
		cb(reason, data, slotID, connID)
	}
}

// SendData satisfies session.TransportLayer.
func (t *Transport) SendData(slotID, connID uint8, data []byte) error {
	conn, ok := t.lookupConn(slotID, connID)
	if !ok {
		return fmt.Errorf("streamtransport: no connection for slot=%d conn=%d", slotID, connID)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("streamtransport: write slot=%d conn=%d: %w", slotID, connID, err)
	}
	return nil
}

// SendDataV satisfies session.TransportLayer, using net.Buffers so the
// segments reach the wire as a single writev where the platform supports it.
func (t *Transport) SendDataV(slotID, connID uint8, iov [][]byte) error {
	conn, ok := t.lookupConn(slotID, connID)
	if !ok {
		return fmt.Errorf("streamtransport: no connection for slot=%d conn=%d", slotID, connID)
	}
	buffers := net.Buffers(iov)
	if _, err := buffers.WriteTo(conn); err != nil {
		return fmt.Errorf("streamtransport: writev slot=%d conn=%d: %w", slotID, connID, err)
	}
	return nil
}

func (t *Transport) lookupConn(slotID, connID uint8) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[connKey{slotID, connID}]
	return conn, ok
}

// CloseSlot closes every connection currently open on slotID and notifies
// the session layer with ReasonSlotClose once, modelling a CI slot eject.
func (t *Transport) CloseSlot(slotID uint8) {
	t.mu.Lock()
	var toClose []net.Conn
	for key, conn := range t.conns {
		if key.slotID == slotID {
			toClose = append(toClose, conn)
			delete(t.conns, key)
		}
	}
	t.mu.Unlock()

	for _, conn := range toClose {
		conn.Close()
	}
	t.deliver(session.ReasonSlotClose, nil, slotID, 0)
}

// Close closes every open connection. It delivers no ReasonSlotClose; each
// connection's read loop still delivers ReasonConnectionClose once its read
// fails on the closed connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	conns := make([]net.Conn, 0, len(t.conns))
	for _, conn := range t.conns {
		conns = append(conns, conn)
	}
	t.conns = make(map[connKey]net.Conn)
	t.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
