// Package session implements the EN 50221 Common Interface session layer:
// it demultiplexes SPDUs arriving from a TransportLayer onto a fixed-size
// table of logical sessions, drives each through the Idle/InCreation/
// Active/InDeletion state machine, and exposes a narrow send/receive
// contract to application resources without leaking slot, connection, or
// framing details.
package session

import (
	"sync"

	"cisessiond/internal/spdu"
)

// Layer owns the session table, the transport it multiplexes onto, and the
// two caller-supplied callbacks (lookup and lifecycle). A single mutex
// guards all of it; the mutex is never held while invoking a user callback
// or a transport send — see snapshot/invoke helpers below.
type Layer struct {
	mu        sync.Mutex
	table     []record
	transport TransportLayer
	lookup    LookupFunc
	sessionCB SessionCallback
	lastErr   error
	logger    Logger
	metrics   Metrics
}

// Option configures a Layer at construction time.
type Option func(*Layer)

// WithLogger installs a Logger for malformed-SPDU and diagnostic messages.
// Without it, the layer logs nothing.
func WithLogger(l Logger) Option {
	return func(layer *Layer) { layer.logger = l }
}

// WithMetrics installs a Metrics sink for state-change and SPDU-traffic
// observability. Without it, the layer records nothing.
func WithMetrics(m Metrics) Option {
	return func(layer *Layer) { layer.metrics = m }
}

// New creates a session layer with room for maxSessions concurrent sessions
// and registers its callback with transport. maxSessions must be positive.
func New(transport TransportLayer, maxSessions int, opts ...Option) (*Layer, error) {
	if maxSessions <= 0 {
		return nil, ErrNoFreeSession
	}
	l := &Layer{
		table:     make([]record, maxSessions),
		transport: transport,
		logger:    noopLogger{},
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	transport.RegisterCallback(l.onTransportEvent)
	return l, nil
}

// Close releases the layer. The session layer owns no goroutines of its
// own — inbound dispatch runs on the transport's callback thread — so this
// only exists for API symmetry with create(transport, max_sessions).
func (l *Layer) Close() error {
	return nil
}

// RegisterLookup installs the callback invoked when the module requests a
// resource via OpenSessionReq.
func (l *Layer) RegisterLookup(fn LookupFunc) {
	l.mu.Lock()
	l.lookup = fn
	l.mu.Unlock()
}

// RegisterSessionCallback installs the session-lifecycle callback.
func (l *Layer) RegisterSessionCallback(fn SessionCallback) {
	l.mu.Lock()
	l.sessionCB = fn
	l.mu.Unlock()
}

// LastError returns the last error recorded by a public-API call, for
// callers that prefer a getter over the returned error (kept for parity
// with the original en50221_sl_get_error accessor).
func (l *Layer) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Layer) setLastErrLocked(err error) {
	l.lastErr = err
}

func (l *Layer) setLastErr(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// CreateSession is the host-initiated create: it allocates a session, sends
// ST_CREATE_SESSION to the module, and leaves the session InCreation until
// ST_CREATE_SESSION_RES arrives.
func (l *Layer) CreateSession(slotID, connID uint8, resourceID uint32, cb DataCallback) (uint16, error) {
	l.mu.Lock()
	idx, ok := l.allocateLocked()
	if !ok {
		l.setLastErrLocked(ErrNoFreeSession)
		l.mu.Unlock()
		return 0, ErrNoFreeSession
	}
	l.table[idx] = record{State: StateInCreation, ResourceID: resourceID, SlotID: slotID, ConnID: connID, Callback: cb}
	l.mu.Unlock()
	l.metrics.RecordStateChange(slotID, StateIdle, StateInCreation)

	wire := spdu.CreateSession{ResourceID: resourceID, SessionNb: uint16(idx)}.Encode()
	if err := l.transport.SendData(slotID, connID, wire); err != nil {
		l.mu.Lock()
		l.table[idx] = record{}
		l.mu.Unlock()
		l.metrics.RecordStateChange(slotID, StateInCreation, StateIdle)
		wrapped := wrapTransportErr(err)
		l.setLastErr(wrapped)
		return 0, wrapped
	}
	return uint16(idx), nil
}

// DestroySession is the host-initiated destroy: Active -> InDeletion, with
// ST_CLOSE_SESSION_REQ sent to the module. It does not wait for the
// response; the session stays InDeletion until ST_CLOSE_SESSION_RES arrives
// or the connection/slot closes. Calling it again on a session already
// InDeletion is not an error: it resends ST_CLOSE_SESSION_REQ without a
// state transition.
func (l *Layer) DestroySession(sessionNb uint16) error {
	l.mu.Lock()
	if int(sessionNb) >= len(l.table) {
		l.setLastErrLocked(ErrBadSessionNumber)
		l.mu.Unlock()
		return ErrBadSessionNumber
	}
	state := l.table[sessionNb].State
	if state != StateActive && state != StateInDeletion {
		l.setLastErrLocked(ErrBadSessionNumber)
		l.mu.Unlock()
		return ErrBadSessionNumber
	}
	rec := l.table[sessionNb]
	if state == StateActive {
		l.table[sessionNb].State = StateInDeletion
	}
	l.mu.Unlock()
	if state == StateActive {
		l.metrics.RecordStateChange(rec.SlotID, StateActive, StateInDeletion)
	}

	wire := spdu.CloseSessionReq{SessionNb: sessionNb}.Encode()
	if err := l.transport.SendData(rec.SlotID, rec.ConnID, wire); err != nil {
		wrapped := wrapTransportErr(err)
		l.setLastErr(wrapped)
		return wrapped
	}
	return nil
}

// SendData sends payload on an Active session, framed under
// ST_SESSION_NUMBER. Re-checks Active under the mutex, snapshots the
// destination, then writes outside the lock — a concurrent teardown may
// still race this write, in which case whatever the transport reports is
// returned wrapped in a TransportError.
func (l *Layer) SendData(sessionNb uint16, data []byte) error {
	slotID, connID, ok := l.snapshotActive(sessionNb)
	if !ok {
		l.setLastErr(ErrBadSessionNumber)
		return ErrBadSessionNumber
	}
	wire, err := spdu.EncodeSessionNumber(sessionNb, data)
	if err != nil {
		l.setLastErr(err)
		return err
	}
	if err := l.transport.SendData(slotID, connID, wire); err != nil {
		wrapped := wrapTransportErr(err)
		l.setLastErr(wrapped)
		return wrapped
	}
	return nil
}

// SendDataV is the scatter/gather form of SendData: up to 9 segments plus
// the SPDU header are written in a single transport call.
func (l *Layer) SendDataV(sessionNb uint16, segments [][]byte) error {
	if len(segments) > 9 {
		l.setLastErr(ErrIovLimit)
		return ErrIovLimit
	}
	slotID, connID, ok := l.snapshotActive(sessionNb)
	if !ok {
		l.setLastErr(ErrBadSessionNumber)
		return ErrBadSessionNumber
	}
	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	header, err := spdu.EncodeSessionNumberHeader(sessionNb, total)
	if err != nil {
		l.setLastErr(err)
		return err
	}
	iov := make([][]byte, 0, 1+len(segments))
	iov = append(iov, header)
	iov = append(iov, segments...)
	if err := l.transport.SendDataV(slotID, connID, iov); err != nil {
		wrapped := wrapTransportErr(err)
		l.setLastErr(wrapped)
		return wrapped
	}
	return nil
}

// BroadcastData writes data to every Active session bound to resourceID,
// optionally restricted to one slot. Sessions are snapshotted under the
// mutex; writes happen outside it. It returns the first send error
// encountered but still attempts every matching session.
func (l *Layer) BroadcastData(slotFilter *uint8, resourceID uint32, data []byte) error {
	type target struct {
		sessionNb    uint16
		slotID       uint8
		connID       uint8
	}

	l.mu.Lock()
	var targets []target
	for i := range l.table {
		rec := l.table[i]
		if rec.State != StateActive || rec.ResourceID != resourceID {
			continue
		}
		if slotFilter != nil && rec.SlotID != *slotFilter {
			continue
		}
		targets = append(targets, target{sessionNb: uint16(i), slotID: rec.SlotID, connID: rec.ConnID})
	}
	l.mu.Unlock()

	var firstErr error
	for _, t := range targets {
		wire, err := spdu.EncodeSessionNumber(t.sessionNb, data)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := l.transport.SendData(t.slotID, t.connID, wire); err != nil {
			if firstErr == nil {
				firstErr = wrapTransportErr(err)
			}
		}
	}
	if firstErr != nil {
		l.setLastErr(firstErr)
	}
	return firstErr
}

// snapshotActive re-checks that sessionNb is Active and returns its
// destination, all under the mutex.
func (l *Layer) snapshotActive(sessionNb uint16) (slotID, connID uint8, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(sessionNb) >= len(l.table) || l.table[sessionNb].State != StateActive {
		return 0, 0, false
	}
	rec := l.table[sessionNb]
	return rec.SlotID, rec.ConnID, true
}

// snapshotCallbacks reads the currently-registered lookup and session
// callbacks into locals under the mutex.
func (l *Layer) snapshotCallbacks() (LookupFunc, SessionCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup, l.sessionCB
}

// invokeLifecycle calls the registered session callback, if any, outside
// the mutex. It returns 0 (no veto) when no callback is registered.
func (l *Layer) invokeLifecycle(reason LifecycleReason, slotID uint8, sessionNb uint16, resourceID uint32) int {
	_, cb := l.snapshotCallbacks()
	if cb == nil {
		return 0
	}
	return cb(reason, slotID, sessionNb, resourceID)
}
