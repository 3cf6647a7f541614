package session

import "cisessiond/internal/spdu"

// noSessionNb is the sentinel session number carried on an OpenSessionRes
// that rejects the request: no session was ever allocated for it.
const noSessionNb uint16 = 0xFFFF

// onTransportEvent is the single callback the layer registers with its
// TransportLayer. It is invoked on the transport's own thread (its poll
// loop, in a real CI stack); inbound events for a given slot/connection are
// therefore serialised with each other, but never with host-initiated calls
// into the public API.
func (l *Layer) onTransportEvent(reason CallbackReason, data []byte, slotID, connID uint8) {
	switch reason {
	case ReasonData:
		l.handleData(data, slotID, connID)
	case ReasonConnectionClose:
		l.teardown(func(rec record) bool { return rec.ConnID == connID })
	case ReasonSlotClose:
		l.teardown(func(rec record) bool { return rec.SlotID == slotID })
	}
}

// handleData decodes and dispatches every SPDU found in data. A malformed
// SPDU is logged and the rest of the buffer is dropped — it never affects
// session state, and it never panics.
func (l *Layer) handleData(data []byte, slotID, connID uint8) {
	for len(data) > 0 {
		d, n, err := spdu.Decode(data)
		if err != nil {
			l.logger.Warnf("session: malformed SPDU from slot=%d conn=%d: %v", slotID, connID, err)
			l.metrics.RecordSPDUDropped(slotID)
			return
		}
		data = data[n:]
		l.metrics.RecordSPDUProcessed(uint8(d.Tag))
		l.dispatch(d, slotID, connID)
	}
}

func (l *Layer) dispatch(d spdu.Decoded, slotID, connID uint8) {
	switch d.Tag {
	case spdu.TagOpenSessionReq:
		l.handleOpenSessionReq(d.OpenSessionReq, slotID, connID)
	case spdu.TagCreateSessionRes:
		l.handleCreateSessionRes(d.CreateSessionRes, slotID, connID)
	case spdu.TagCloseSessionReq:
		l.handleCloseSessionReq(d.CloseSessionReq, slotID, connID)
	case spdu.TagCloseSessionRes:
		l.handleCloseSessionRes(d.CloseSessionRes, slotID, connID)
	case spdu.TagSessionNumber:
		l.handleSessionNumber(d.SessionNb, d.Payload, slotID, connID)
	default:
		l.logger.Warnf("session: unexpected SPDU tag 0x%02X from slot=%d conn=%d", uint8(d.Tag), slotID, connID)
	}
}

// handleOpenSessionReq is the module-initiated create path: Idle ->
// InCreation -> Active (or back to Idle on rejection).
func (l *Layer) handleOpenSessionReq(req spdu.OpenSessionReq, slotID, connID uint8) {
	resourceID := req.ResourceID

	lookup, _ := l.snapshotCallbacks()
	if lookup == nil {
		l.writeOpenSessionRes(slotID, connID, spdu.StatusCloseNoResource, resourceID, noSessionNb)
		return
	}

	decision, dataCB := lookup(slotID, resourceID)
	if decision != DecisionOpen {
		l.writeOpenSessionRes(slotID, connID, decisionStatus(decision), resourceID, noSessionNb)
		return
	}

	l.mu.Lock()
	idx, ok := l.allocateLocked()
	if !ok {
		l.mu.Unlock()
		// Lookup said Open but the table is full: the state never enters
		// InCreation and no lifecycle callback fires.
		l.writeOpenSessionRes(slotID, connID, spdu.StatusCloseNoResource, resourceID, noSessionNb)
		return
	}
	l.table[idx] = record{State: StateInCreation, ResourceID: resourceID, SlotID: slotID, ConnID: connID, Callback: dataCB}
	l.mu.Unlock()
	l.metrics.RecordStateChange(slotID, StateIdle, StateInCreation)
	sessionNb := uint16(idx)

	if veto := l.invokeLifecycle(ReasonConnecting, slotID, sessionNb, resourceID); veto != 0 {
		l.mu.Lock()
		l.table[idx] = record{}
		l.mu.Unlock()
		l.metrics.RecordStateChange(slotID, StateInCreation, StateIdle)
		l.writeOpenSessionRes(slotID, connID, spdu.StatusCloseResourceBusy, resourceID, sessionNb)
		l.invokeLifecycle(ReasonConnectFail, slotID, sessionNb, resourceID)
		return
	}

	if err := l.writeOpenSessionRes(slotID, connID, spdu.StatusOpen, resourceID, sessionNb); err != nil {
		// Transport write failed answering the open: roll back to Idle and
		// surface the failure the only way a remote-initiated open can —
		// through ConnectFail.
		l.mu.Lock()
		l.table[idx] = record{}
		l.mu.Unlock()
		l.metrics.RecordStateChange(slotID, StateInCreation, StateIdle)
		l.invokeLifecycle(ReasonConnectFail, slotID, sessionNb, resourceID)
		return
	}

	l.mu.Lock()
	if l.table[idx].State == StateInCreation {
		l.table[idx].State = StateActive
	}
	l.mu.Unlock()
	l.metrics.RecordStateChange(slotID, StateInCreation, StateActive)
	l.invokeLifecycle(ReasonConnected, slotID, sessionNb, resourceID)
}

func decisionStatus(d Decision) spdu.Status {
	switch d {
	case DecisionOpen:
		return spdu.StatusOpen
	case DecisionLowVersion:
		return spdu.StatusCloseResourceLowVersion
	case DecisionUnavailable:
		return spdu.StatusCloseResourceUnavailable
	default:
		return spdu.StatusCloseNoResource
	}
}

func (l *Layer) writeOpenSessionRes(slotID, connID uint8, status spdu.Status, resourceID uint32, sessionNb uint16) error {
	wire := spdu.OpenSessionRes{Status: status, ResourceID: resourceID, SessionNb: sessionNb}.Encode()
	if err := l.transport.SendData(slotID, connID, wire); err != nil {
		l.logger.Errorf("session: write OpenSessionRes failed slot=%d conn=%d: %v", slotID, connID, err)
		return err
	}
	return nil
}

// handleCreateSessionRes completes the host-initiated create: InCreation ->
// Active on status 0x00, InCreation -> Idle otherwise.
func (l *Layer) handleCreateSessionRes(res spdu.CreateSessionRes, slotID, connID uint8) {
	l.mu.Lock()
	idx, rec, ok := l.lookupLocked(res.SessionNb, slotID, connID)
	if !ok || rec.State != StateInCreation {
		l.mu.Unlock()
		l.logger.Debugf("session: CreateSessionRes for unknown/mismatched session %d from slot=%d conn=%d", res.SessionNb, slotID, connID)
		return
	}
	if res.Status == spdu.StatusOpen {
		l.table[idx].State = StateActive
		l.mu.Unlock()
		l.metrics.RecordStateChange(slotID, StateInCreation, StateActive)
		return
	}
	l.logger.Warnf("session: CreateSessionRes session=%d status=%s, reverting to Idle", res.SessionNb, res.Status)
	l.table[idx] = record{}
	l.mu.Unlock()
	l.metrics.RecordStateChange(slotID, StateInCreation, StateIdle)
}

// handleCloseSessionReq is the module-initiated destroy: Active -> Idle,
// with ST_CLOSE_SESSION_RES(0x00) sent back. A session-number mismatch
// yields ST_CLOSE_SESSION_RES(CloseNoResource) and no state change.
func (l *Layer) handleCloseSessionReq(req spdu.CloseSessionReq, slotID, connID uint8) {
	l.mu.Lock()
	idx, rec, ok := l.lookupLocked(req.SessionNb, slotID, connID)
	if !ok {
		l.mu.Unlock()
		l.writeCloseSessionRes(slotID, connID, spdu.StatusCloseNoResource, req.SessionNb)
		return
	}
	resourceID := l.table[idx].ResourceID
	l.table[idx] = record{}
	l.mu.Unlock()
	l.metrics.RecordStateChange(slotID, rec.State, StateIdle)

	l.writeCloseSessionRes(slotID, connID, spdu.StatusOpen, req.SessionNb)
	l.invokeLifecycle(ReasonClose, slotID, req.SessionNb, resourceID)
}

func (l *Layer) writeCloseSessionRes(slotID, connID uint8, status spdu.Status, sessionNb uint16) {
	wire := spdu.CloseSessionRes{Status: status, SessionNb: sessionNb}.Encode()
	if err := l.transport.SendData(slotID, connID, wire); err != nil {
		l.logger.Errorf("session: write CloseSessionRes failed slot=%d conn=%d: %v", slotID, connID, err)
	}
}

// handleCloseSessionRes completes the host-initiated destroy: InDeletion ->
// Idle.
func (l *Layer) handleCloseSessionRes(res spdu.CloseSessionRes, slotID, connID uint8) {
	l.mu.Lock()
	idx, rec, ok := l.lookupLocked(res.SessionNb, slotID, connID)
	if !ok || rec.State != StateInDeletion {
		l.mu.Unlock()
		l.logger.Debugf("session: CloseSessionRes for unknown/mismatched session %d from slot=%d conn=%d", res.SessionNb, slotID, connID)
		return
	}
	l.table[idx] = record{}
	l.mu.Unlock()
	l.metrics.RecordStateChange(rec.SlotID, StateInDeletion, StateIdle)
}

// handleSessionNumber routes payload on an Active session to its data
// callback. The callback is captured under the mutex and invoked outside it.
func (l *Layer) handleSessionNumber(sessionNb uint16, payload []byte, slotID, connID uint8) {
	l.mu.Lock()
	idx, rec, ok := l.lookupLocked(sessionNb, slotID, connID)
	if !ok || rec.State != StateActive {
		l.mu.Unlock()
		l.logger.Debugf("session: payload for unknown/inactive session %d from slot=%d conn=%d", sessionNb, slotID, connID)
		return
	}
	cb := l.table[idx].Callback
	resourceID := rec.ResourceID
	l.mu.Unlock()

	if cb != nil {
		cb(slotID, connID, sessionNb, resourceID, payload)
	}
}
