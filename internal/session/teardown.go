package session

// teardown forces every non-Idle session matching match back to Idle,
// notifying the lifecycle callback with ReasonClose exactly once per
// session, before the lock is retaken to clear it. Order across sessions is
// natural index order; callers must not rely on it.
func (l *Layer) teardown(match func(rec record) bool) {
	l.mu.Lock()
	type affected struct {
		idx        int
		sessionNb  uint16
		resourceID uint32
		recSlot    uint8
	}
	var hit []affected
	for i := range l.table {
		rec := l.table[i]
		if rec.State == StateIdle || !match(rec) {
			continue
		}
		hit = append(hit, affected{idx: i, sessionNb: uint16(i), resourceID: rec.ResourceID, recSlot: rec.SlotID})
	}
	l.mu.Unlock()

	for _, a := range hit {
		l.invokeLifecycle(ReasonClose, a.recSlot, a.sessionNb, a.resourceID)
		l.mu.Lock()
		// The session may already have been raced to Idle (e.g. the module
		// itself closed it between the snapshot above and now); setting it
		// to the zero record either way is safe and idempotent.
		prev := l.table[a.idx].State
		l.table[a.idx] = record{}
		l.mu.Unlock()
		if prev != StateIdle {
			l.metrics.RecordStateChange(a.recSlot, prev, StateIdle)
		}
		l.metrics.RecordTeardown(a.recSlot)
	}
}
