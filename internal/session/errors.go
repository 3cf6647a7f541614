package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFreeSession is returned when the table has no Idle slot to host a
	// new session.
	ErrNoFreeSession = errors.New("session: no free session")
	// ErrBadSessionNumber is returned when a session number is out of range
	// or not in the state the requested operation needs.
	ErrBadSessionNumber = errors.New("session: bad session number")
	// ErrIovLimit is returned by SendDataV when given more than 9 segments.
	ErrIovLimit = errors.New("session: more than 9 iovec segments")
)

// TransportError wraps a failure reported by the TransportLayer.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Err: err}
}
