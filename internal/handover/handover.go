// Package handover implements session-ownership transfer from the automated
// agent to a human agent.
//
// A handover request moves the session's record from None to Pending and arms
// a deadline timer. Exactly one of three terminal transitions then applies:
// Accepted or Declined from an agent action, or Timeout from the timer. The
// timer callback and agent actions run on different goroutines, so the
// transition goes through a single mutex-guarded compare-and-transition with
// an epoch counter — whichever path loses the race receives [ErrConflict]
// instead of silently overwriting the winner. A fresh request after a
// terminal state opens a new epoch.
//
// Independent of audio framing; the only collaborator is a [Store] mirroring
// the four persisted fields.
package handover

import (
	"context"
	"errors"
	"time"
)

// Status is the handover lifecycle state.
type Status string

const (
	// StatusNone means no handover has been requested (persisted as NULL).
	StatusNone Status = ""

	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusTimeout  Status = "timeout"
)

// Terminal reports whether s is one of the three terminal outcomes.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusDeclined || s == StatusTimeout
}

// String returns the persisted representation; StatusNone renders as "none"
// for logs.
func (s Status) String() string {
	if s == StatusNone {
		return "none"
	}
	return string(s)
}

// ErrConflict is returned to a transition attempt that lost the race against
// another path: the record is already terminal (or not in the state the
// transition requires). The record itself remains correct; the caller treats
// this as a no-op failure.
var ErrConflict = errors.New("handover: record already transitioned")

// Record is the session's handover state. The four fields after SessionID
// mirror the external store's schema exactly.
type Record struct {
	SessionID string

	Status          Status
	RequestedAt     time.Time // zero when Status is None
	AcceptedAt      time.Time // zero unless Status is Accepted
	AssignedAgentID string    // empty unless Status is Accepted

	// Reason is the trigger reason supplied with the request. Not persisted;
	// carried on status-change events for the agent console.
	Reason string
}

// Store mirrors the four handover fields to external persistence. The core
// does not own schema migration; implementations adapt to the store's
// existing session table.
type Store interface {
	// SaveHandover writes rec's persisted fields for rec.SessionID.
	SaveHandover(ctx context.Context, rec Record) error
}
