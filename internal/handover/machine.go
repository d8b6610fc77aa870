package handover

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is how long a Pending request waits for an agent action
// before transitioning to Timeout.
const DefaultTimeout = 30 * time.Second

// Machine is the per-session handover state machine. All exported methods are
// safe for concurrent use: the session goroutine, the transport's agent-action
// path, and the internal deadline timer all contend on one mutex, and the
// epoch counter ensures a stale timer can never touch a newer request.
type Machine struct {
	sessionID string
	timeout   time.Duration
	onChange  func(Record)

	mu    sync.Mutex
	rec   Record
	epoch uint64
	timer *time.Timer

	// now and afterFunc are swapped in tests for deterministic clocks.
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// Option configures a [Machine] during construction.
type Option func(*Machine)

// WithClock replaces the wall clock and timer factory. Test hook.
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) *time.Timer) Option {
	return func(m *Machine) {
		m.now = now
		m.afterFunc = afterFunc
	}
}

// NewMachine creates a Machine for one session. onChange is invoked with a
// snapshot of the record after every transition, in transition order — the
// orchestrator uses it to notify subscribers and enqueue persistence. It
// runs with the machine lock held, so it must return quickly and must not
// call back into the Machine. A zero timeout selects [DefaultTimeout].
func NewMachine(sessionID string, timeout time.Duration, onChange func(Record), opts ...Option) (*Machine, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("handover: session id is required")
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("handover: timeout must be positive, got %v", timeout)
	}
	m := &Machine{
		sessionID: sessionID,
		timeout:   timeout,
		onChange:  onChange,
		rec:       Record{SessionID: sessionID},
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Record returns a snapshot of the current record.
func (m *Machine) Record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Request transitions None → Pending (also allowed from a terminal state: a
// session can be escalated again after an earlier request resolved) and arms
// the deadline timer. A request against an already-Pending record returns
// [ErrConflict].
func (m *Machine) Request(reason string) (Record, error) {
	m.mu.Lock()
	if m.rec.Status == StatusPending {
		m.mu.Unlock()
		return Record{}, fmt.Errorf("%w: request while pending", ErrConflict)
	}

	m.epoch++
	epoch := m.epoch
	m.rec = Record{
		SessionID:   m.sessionID,
		Status:      StatusPending,
		RequestedAt: m.now(),
		Reason:      reason,
	}
	m.stopTimerLocked()
	m.timer = m.afterFunc(m.timeout, func() { m.expire(epoch) })
	snapshot := m.rec
	m.notify(snapshot)
	m.mu.Unlock()

	return snapshot, nil
}

// Accept transitions Pending → Accepted, recording the accept time and the
// assigned agent. Returns [ErrConflict] when the record is not Pending — for
// example when the timeout won the race.
func (m *Machine) Accept(agentID string) (Record, error) {
	if agentID == "" {
		return Record{}, fmt.Errorf("handover: agent id is required for accept")
	}
	return m.terminal(StatusAccepted, agentID)
}

// Decline transitions Pending → Declined. Returns [ErrConflict] when the
// record is not Pending.
func (m *Machine) Decline() (Record, error) {
	return m.terminal(StatusDeclined, "")
}

// terminal performs the exactly-once compare-and-transition shared by the
// agent-action paths.
func (m *Machine) terminal(to Status, agentID string) (Record, error) {
	m.mu.Lock()
	if m.rec.Status != StatusPending {
		status := m.rec.Status
		m.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s attempted while %s", ErrConflict, to, status)
	}

	m.rec.Status = to
	if to == StatusAccepted {
		m.rec.AcceptedAt = m.now()
		m.rec.AssignedAgentID = agentID
	}
	// Cancel the deadline the instant the transition is recorded so a stale
	// timeout cannot fire afterwards.
	m.stopTimerLocked()
	snapshot := m.rec
	m.notify(snapshot)
	m.mu.Unlock()

	return snapshot, nil
}

// expire is the timer callback: Pending → Timeout, but only when the record
// still belongs to the epoch the timer was armed for. A lost race is logged
// as a conflict on behalf of the timer, which has no caller to return to.
func (m *Machine) expire(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.rec.Status != StatusPending {
		status := m.rec.Status
		m.mu.Unlock()
		slog.Debug("handover timeout lost the transition race",
			"session_id", m.sessionID,
			"status", status.String(),
		)
		return
	}

	m.rec.Status = StatusTimeout
	m.timer = nil
	snapshot := m.rec
	m.notify(snapshot)
	m.mu.Unlock()

	slog.Info("handover request timed out",
		"session_id", m.sessionID,
		"requested_at", snapshot.RequestedAt,
	)
}

// Stop cancels any pending timer. Called at session teardown; it does not
// transition the record.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) notify(rec Record) {
	if m.onChange != nil {
		m.onChange(rec)
	}
}
