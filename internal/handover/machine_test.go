package handover_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
)

// manualTimer captures timer callbacks so tests fire the deadline
// deterministically instead of sleeping.
type manualTimer struct {
	mu        sync.Mutex
	callbacks []func()
}

func (mt *manualTimer) afterFunc(_ time.Duration, fn func()) *time.Timer {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.callbacks = append(mt.callbacks, fn)
	// A real timer far in the future; the test triggers fn by hand.
	return time.NewTimer(time.Hour)
}

// fire invokes the most recently armed callback.
func (mt *manualTimer) fire(t *testing.T) {
	t.Helper()
	mt.mu.Lock()
	if len(mt.callbacks) == 0 {
		mt.mu.Unlock()
		t.Fatal("no timer armed")
	}
	fn := mt.callbacks[len(mt.callbacks)-1]
	mt.mu.Unlock()
	fn()
}

func newMachine(t *testing.T, onChange func(handover.Record)) (*handover.Machine, *manualTimer) {
	t.Helper()
	mt := &manualTimer{}
	m, err := handover.NewMachine("sess-1", 5*time.Second, onChange,
		handover.WithClock(time.Now, mt.afterFunc))
	if err != nil {
		t.Fatalf("NewMachine error: %v", err)
	}
	return m, mt
}

func TestMachine_AcceptLifecycle(t *testing.T) {
	t.Parallel()

	var changes []handover.Record
	m, _ := newMachine(t, func(rec handover.Record) { changes = append(changes, rec) })

	rec, err := m.Request("customer asked for a human")
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if rec.Status != handover.StatusPending || rec.RequestedAt.IsZero() {
		t.Fatalf("after Request: %+v", rec)
	}

	rec, err = m.Accept("agent-42")
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if rec.Status != handover.StatusAccepted {
		t.Fatalf("Status = %v, want accepted", rec.Status)
	}
	if rec.AcceptedAt.IsZero() || rec.AssignedAgentID != "agent-42" {
		t.Errorf("accepted record incomplete: %+v", rec)
	}

	if len(changes) != 2 {
		t.Fatalf("got %d change notifications, want 2", len(changes))
	}
	if changes[0].Status != handover.StatusPending || changes[1].Status != handover.StatusAccepted {
		t.Errorf("notification order wrong: %v then %v", changes[0].Status, changes[1].Status)
	}
}

func TestMachine_DeclineAndTerminalConflicts(t *testing.T) {
	t.Parallel()

	m, _ := newMachine(t, nil)
	if _, err := m.Request("escalation"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Decline(); err != nil {
		t.Fatalf("Decline error: %v", err)
	}

	// Every further transition against the terminal record is a conflict.
	if _, err := m.Accept("agent-1"); !errors.Is(err, handover.ErrConflict) {
		t.Errorf("Accept after Decline: err = %v, want ErrConflict", err)
	}
	if _, err := m.Decline(); !errors.Is(err, handover.ErrConflict) {
		t.Errorf("second Decline: err = %v, want ErrConflict", err)
	}
	if rec := m.Record(); rec.Status != handover.StatusDeclined {
		t.Errorf("record corrupted by losing attempts: %+v", rec)
	}
}

func TestMachine_TimeoutIsTerminal(t *testing.T) {
	t.Parallel()

	m, mt := newMachine(t, nil)
	if _, err := m.Request("silence escalation"); err != nil {
		t.Fatal(err)
	}

	mt.fire(t)
	if rec := m.Record(); rec.Status != handover.StatusTimeout {
		t.Fatalf("Status = %v, want timeout", rec.Status)
	}

	// The loser (a late agent accept) gets a conflict, not a crash and not a
	// double transition.
	if _, err := m.Accept("agent-9"); !errors.Is(err, handover.ErrConflict) {
		t.Errorf("Accept after timeout: err = %v, want ErrConflict", err)
	}
}

func TestMachine_AcceptTimeoutRace_ExactlyOnce(t *testing.T) {
	t.Parallel()

	// Accept and the timeout fire concurrently; exactly one terminal status
	// must result and the loser must observe a conflict.
	for i := 0; i < 200; i++ {
		var terminal []handover.Status
		m, mt := newMachine(t, func(rec handover.Record) {
			if rec.Status.Terminal() {
				terminal = append(terminal, rec.Status)
			}
		})
		if _, err := m.Request("race"); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		var acceptErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = m.Accept("agent-7")
		}()
		go func() {
			defer wg.Done()
			mt.fire(t)
		}()
		wg.Wait()

		rec := m.Record()
		switch rec.Status {
		case handover.StatusAccepted:
			if acceptErr != nil {
				t.Fatalf("iteration %d: accepted but Accept returned %v", i, acceptErr)
			}
		case handover.StatusTimeout:
			if !errors.Is(acceptErr, handover.ErrConflict) {
				t.Fatalf("iteration %d: timed out but Accept returned %v, want ErrConflict", i, acceptErr)
			}
		default:
			t.Fatalf("iteration %d: status = %v, want accepted or timeout", i, rec.Status)
		}
		if len(terminal) != 1 {
			t.Fatalf("iteration %d: %d terminal notifications, want exactly 1", i, len(terminal))
		}
	}
}

func TestMachine_StaleTimerCannotTouchNewRequest(t *testing.T) {
	t.Parallel()

	m, mt := newMachine(t, nil)
	if _, err := m.Request("first"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Decline(); err != nil {
		t.Fatal(err)
	}

	// Re-escalation after a terminal outcome opens a new epoch.
	if _, err := m.Request("second"); err != nil {
		t.Fatalf("re-request after terminal state: %v", err)
	}

	// The first request's timer firing late must not time out the new one.
	mt.mu.Lock()
	stale := mt.callbacks[0]
	mt.mu.Unlock()
	stale()

	if rec := m.Record(); rec.Status != handover.StatusPending {
		t.Fatalf("stale timer corrupted new request: %+v", rec)
	}
	if rec := m.Record(); rec.Reason != "second" {
		t.Errorf("Reason = %q, want %q", rec.Reason, "second")
	}
}

func TestMachine_RequestWhilePendingConflicts(t *testing.T) {
	t.Parallel()

	m, _ := newMachine(t, nil)
	if _, err := m.Request("first"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Request("duplicate"); !errors.Is(err, handover.ErrConflict) {
		t.Errorf("duplicate request: err = %v, want ErrConflict", err)
	}
}

func TestMachine_Validation(t *testing.T) {
	t.Parallel()

	if _, err := handover.NewMachine("", time.Second, nil); err == nil {
		t.Error("empty session id expected error")
	}
	if _, err := handover.NewMachine("s", -time.Second, nil); err == nil {
		t.Error("negative timeout expected error")
	}

	m, _ := newMachine(t, nil)
	if _, err := m.Request("r"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Accept(""); err == nil {
		t.Error("accept without agent id expected error")
	}
}
