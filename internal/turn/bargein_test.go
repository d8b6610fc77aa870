package turn_test

import (
	"testing"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/turn"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

func newMonitor(t *testing.T, minVoiceCount int) *turn.Monitor {
	t.Helper()
	m, err := turn.NewMonitor(minVoiceCount)
	if err != nil {
		t.Fatalf("NewMonitor(%d) error: %v", minVoiceCount, err)
	}
	return m
}

func TestMonitor_SingleVoicedFrameDoesNotTrigger(t *testing.T) {
	t.Parallel()

	m := newMonitor(t, 2)
	m.Begin()

	if _, ok := m.Observe(vad.Fused{Index: 1, Speech: true}); ok {
		t.Fatal("a single voiced frame must not interrupt")
	}
	// Non-speech resets the run; an isolated burst never accumulates.
	if _, ok := m.Observe(vad.Fused{Index: 2, Speech: false}); ok {
		t.Fatal("non-speech frame must not interrupt")
	}
	if _, ok := m.Observe(vad.Fused{Index: 3, Speech: true}); ok {
		t.Fatal("the run must reset after non-speech")
	}
}

func TestMonitor_TwoConsecutiveVoicedFramesTriggerOnce(t *testing.T) {
	t.Parallel()

	m := newMonitor(t, 2)
	m.Begin()

	if _, ok := m.Observe(vad.Fused{Index: 10, Speech: true}); ok {
		t.Fatal("triggered one frame early")
	}
	intr, ok := m.Observe(vad.Fused{Index: 11, Speech: true})
	if !ok {
		t.Fatal("two consecutive voiced frames must interrupt")
	}
	if intr.RunStart != 10 || intr.RunEnd != 11 || intr.Voiced != 2 {
		t.Errorf("interrupt = %+v, want RunStart=10 RunEnd=11 Voiced=2", intr)
	}

	// A third consecutive voiced frame must not re-fire within the episode.
	if _, ok := m.Observe(vad.Fused{Index: 12, Speech: true}); ok {
		t.Fatal("interrupt re-fired for the same playback episode")
	}
}

func TestMonitor_NewEpisodeReArms(t *testing.T) {
	t.Parallel()

	m := newMonitor(t, 2)
	m.Begin()
	m.Observe(vad.Fused{Index: 1, Speech: true})
	if _, ok := m.Observe(vad.Fused{Index: 2, Speech: true}); !ok {
		t.Fatal("expected interrupt in first episode")
	}
	m.End()

	m.Begin()
	m.Observe(vad.Fused{Index: 20, Speech: true})
	if _, ok := m.Observe(vad.Fused{Index: 21, Speech: true}); !ok {
		t.Fatal("a new episode must re-arm the monitor")
	}
}

func TestMonitor_IgnoresFramesOutsidePlayback(t *testing.T) {
	t.Parallel()

	m := newMonitor(t, 1)

	// Before Begin.
	if _, ok := m.Observe(vad.Fused{Index: 1, Speech: true}); ok {
		t.Fatal("monitor must not consume frames before playback starts")
	}

	// After End, even mid-run: a late frame must not fire after the fact.
	m.Begin()
	m.End()
	if _, ok := m.Observe(vad.Fused{Index: 2, Speech: true}); ok {
		t.Fatal("monitor must stop consuming the instant playback ends")
	}
}

func TestNewMonitor_Validation(t *testing.T) {
	t.Parallel()

	if _, err := turn.NewMonitor(-1); err == nil {
		t.Error("negative min voice count expected error")
	}
	m := newMonitor(t, 0) // zero selects the default
	m.Begin()
	m.Observe(vad.Fused{Index: 1, Speech: true})
	if _, ok := m.Observe(vad.Fused{Index: 2, Speech: true}); !ok {
		t.Error("default threshold must be two consecutive frames")
	}
}
