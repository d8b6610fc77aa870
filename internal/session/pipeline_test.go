package session

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/turn"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
	vadmock "github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad/mock"
)

const testFrameSamples = 320 // 16 kHz, 20 ms

// testFrame builds a frame whose samples all carry the frame index, so
// assembled utterances can be checked for exact span coverage.
func testFrame(i uint64) audio.Frame {
	samples := make([]int16, testFrameSamples)
	for j := range samples {
		samples[j] = int16(i)
	}
	return audio.Frame{Samples: samples, Index: i}
}

func newTestPipeline(t *testing.T, mode vad.Mode, fast, confirm vad.Session) *pipeline {
	t.Helper()
	fuser, err := vad.NewFuser(mode)
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}
	ctrl, err := turn.NewController(turn.Config{FrameDuration: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	monitor, err := turn.NewMonitor(2)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return &pipeline{
		sessionID: "test",
		log:       slog.Default(),
		fast:      fast,
		confirm:   confirm,
		fuser:     fuser,
		ctrl:      ctrl,
		monitor:   monitor,
		frameDur:  20 * time.Millisecond,
	}
}

// speechBetween scripts an engine that flags frames in [lo, hi] as speech.
func speechBetween(lo, hi uint64) func(uint64) bool {
	return func(i uint64) bool { return i >= lo && i <= hi }
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	// 50 silence, 30 speech, 100 silence under AND fusion: one segment over
	// frames 51-95 (hangover included), one utterance finalized on frame 180.
	fast := &vadmock.Session{SpeechFn: speechBetween(51, 80)}
	confirm := &vadmock.Session{SpeechFn: speechBetween(51, 80), HasProbability: true, Probability: 0.9}
	p := newTestPipeline(t, vad.ModeAnd, fast, confirm)

	var opened []uint64
	var segments []turn.Segment
	var utterances []*Utterance

	for i := uint64(1); i <= 180; i++ {
		out := p.handleFrame(testFrame(i))
		if out.Rejected || out.Degraded {
			t.Fatalf("frame %d: unexpected rejection/degradation: %+v", i, out)
		}
		if out.SegmentOpened {
			opened = append(opened, out.SegmentStart)
		}
		if out.Segment != nil {
			segments = append(segments, *out.Segment)
		}
		if out.Utterance != nil {
			utterances = append(utterances, out.Utterance)
		}
	}

	if len(opened) != 1 || opened[0] != 51 {
		t.Fatalf("segment opens = %v, want exactly one at frame 51", opened)
	}
	if len(segments) != 1 || len(utterances) != 1 {
		t.Fatalf("got %d segments and %d utterances, want 1 and 1", len(segments), len(utterances))
	}
	utt := utterances[0]
	if utt.StartFrame != 51 || utt.EndFrame != 95 {
		t.Errorf("utterance span = [%d, %d], want [51, 95]", utt.StartFrame, utt.EndFrame)
	}
	if utt.VoicedFrames != 30 {
		t.Errorf("VoicedFrames = %d, want 30", utt.VoicedFrames)
	}
	if want := 45 * testFrameSamples; len(utt.Samples) != want {
		t.Fatalf("utterance samples = %d, want %d", len(utt.Samples), want)
	}
	if utt.Samples[0] != 51 || utt.Samples[len(utt.Samples)-1] != 95 {
		t.Errorf("utterance covers samples %d..%d, want 51..95",
			utt.Samples[0], utt.Samples[len(utt.Samples)-1])
	}
	if want := 45 * 20 * time.Millisecond; utt.Duration != want {
		t.Errorf("Duration = %v, want %v", utt.Duration, want)
	}
}

func TestPipelineDegradesWithoutConfirm(t *testing.T) {
	t.Parallel()

	fast := &vadmock.Session{SpeechFn: func(uint64) bool { return true }}
	confirm := &vadmock.Session{
		ErrFn: func(uint64) error {
			return fmt.Errorf("%w: inference pool exhausted", vad.ErrUnavailable)
		},
	}
	p := newTestPipeline(t, vad.ModeAnd, fast, confirm)

	out := p.handleFrame(testFrame(1))
	if !out.Degraded {
		t.Fatal("confirm failure must mark the frame degraded")
	}
	if !out.SegmentOpened {
		t.Fatal("degraded fusion must still pass the fast filter's speech flag")
	}
}

func TestPipelineConfirmOnlyFailureIsSilence(t *testing.T) {
	t.Parallel()

	confirm := &vadmock.Session{
		ErrFn: func(uint64) error { return errors.New("engine crashed") },
	}
	p := newTestPipeline(t, vad.ModeConfirmOnly, nil, confirm)

	out := p.handleFrame(testFrame(1))
	if out.Rejected {
		t.Fatal("confirm-only failure must not reject the frame")
	}
	if !out.Degraded || out.SegmentOpened {
		t.Fatalf("confirm-only failure must degrade to non-speech, got %+v", out)
	}
}

func TestPipelineRejectsOnFastFilterError(t *testing.T) {
	t.Parallel()

	fast := &vadmock.Session{
		ErrFn: func(uint64) error { return errors.New("frame length mismatch") },
	}
	p := newTestPipeline(t, vad.ModeFastOnly, fast, nil)

	out := p.handleFrame(testFrame(1))
	if !out.Rejected {
		t.Fatal("fast filter error must reject the frame")
	}
	if out.SegmentOpened || out.Segment != nil || out.Utterance != nil {
		t.Fatalf("rejected frame must not advance the turn, got %+v", out)
	}
}

func TestPipelineBargeInResetsEnginesAndReopensSegment(t *testing.T) {
	t.Parallel()

	fast := &vadmock.Session{SpeechFn: speechBetween(1, 200)}
	confirm := &vadmock.Session{SpeechFn: speechBetween(1, 200)}
	p := newTestPipeline(t, vad.ModeAnd, fast, confirm)

	// Open a segment, finalize it, and move the turn into Speaking.
	p.handleFrame(testFrame(1))
	out := p.forceFinalize()
	if out.Utterance == nil {
		t.Fatal("forced finalize must produce an utterance")
	}
	p.ctrl.ReplyReady(true)
	p.monitor.Begin()

	// One voiced frame must not interrupt; the second consecutive one must.
	if out := p.handleFrame(testFrame(10)); out.Interrupt != nil {
		t.Fatal("single voiced frame fired an interrupt")
	}
	out = p.handleFrame(testFrame(11))
	if out.Interrupt == nil {
		t.Fatal("two consecutive voiced frames must fire an interrupt")
	}
	if out.Interrupt.RunStart != 10 || out.Interrupt.RunEnd != 11 {
		t.Errorf("interrupt run = [%d, %d], want [10, 11]",
			out.Interrupt.RunStart, out.Interrupt.RunEnd)
	}
	if !out.SegmentOpened || out.SegmentStart != 10 {
		t.Errorf("barge-in must reopen a segment at frame 10, got %+v", out)
	}
	if fast.ResetCallCount != 1 || confirm.ResetCallCount != 1 {
		t.Errorf("engine resets = (%d, %d), want (1, 1)",
			fast.ResetCallCount, confirm.ResetCallCount)
	}
	if p.ctrl.State() != turn.Listening {
		t.Errorf("state after barge-in = %v, want Listening", p.ctrl.State())
	}

	// The finalized utterance after the barge-in must include the voiced run
	// that triggered it.
	out = p.forceFinalize()
	if out.Utterance == nil {
		t.Fatal("finalize after barge-in produced no utterance")
	}
	if out.Utterance.StartFrame != 10 {
		t.Errorf("utterance StartFrame = %d, want 10", out.Utterance.StartFrame)
	}
	if len(out.Utterance.Samples) == 0 || out.Utterance.Samples[0] != 10 {
		t.Error("utterance must carry the seeded run audio from frame 10")
	}
}

func TestPipelineSuspensionAbsorbsSpeech(t *testing.T) {
	t.Parallel()

	fast := &vadmock.Session{SpeechFn: func(uint64) bool { return true }}
	p := newTestPipeline(t, vad.ModeFastOnly, fast, nil)

	// Two consecutive empty finalizes suspend listening.
	for i := 0; i < 2; i++ {
		out := p.forceFinalize()
		if out.Utterance == nil || !out.Utterance.Empty {
			t.Fatalf("forced finalize %d must emit an empty utterance", i)
		}
		p.ctrl.ReplyReady(false)
	}
	if !p.ctrl.SuspendedListening() {
		t.Fatal("two empty utterances must suspend listening")
	}

	// Speech frames are absorbed while suspended.
	if out := p.handleFrame(testFrame(1)); out.SegmentOpened {
		t.Fatal("suspended session must not open a segment")
	}

	p.ctrl.Resume()
	if out := p.handleFrame(testFrame(2)); !out.SegmentOpened {
		t.Fatal("resumed session must open a segment on speech")
	}
}
