// Package session owns the per-call orchestration of the voice pipeline:
// frame ingestion, VAD fusion, turn segmentation, barge-in handling, and the
// handover lifecycle.
//
// The central type is [Orchestrator], which runs one goroutine per session
// consuming a bounded, ordered frame queue. At most one frame is in flight
// through the VAD/fusion/turn pipeline at any time; the confirm engine is
// sequence-stateful, so concurrent or reordered frame processing would
// corrupt its recurrent state. External signals (playback status, resume,
// commit) are delivered as commands into the same loop. Only the handover
// state machine is touched from other goroutines; it carries its own
// compare-and-set discipline.
//
// [Manager] tracks the live sessions of one process and drains them on
// shutdown.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/turn"
)

// Utterance is a finalized span of audio handed to the downstream
// transcription pipeline.
type Utterance struct {
	// SessionID identifies the session the utterance belongs to.
	SessionID string

	// StartFrame and EndFrame bound the span, inclusive.
	StartFrame uint64
	EndFrame   uint64

	// VoicedFrames is the number of fused speech frames inside the span.
	VoicedFrames int

	// Samples is the concatenated PCM for the span.
	Samples []int16

	// Duration is the wall-clock length of the span.
	Duration time.Duration

	// Empty marks a span with zero voiced frames.
	Empty bool
}

// PlaybackStatus is an externally reported playback lifecycle signal.
type PlaybackStatus string

const (
	PlaybackStarted   PlaybackStatus = "started"
	PlaybackCompleted PlaybackStatus = "completed"
	PlaybackError     PlaybackStatus = "error"
)

// Transcriber turns a finalized utterance into a reply to speak back. It is
// the opaque STT/classifier collaborator; an empty reply means the pipeline
// produced nothing to say.
type Transcriber interface {
	Transcribe(ctx context.Context, utt Utterance) (reply string, err error)
}

// Player speaks a reply to the caller. Play blocks until playback finishes or
// ctx is cancelled; cancellation on barge-in is best-effort.
type Player interface {
	Play(ctx context.Context, sessionID, reply string) error
}

// Subscriber receives session events. Frame-driven events (segment and
// utterance boundaries, barge-ins) are delivered synchronously from the
// session goroutine in frame order; handover events are delivered from the
// handover machine's transition path, ordered by its internal lock.
// Implementations must not block.
type Subscriber interface {
	SegmentOpened(sessionID string, startFrame uint64)
	SegmentClosed(sessionID string, seg turn.Segment)
	UtteranceFinal(utt Utterance)
	BargeInDetected(sessionID string, intr turn.Interrupt)
	HandoverStatusChanged(rec handover.Record)
}

// events is the subscriber registry owned by an Orchestrator. Attach and
// Detach may be called at any point in the session's life.
type events struct {
	mu   sync.RWMutex
	subs map[int]Subscriber
	next int
}

func newEvents() *events {
	return &events{subs: make(map[int]Subscriber)}
}

// attach registers sub and returns a token for detach.
func (e *events) attach(sub Subscriber) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.subs[id] = sub
	return id
}

func (e *events) detach(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
}

// each invokes fn for every attached subscriber while holding the read lock,
// so deliveries from one goroutine are observed in order by all subscribers.
func (e *events) each(fn func(Subscriber)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, sub := range e.subs {
		fn(sub)
	}
}
