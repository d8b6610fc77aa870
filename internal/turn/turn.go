// Package turn implements utterance segmentation and the per-session turn
// state machine.
//
// The [Controller] consumes the fused per-frame speech flags produced by VAD
// fusion and turns them into discrete speech [Segment]s and finalized
// utterances: a fused speech frame opens a segment, a configured run of
// consecutive silence closes it, and hangover padding is appended past the
// last speech frame so trailing phonemes survive. The [Monitor] watches the
// same fused flags during machine playback and raises a barge-in interrupt on
// a sustained voiced run.
//
// Both types are pure state machines over frame indices. They hold no audio
// and do no I/O; the session orchestrator owns the sample buffers and event
// delivery. Neither type is safe for concurrent use — the per-session
// pipeline goroutine is the only caller.
package turn

import "time"

// State is the session's turn state. Exactly one state is active per session
// at any time; only the Controller and playback-completion signals mutate it.
type State int

const (
	// Idle means no speech is in progress; a fused speech frame opens a new
	// segment.
	Idle State = iota

	// Listening means an open segment is accumulating frames.
	Listening

	// Finalizing is the transient assembly of the finalized utterance. The
	// Controller passes through it atomically: a Feed call that closes the
	// segment returns the utterance and lands in Processing.
	Finalizing

	// Processing means the finalized utterance has been handed to the
	// downstream transcription/classification collaborator and the session is
	// waiting for the reply.
	Processing

	// Speaking means a machine-generated reply is being played back. The
	// barge-in monitor is active only in this state.
	Speaking
)

// String returns the state name as used in logs and events.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Finalizing:
		return "finalizing"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Segment is a contiguous span of frames bounded by a speech onset and a
// silence-confirmed offset. Segments for one session are non-overlapping and
// strictly ordered by StartFrame.
type Segment struct {
	// StartFrame is the index of the fused speech frame that opened the
	// segment.
	StartFrame uint64

	// EndFrame is the last frame of the segment: the final speech frame plus
	// the hangover padding, clamped to the newest frame the session has seen.
	EndFrame uint64

	// Duration is the segment length in wall-clock audio time.
	Duration time.Duration
}

// Utterance describes a finalized turn handed to the downstream collaborator.
// The frame span covers the closed segment including hangover; an utterance
// produced by a forced finalize with no open segment has a zero span and
// Empty set.
type Utterance struct {
	StartFrame uint64
	EndFrame   uint64

	// VoicedFrames counts the fused speech frames in the span. Zero marks an
	// empty input for the noise-loop suspension counter.
	VoicedFrames int

	// Empty reports VoicedFrames == 0.
	Empty bool

	// Suspended reports that this finalize tripped the consecutive
	// empty-input limit: the controller will not re-listen until Resume.
	Suspended bool
}
