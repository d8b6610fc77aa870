// Package vad defines the Engine interface for Voice Activity Detection
// backends and the hybrid fusion of their per-frame decisions.
//
// Two engine families feed the pipeline: a fast deterministic filter
// (energy/zero-crossing rules, see the energy subpackage) and a confirming
// neural classifier (Silero, see the silero subpackage). Each engine surfaces
// as a stateful per-stream session so that concurrent audio streams never
// interleave frames through one recurrent state.
//
// VAD is synchronous by design: Process returns immediately with a decision,
// making it suitable for the low-latency per-frame pipeline loop. A single
// Session must not be shared across goroutines.
package vad

import (
	"errors"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
)

// ErrUnavailable is returned by a Session when the backing engine cannot
// produce a decision for a frame (resource exhaustion, model failure). The
// caller is expected to degrade to the remaining engine for that frame rather
// than tear the session down.
var ErrUnavailable = errors.New("vad: engine unavailable")

// Config holds the parameters for a VAD session. Engines validate the fields
// they use at NewSession time; frame-size mismatches are configuration errors,
// never per-frame conditions.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the frames passed
	// to Process.
	SampleRate int

	// FrameMs is the duration of each audio frame in milliseconds. Engines
	// reject unsupported durations at session construction.
	FrameMs int

	// Aggressiveness tunes the fast filter, 0–3. Higher values classify more
	// frames as non-speech. Ignored by probabilistic engines.
	Aggressiveness int

	// Threshold is the speech probability at or above which a probabilistic
	// engine classifies a frame as speech. Range [0, 1]. Ignored by the fast
	// filter. Typical: 0.5.
	Threshold float64
}

// Decision is one engine's verdict for a single frame.
type Decision struct {
	// Index is the frame index the decision applies to.
	Index uint64

	// Speech reports whether the engine classified the frame as speech.
	Speech bool

	// Probability is the engine's speech probability for the frame. Only
	// meaningful when HasProbability is true; the fast filter omits it.
	Probability float64

	// HasProbability reports whether Probability was produced.
	HasProbability bool
}

// Session is an active VAD stream for a single audio session. Each Session
// owns independent detection state; Reset clears that state without closing
// the session (used when playback is interrupted so stale recurrent state
// does not bias the next utterance).
//
// A Session is not safe for concurrent use.
type Session interface {
	// Process classifies one frame. The frame length must match the
	// SampleRate and FrameMs the session was created with. Process must not
	// block; it is called once per frame from the session's pipeline loop.
	Process(frame audio.Frame) (Decision, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases session resources. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use: multiple goroutines may call NewSession simultaneously to
// create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid or resources cannot be allocated.
	NewSession(cfg Config) (Session, error)
}
