// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config and
// to hand out scripted Sessions. A Session classifies frames through its
// SpeechFn, so tests can model arbitrary speech/silence patterns by frame
// index, and can inject per-frame failures through ErrFn to exercise the
// degraded fusion path.
package mock

import (
	"sync"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, NewSession returns a new
	// default Session.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call in order.
	NewSessionCalls []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a scripted implementation of vad.Session.
type Session struct {
	mu sync.Mutex

	// SpeechFn decides, per frame index, whether the frame is speech. When
	// nil every frame is non-speech.
	SpeechFn func(index uint64) bool

	// Probability is reported with each decision when HasProbability is true.
	Probability float64

	// HasProbability controls whether decisions carry Probability (true for
	// a confirm-engine stand-in, false for a fast-filter stand-in).
	HasProbability bool

	// ErrFn, if non-nil, is consulted per frame index; a non-nil result is
	// returned instead of a decision.
	ErrFn func(index uint64) error

	// Processed records the index of every frame passed to Process.
	Processed []uint64

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ vad.Session = (*Session)(nil)

// Process records the frame index and returns the scripted decision.
func (s *Session) Process(frame audio.Frame) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed = append(s.Processed, frame.Index)
	if s.ErrFn != nil {
		if err := s.ErrFn(frame.Index); err != nil {
			return vad.Decision{}, err
		}
	}
	speech := false
	if s.SpeechFn != nil {
		speech = s.SpeechFn(frame.Index)
	}
	return vad.Decision{
		Index:          frame.Index,
		Speech:         speech,
		Probability:    s.Probability,
		HasProbability: s.HasProbability,
	}, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// ProcessedCount returns how many frames were processed. Thread-safe.
func (s *Session) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Processed)
}
