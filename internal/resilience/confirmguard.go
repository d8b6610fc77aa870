package resilience

import (
	"fmt"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

// GuardedSession wraps a confirm-VAD [vad.Session] with a [CircuitBreaker].
// While the breaker is open, [GuardedSession.Process] fails fast with
// [vad.ErrUnavailable] instead of invoking the engine, so the caller's fusion
// layer can fall back to the fast filter without paying the engine's latency.
type GuardedSession struct {
	inner   vad.Session
	breaker *CircuitBreaker
}

var _ vad.Session = (*GuardedSession)(nil)

// Guard wraps session with a breaker configured from cfg.
func Guard(session vad.Session, cfg BreakerConfig) *GuardedSession {
	return &GuardedSession{
		inner:   session,
		breaker: NewCircuitBreaker(cfg),
	}
}

// Process forwards the frame through the breaker. A rejected or failed call
// returns an error wrapping [vad.ErrUnavailable] so callers can detect the
// degraded state with errors.Is.
func (g *GuardedSession) Process(frame audio.Frame) (vad.Decision, error) {
	var dec vad.Decision
	err := g.breaker.Execute(func() error {
		var innerErr error
		dec, innerErr = g.inner.Process(frame)
		return innerErr
	})
	if err == nil {
		return dec, nil
	}
	if err == ErrCircuitOpen {
		return vad.Decision{}, fmt.Errorf("%w: confirm engine circuit open", vad.ErrUnavailable)
	}
	return vad.Decision{}, err
}

// Reset forwards to the wrapped session.
func (g *GuardedSession) Reset() {
	g.inner.Reset()
}

// Close forwards to the wrapped session.
func (g *GuardedSession) Close() error {
	return g.inner.Close()
}

// Healthy reports whether the breaker is currently closed.
func (g *GuardedSession) Healthy() bool {
	return g.breaker.State() == StateClosed
}
