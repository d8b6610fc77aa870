package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDraining is returned by [Manager.Create] once shutdown has begun.
var ErrDraining = errors.New("session: manager is draining")

// ErrDuplicateSession is returned by [Manager.Create] for an already-live id.
var ErrDuplicateSession = errors.New("session: session id already exists")

// Manager owns the live sessions of one process. During shutdown it drains:
// new sessions are rejected while in-flight sessions are stopped and removed.
// The mutex makes the draining check and the registration atomic, so no
// session can slip in after Drain has flipped the flag.
type Manager struct {
	mu       sync.Mutex
	draining bool
	sessions map[string]*Orchestrator
	wg       sync.WaitGroup
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Orchestrator)}
}

// Create builds and starts a session from cfg. It fails when the manager is
// draining or the id is already live.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return nil, ErrDraining
	}
	if _, exists := m.sessions[cfg.SessionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, cfg.SessionID)
	}

	orc, err := New(cfg)
	if err != nil {
		return nil, err
	}
	orc.Start(ctx)
	m.sessions[cfg.SessionID] = orc
	m.wg.Add(1)
	return orc, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orc, ok := m.sessions[id]
	return orc, ok
}

// Remove stops the session with the given id and drops it from the registry.
// Removing an unknown id is a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	orc, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	orc.Stop()
	m.wg.Done()
}

// DegradedSessions returns the ids of live sessions whose confirm engine
// path is not serving. Used by the readiness probe.
func (m *Manager) DegradedSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, orc := range m.sessions {
		if !orc.Healthy() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Drain rejects new sessions, stops every live session, and waits for all of
// them to tear down or for ctx to expire.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	slog.Info("draining sessions", "count", len(ids))
	for _, id := range ids {
		m.Remove(id)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: drain interrupted: %w", ctx.Err())
	}
}
