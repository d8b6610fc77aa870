// Package mock provides a test double for the handover Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
)

// Store records every SaveHandover call in memory.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by every SaveHandover call.
	SaveErr error

	// SaveFn, if non-nil, is invoked before the record is stored. It runs
	// outside the mutex so a blocking SaveFn does not block Count or Last.
	SaveFn func(ctx context.Context, rec handover.Record) error

	// Saved records every saved record in order.
	Saved []handover.Record
}

var _ handover.Store = (*Store)(nil)

// SaveHandover records the call and returns SaveErr.
func (s *Store) SaveHandover(ctx context.Context, rec handover.Record) error {
	if s.SaveFn != nil {
		if err := s.SaveFn(ctx, rec); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saved = append(s.Saved, rec)
	return nil
}

// Last returns the most recently saved record, or a zero Record when nothing
// was saved. Thread-safe.
func (s *Store) Last() handover.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Saved) == 0 {
		return handover.Record{}
	}
	return s.Saved[len(s.Saved)-1]
}

// Count returns how many records were saved. Thread-safe.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Saved)
}
