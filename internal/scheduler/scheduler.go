// Package scheduler tracks which message ids currently have an in-flight
// background generation chain. The flag is advisory: it reduces duplicate
// generation work and lets a waiting caller poll instead of triggering,
// but it is not a mutual-exclusion primitive. The single-child invariant
// in the store is what resolves actual races.
package scheduler

import (
	"context"
	"sync"
)

// Scheduler is the process-wide registry of generating message ids.
// Last writer wins on overlapping calls; no ordering guarantee.
type Scheduler interface {
	SetGenerating(ctx context.Context, messageID int64, generating bool) error
	IsGenerating(ctx context.Context, messageID int64) (bool, error)
}

// MemoryScheduler keeps the generating set in process memory.
type MemoryScheduler struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewMemoryScheduler creates an empty in-process scheduler.
func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{ids: make(map[int64]struct{})}
}

// SetGenerating flags or unflags a message id.
func (s *MemoryScheduler) SetGenerating(ctx context.Context, messageID int64, generating bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generating {
		s.ids[messageID] = struct{}{}
	} else {
		delete(s.ids, messageID)
	}
	return nil
}

// IsGenerating reports whether a message id is flagged.
func (s *MemoryScheduler) IsGenerating(ctx context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ids[messageID]
	return ok, nil
}
