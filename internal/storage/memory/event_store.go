package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/tagops-pipeline/internal/store"
)

// EventStore keeps job history in memory.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]store.JobEvent
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string][]store.JobEvent)}
}

// AppendEvents records the batch.
func (s *EventStore) AppendEvents(_ context.Context, events []store.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range events {
		s.events[evt.JobID] = append(s.events[evt.JobID], evt)
	}
	return nil
}

// ListEvents returns a job's events oldest first.
func (s *EventStore) ListEvents(_ context.Context, jobID string, limit int) ([]store.JobEvent, error) {
	s.mu.RLock()
	out := append([]store.JobEvent{}, s.events[jobID]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
