package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/tagops-pipeline/internal/progress"
	"github.com/JakeFAU/tagops-pipeline/internal/store"
)

// StoreSink appends every event to the job history repository.
type StoreSink struct {
	repo store.EventRepository
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EventRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Consume converts the batch and appends it in one call.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	rows := make([]store.JobEvent, 0, len(batch))
	for _, evt := range batch {
		rows = append(rows, store.JobEvent{
			JobID:  evt.JobID,
			At:     evt.TS,
			Kind:   string(evt.Kind),
			Stage:  string(evt.Stage),
			Status: string(evt.Status),
			URL:    evt.URL,
			DurMS:  evt.Dur.Milliseconds(),
			Note:   evt.Note,
		})
	}
	if err := s.repo.AppendEvents(ctx, rows); err != nil {
		return fmt.Errorf("append job events: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
