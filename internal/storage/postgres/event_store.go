package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/tagops-pipeline/internal/store"
)

// EventStore appends job history rows to job_events.
type EventStore struct {
	pool pool
}

// Events returns an EventStore sharing the job store's pool.
func (s *JobStore) Events() *EventStore {
	return &EventStore{pool: s.pool}
}

// AppendEvents inserts the batch in one statement.
func (s *EventStore) AppendEvents(ctx context.Context, events []store.JobEvent) error {
	if len(events) == 0 {
		return nil
	}
	var (
		jobIDs   = make([]string, len(events))
		ats      = make([]time.Time, len(events))
		kinds    = make([]string, len(events))
		stages   = make([]string, len(events))
		statuses = make([]string, len(events))
		urls     = make([]string, len(events))
		durs     = make([]int64, len(events))
		notes    = make([]string, len(events))
	)
	for i, evt := range events {
		jobIDs[i] = evt.JobID
		ats[i] = evt.At
		kinds[i] = evt.Kind
		stages[i] = evt.Stage
		statuses[i] = evt.Status
		urls[i] = evt.URL
		durs[i] = evt.DurMS
		notes[i] = evt.Note
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_events (job_id, at, kind, stage, status, url, dur_ms, note)
SELECT * FROM unnest($1::text[], $2::timestamptz[], $3::text[], $4::text[], $5::text[], $6::text[], $7::bigint[], $8::text[])`,
		jobIDs, ats, kinds, stages, statuses, urls, durs, notes)
	if err != nil {
		return fmt.Errorf("insert job events: %w", err)
	}
	return nil
}

// ListEvents returns a job's events oldest first.
func (s *EventStore) ListEvents(ctx context.Context, jobID string, limit int) ([]store.JobEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
SELECT job_id, at, kind, stage, status, url, dur_ms, note
FROM job_events WHERE job_id = $1
ORDER BY at ASC, id ASC
LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	out := []store.JobEvent{}
	for rows.Next() {
		var evt store.JobEvent
		if err := rows.Scan(&evt.JobID, &evt.At, &evt.Kind, &evt.Stage, &evt.Status, &evt.URL, &evt.DurMS, &evt.Note); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job events: %w", err)
	}
	return out, nil
}
