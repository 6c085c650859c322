package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tagops-pipeline/internal/store"
)

func TestAppendEventsSingleStatement(t *testing.T) {
	t.Parallel()

	jobs, mock, now := newMockStore(t)
	events := jobs.Events()

	mock.ExpectExec("INSERT INTO job_events").
		WithArgs(
			[]string{"j1", "j1"},
			[]time.Time{now, now.Add(time.Second)},
			[]string{"STAGE_START", "STAGE_DONE"},
			[]string{"insight_forge", "insight_forge"},
			[]string{"insight_forge_pending", "insight_forge_completed"},
			[]string{"", ""},
			[]int64{0, 1500},
			[]string{"", ""},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := events.AppendEvents(context.Background(), []store.JobEvent{
		{JobID: "j1", At: now, Kind: "STAGE_START", Stage: "insight_forge", Status: "insight_forge_pending"},
		{JobID: "j1", At: now.Add(time.Second), Kind: "STAGE_DONE", Stage: "insight_forge", Status: "insight_forge_completed", DurMS: 1500},
	})
	require.NoError(t, err)
	require.NoError(t, events.AppendEvents(context.Background(), nil), "empty batch is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	jobs, mock, now := newMockStore(t)
	mock.ExpectQuery("FROM job_events WHERE job_id").
		WithArgs("j1", 500).
		WillReturnRows(pgxmock.NewRows([]string{"job_id", "at", "kind", "stage", "status", "url", "dur_ms", "note"}).
			AddRow("j1", now, "PAGE_SKIPPED", "insight_forge", "", "https://example.com/x", int64(0), "navigation timeout"))

	got, err := jobs.Events().ListEvents(context.Background(), "j1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "navigation timeout", got[0].Note)
	require.NoError(t, mock.ExpectationsWereMet())
}
