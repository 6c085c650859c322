package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/progress"
	"github.com/JakeFAU/tagops-pipeline/internal/store"
)

func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{}
	sink := NewStoreSink(repo)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.StageEvent("j1", progress.KindStageStart, pipeline.StageTagOpsHub, pipeline.StatusTagOpsHubPending, now),
		{JobID: "j1", TS: now, Kind: progress.KindStageError, Stage: pipeline.StageTagOpsHub,
			Status: pipeline.StatusFailed, Dur: 1500 * time.Millisecond, Note: "PDF generation failed: chrome crashed"},
	}))

	require.Len(t, repo.rows, 2)
	require.Equal(t, "STAGE_ERROR", repo.rows[1].Kind)
	require.Equal(t, int64(1500), repo.rows[1].DurMS)
	require.Equal(t, "failed", repo.rows[1].Status)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeEventRepo{fail: true})
	err := sink.Consume(context.Background(), []progress.Event{
		progress.StageEvent("j1", progress.KindStageStart, pipeline.StageTagOpsHub, pipeline.StatusTagOpsHubPending, time.Now()),
	})
	require.Error(t, err)
}

func TestStoreFilePublisherSinkPublishesStageEventsOnly(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := NewPublisherSink(pub, "job-status")
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.StageEvent("j1", progress.KindStageDone, pipeline.StageAnalyticCore, pipeline.StatusAnalyticCoreCompleted, now),
		{JobID: "j1", TS: now, Kind: progress.KindPageCaptured, Stage: pipeline.StageInsightForge, URL: "https://a"},
	}))

	require.Len(t, pub.msgs, 1)
	require.Equal(t, "job-status", pub.topics[0])
	msg := pub.msgs[0].(StatusMessage)
	require.Equal(t, "analytic_core_completed", msg.Status)

	pub.fail = true
	err := sink.Consume(context.Background(), []progress.Event{
		progress.StageEvent("j2", progress.KindStageStart, pipeline.StageAnalyticCore, pipeline.StatusAnalyticCorePending, now),
	})
	require.ErrorContains(t, err, "j2")

	require.NoError(t, sink.Close(context.Background()))
	require.True(t, pub.stopped)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.StageEvent("j1", progress.KindStageStart, pipeline.StageAnalyticCore, pipeline.StatusAnalyticCorePending, now),
		progress.StageEvent("j1", progress.KindStageError, pipeline.StageAnalyticCore, pipeline.StatusFailed, now),
	}))
	require.Equal(t, 2, logs.Len())
	require.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
	require.Equal(t, "j1", logs.All()[0].ContextMap()["job_id"])
}

type fakeEventRepo struct {
	fail bool
	rows []store.JobEvent
}

func (f *fakeEventRepo) AppendEvents(_ context.Context, events []store.JobEvent) error {
	if f.fail {
		return errors.New("db down")
	}
	f.rows = append(f.rows, events...)
	return nil
}

func (f *fakeEventRepo) ListEvents(context.Context, string, int) ([]store.JobEvent, error) {
	return f.rows, nil
}

type fakePublisher struct {
	fail    bool
	stopped bool
	topics  []string
	msgs    []any
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if f.fail {
		return "", errors.New("unavailable")
	}
	f.topics = append(f.topics, topic)
	f.msgs = append(f.msgs, payload)
	return "id", nil
}

func (f *fakePublisher) Stop() { f.stopped = true }
