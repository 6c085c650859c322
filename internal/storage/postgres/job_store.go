// Package postgres provides the Postgres-backed job document store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

// Schema creates the jobs and job_events tables. Migrate runs it; it is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                   text PRIMARY KEY,
	status               text NOT NULL,
	url                  text NOT NULL,
	agent_type           text NOT NULL,
	device               text NOT NULL,
	pages                integer NOT NULL,
	created_at           timestamptz NOT NULL,
	updated_at           timestamptz NOT NULL,
	insight_forge_output jsonb,
	seo_report           jsonb,
	analytic_core_draft  text,
	tagops_hub_output    jsonb,
	error                text NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE TABLE IF NOT EXISTS job_events (
	id      bigserial PRIMARY KEY,
	job_id  text NOT NULL,
	at      timestamptz NOT NULL,
	kind    text NOT NULL,
	stage   text NOT NULL,
	status  text NOT NULL DEFAULT '',
	url     text NOT NULL DEFAULT '',
	dur_ms  bigint NOT NULL DEFAULT 0,
	note    text NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS job_events_job_idx ON job_events (job_id, at);
`

const jobColumns = `id, status, url, agent_type, device, pages, created_at, updated_at,
	insight_forge_output, seo_report, analytic_core_draft, tagops_hub_output, error`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore persists jobs in a single table and implements the
// compare-and-set update with one UPDATE ... WHERE status = ANY(...).
type JobStore struct {
	pool pool
	now  func() time.Time
}

// NewJobStore connects a pool using cfg.
func NewJobStore(ctx context.Context, cfg Config, clock pipeline.Clock) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(p, clock)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, clock pipeline.Clock) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{pool: p, now: now}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the schema.
func (s *JobStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate jobs schema: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) error {
	ifo, seo, tho, err := encodeOutputs(job.InsightForgeOutput, job.SEOReport, job.TagOpsHubOutput)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO jobs (`+jobColumns+`) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`,
		job.ID,
		string(job.Status),
		job.URL,
		job.AgentType,
		string(job.Device),
		job.Pages,
		job.CreatedAt,
		job.UpdatedAt,
		ifo,
		seo,
		job.AnalyticCoreDraft,
		tho,
		job.Error,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Job{}, fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter pipeline.ListFilter) ([]pipeline.Job, error) {
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, string(filter.Status), limit, max(filter.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []pipeline.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob applies upd only when the row's status is one of from.
func (s *JobStore) UpdateJob(
	ctx context.Context,
	jobID string,
	from []pipeline.JobStatus,
	upd pipeline.JobUpdate,
) (pipeline.Job, error) {
	ifo, seo, tho, err := encodeOutputs(upd.InsightForgeOutput, upd.SEOReport, upd.TagOpsHubOutput)
	if err != nil {
		return pipeline.Job{}, err
	}
	var status *string
	if upd.Status != "" {
		st := string(upd.Status)
		status = &st
	}
	var allowed []string
	for _, st := range from {
		allowed = append(allowed, string(st))
	}

	row := s.pool.QueryRow(ctx, `
UPDATE jobs SET
	status = COALESCE($2, status),
	insight_forge_output = COALESCE($3, insight_forge_output),
	seo_report = COALESCE($4, seo_report),
	analytic_core_draft = COALESCE($5, analytic_core_draft),
	tagops_hub_output = COALESCE($6, tagops_hub_output),
	error = COALESCE($7, error),
	updated_at = $8
WHERE id = $1 AND ($9::text[] IS NULL OR status = ANY($9))
RETURNING `+jobColumns,
		jobID, status, ifo, seo, upd.AnalyticCoreDraft, tho, upd.Error, s.now(), allowed,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Job{}, fmt.Errorf("update job: %w", err)
	}

	// Nothing matched: either the job is missing or its status refused the update.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Job{}, fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("read job status: %w", err)
	}
	return pipeline.Job{}, &pipeline.StatusConflictError{
		JobID:   jobID,
		Current: pipeline.JobStatus(current),
		Target:  upd.Status,
	}
}

func scanJob(row pgx.Row) (pipeline.Job, error) {
	var (
		job                  pipeline.Job
		status, device       string
		ifoRaw, seoRaw, tRaw []byte
		draft                *string
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.URL,
		&job.AgentType,
		&device,
		&job.Pages,
		&job.CreatedAt,
		&job.UpdatedAt,
		&ifoRaw,
		&seoRaw,
		&draft,
		&tRaw,
		&job.Error,
	)
	if err != nil {
		return pipeline.Job{}, err
	}
	job.Status = pipeline.JobStatus(status)
	job.Device = pipeline.Device(device)
	job.AnalyticCoreDraft = draft
	if len(ifoRaw) > 0 {
		job.InsightForgeOutput = &pipeline.InsightForgeOutput{}
		if err := json.Unmarshal(ifoRaw, job.InsightForgeOutput); err != nil {
			return pipeline.Job{}, fmt.Errorf("decode insight_forge_output: %w", err)
		}
	}
	if len(seoRaw) > 0 {
		job.SEOReport = &pipeline.SEOReport{}
		if err := json.Unmarshal(seoRaw, job.SEOReport); err != nil {
			return pipeline.Job{}, fmt.Errorf("decode seo_report: %w", err)
		}
	}
	if len(tRaw) > 0 {
		job.TagOpsHubOutput = &pipeline.TagOpsHubOutput{}
		if err := json.Unmarshal(tRaw, job.TagOpsHubOutput); err != nil {
			return pipeline.Job{}, fmt.Errorf("decode tagops_hub_output: %w", err)
		}
	}
	return job, nil
}

func encodeOutputs(
	ifo *pipeline.InsightForgeOutput,
	seo *pipeline.SEOReport,
	tho *pipeline.TagOpsHubOutput,
) (ifoRaw, seoRaw, thoRaw []byte, err error) {
	if ifo != nil {
		if ifoRaw, err = json.Marshal(ifo); err != nil {
			return nil, nil, nil, fmt.Errorf("encode insight_forge_output: %w", err)
		}
	}
	if seo != nil {
		if seoRaw, err = json.Marshal(seo); err != nil {
			return nil, nil, nil, fmt.Errorf("encode seo_report: %w", err)
		}
	}
	if tho != nil {
		if thoRaw, err = json.Marshal(tho); err != nil {
			return nil, nil, nil, fmt.Errorf("encode tagops_hub_output: %w", err)
		}
	}
	return ifoRaw, seoRaw, thoRaw, nil
}
