package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/clock/system"
	"github.com/JakeFAU/tagops-pipeline/internal/launcher"
	"github.com/JakeFAU/tagops-pipeline/internal/mcp"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/queue"
	"github.com/JakeFAU/tagops-pipeline/internal/storage/memory"
)

func TestLaunchJobAccepted(t *testing.T) {
	t.Parallel()

	fl := &fakeLauncher{id: "job-42"}
	srv, _ := newTestServer(t, Deps{Launcher: fl})

	rec := do(t, srv, http.MethodPost, "/v1/jobs",
		`{"url":"https://shop.example","pages":"3","device":"mobile","agentType":"tagging"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"jobId":"job-42"}`, rec.Body.String())
	require.Equal(t, pipeline.PageCount(3), fl.got.Pages)
	require.Equal(t, "mobile", fl.got.Device)
}

func TestLaunchJobErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "invalid json", body: `{invalid`, want: http.StatusBadRequest},
		{name: "bad pages", body: `{"pages":"many"}`, want: http.StatusBadRequest},
		{name: "validation", body: `{}`, err: fmt.Errorf("%w: missing required parameters", pipeline.ErrInvalidInput), want: http.StatusBadRequest},
		{name: "store down", body: `{}`, err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newTestServer(t, Deps{Launcher: &fakeLauncher{err: tt.err}})
			rec := do(t, srv, http.MethodPost, "/v1/jobs", tt.body)
			require.Equal(t, tt.want, rec.Code)
			require.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestSaveDraft(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t, Deps{})
	seed(t, jobs, "done", pipeline.StatusAnalyticCoreCompleted)
	seed(t, jobs, "busy", pipeline.StatusTagOpsHubPending)

	rec := do(t, srv, http.MethodPut, "/v1/jobs/done/draft", `{"markdown":"# Edited"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	job, err := jobs.GetJob(context.Background(), "done")
	require.NoError(t, err)
	require.Equal(t, "# Edited", job.Draft())
	require.Equal(t, pipeline.StatusAnalyticCoreCompleted, job.Status)

	rec = do(t, srv, http.MethodPut, "/v1/jobs/busy/draft", `{"markdown":"# Edited"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPut, "/v1/jobs/ghost/draft", `{"markdown":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAnalyticCoreMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: http.StatusOK},
		{err: fmt.Errorf("job x: %w", pipeline.ErrNotFound), want: http.StatusNotFound},
		{err: &pipeline.StatusConflictError{JobID: "x", Current: pipeline.StatusAnalyticCorePending}, want: http.StatusConflict},
		{err: fmt.Errorf("%w: no scrape output", pipeline.ErrPrecondition), want: http.StatusPreconditionFailed},
		{err: fmt.Errorf("seo completion: %w", pipeline.ErrUnavailable), want: http.StatusServiceUnavailable},
		{err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.want), func(t *testing.T) {
			t.Parallel()
			srv, _ := newTestServer(t, Deps{Report: &fakeReport{err: tt.err}})
			rec := do(t, srv, http.MethodPost, "/v1/jobs/x/analytic-core", "")
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRunTagOpsHub(t *testing.T) {
	t.Parallel()

	fe := &fakeExport{url: "https://storage.googleapis.com/b/reports/x.pdf"}
	srv, _ := newTestServer(t, Deps{Export: fe})

	rec := do(t, srv, http.MethodPost, "/v1/jobs/x/tagops-hub", `{"modifiedMarkdown":"# Final"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"pdfUrl":"https://storage.googleapis.com/b/reports/x.pdf"}`, rec.Body.String())
	require.Equal(t, "# Final", fe.markdown)

	rec = do(t, srv, http.MethodPost, "/v1/jobs/x/tagops-hub", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, fe.markdown)

	rec = do(t, srv, http.MethodPost, "/v1/jobs/x/tagops-hub", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunTagOpsHubChunkedEmptyBodyUsesStoredDraft(t *testing.T) {
	t.Parallel()

	fe := &fakeExport{url: "https://storage.googleapis.com/b/reports/x.pdf", markdown: "stale"}
	srv, _ := newTestServer(t, Deps{Export: fe})

	// A reader of unknown size leaves ContentLength at -1, as with chunked encoding.
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/x/tagops-hub", struct{ io.Reader }{strings.NewReader("")})
	require.Equal(t, int64(-1), req.ContentLength)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, fe.markdown)
}

func TestCallTool(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodPost, "/v1/mcp/tools", `{"tool":"GuiaTaggeo","sessionId":"s"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	tools := &fakeTools{}
	srv, _ = newTestServer(t, Deps{Tools: tools})
	rec = do(t, srv, http.MethodPost, "/v1/mcp/tools", `{"tool":" GuiaTaggeo ","sessionId":"s","payload":{"url":"u"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "GuiaTaggeo", tools.got.Tool)
	require.Equal(t, "u", tools.got.Payload["url"])

	var res mcp.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, mcp.StatusSuccess, res.Status)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Deps{})
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/metrics", "").Code)

	srv, _ = newTestServer(t, Deps{Ready: []Checker{func(context.Context) error { return errors.New("db down") }}})
	rec := do(t, srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func newTestServer(t *testing.T, deps Deps) (*Server, *memory.JobStore) {
	t.Helper()
	jobs := memory.NewJobStore(system.Fixed{At: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)})
	if deps.Jobs == nil {
		deps.Jobs = jobs
	}
	if deps.Events == nil {
		deps.Events = memory.NewEventStore()
	}
	return NewServer(deps, Options{RequestTimeout: 5 * time.Second, StageTimeout: 5 * time.Second}, zap.NewNop()), jobs
}

func do(t *testing.T, srv interface{ Handler() http.Handler }, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seed(t *testing.T, jobs *memory.JobStore, id string, status pipeline.JobStatus) {
	t.Helper()
	require.NoError(t, jobs.CreateJob(context.Background(), pipeline.Job{
		ID: id, Status: status, URL: "https://" + id + ".example", AgentType: "tagging",
		Device: pipeline.DeviceDesktop, Pages: 1,
		CreatedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}))
}

type fakeLauncher struct {
	id  string
	err error
	got launcher.Request
}

func (f *fakeLauncher) Launch(_ context.Context, req launcher.Request) (string, error) {
	f.got = req
	return f.id, f.err
}

type fakeReport struct{ err error }

func (f *fakeReport) Run(_ context.Context, jobID string) (pipeline.Job, error) {
	if f.err != nil {
		return pipeline.Job{}, f.err
	}
	return pipeline.Job{ID: jobID, Status: pipeline.StatusAnalyticCoreCompleted}, nil
}

type fakeExport struct {
	url      string
	markdown string
}

func (f *fakeExport) Run(_ context.Context, _ string, markdown string) (string, error) {
	f.markdown = markdown
	return f.url, nil
}

type fakeTools struct{ got mcp.Call }

func (f *fakeTools) Call(_ context.Context, c mcp.Call) (mcp.Result, error) {
	f.got = c
	return mcp.Result{Status: mcp.StatusSuccess, Tool: c.Tool, SessionID: c.SessionID}, nil
}

type fakeSubmitter struct {
	tasks []pipeline.ScrapeTask
	full  bool
}

func (f *fakeSubmitter) Submit(task pipeline.ScrapeTask) error {
	if f.full {
		return fmt.Errorf("queue enqueue: %w", queue.ErrFull)
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeSubmitter) Backlog() int { return len(f.tasks) }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	return h.client.Close()
}

func newRequest(method, path, body string) *http.Request {
	return httptest.NewRequest(method, path, bytes.NewBufferString(body))
}

func serve(srv interface{ Handler() http.Handler }, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
