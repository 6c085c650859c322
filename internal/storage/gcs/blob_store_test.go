package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "tagops-bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var gotBody string
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/b/tagops-bucket/o")
		require.Equal(t, "reports/j1.pdf", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(body)
		fmt.Fprintln(w, `{"name":"reports/j1.pdf","bucket":"tagops-bucket"}`)
	}))

	uri, err := store.PutObject(context.Background(), "reports/j1.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	require.Equal(t, "gs://tagops-bucket/reports/j1.pdf", uri)
	require.Contains(t, gotBody, "%PDF-1.4")
	require.Contains(t, gotBody, "application/pdf")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	_, err := store.PutObject(context.Background(), "x", "", strings.NewReader("data"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("data"))
	require.ErrorContains(t, err, "path is required")
}

func TestGetObjectMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	_, err := store.GetObject(context.Background(), "jobs/j1/input/all_pages.json")
	require.ErrorIs(t, err, pipeline.ErrObjectNotFound)
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"https://storage.googleapis.com/bucket/reports/abc.pdf",
		PublicURL("bucket", "reports/abc.pdf"))
	require.Equal(t,
		"https://storage.googleapis.com/bucket/a%20b/c.pdf",
		PublicURL("bucket", "a b/c.pdf"))
}

func TestParseURI(t *testing.T) {
	t.Parallel()

	bucket, key, err := ParseURI("gs://b/jobs/j/input/all_pages.json")
	require.NoError(t, err)
	require.Equal(t, "b", bucket)
	require.Equal(t, "jobs/j/input/all_pages.json", key)

	for _, bad := range []string{"https://x/y", "gs://bucket", "gs:///key"} {
		_, _, err := ParseURI(bad)
		require.Error(t, err, bad)
	}
}
