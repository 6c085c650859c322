package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "jobs/j1/input/all_pages.json", "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	require.Equal(t, "memory://jobs/j1/input/all_pages.json", uri)
	require.Equal(t, "application/json", store.ContentType("jobs/j1/input/all_pages.json"))

	got, err := store.GetObject(ctx, "jobs/j1/input/all_pages.json")
	require.NoError(t, err)
	require.Equal(t, []byte(`[]`), got)

	got[0] = 'X'
	again, err := store.GetObject(ctx, "jobs/j1/input/all_pages.json")
	require.NoError(t, err)
	require.Equal(t, []byte(`[]`), again, "GetObject returns a copy")
}

func TestBlobStoreMissingAndEmptyPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.GetObject(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrObjectNotFound)

	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestBlobStoreKeys(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, k := range []string{"jobs/a/2", "jobs/a/1", "reports/a.pdf"} {
		_, err := store.PutObject(ctx, k, "", strings.NewReader("x"))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"jobs/a/1", "jobs/a/2"}, store.Keys("jobs/"))
}
