package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "blobs")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutGetObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		path := "jobs/j1/input/screens/screen_1.png"
		data := []byte{0x89, 'P', 'N', 'G'}
		uri, err := store.PutObject(ctx, path, "image/png", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		got, err := store.GetObject(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(ctx, "reports/j1.pdf", "application/pdf", bytes.NewReader([]byte("v1")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "reports/j1.pdf", "application/pdf", bytes.NewReader([]byte("v2")))
		require.NoError(t, err)
		got, err := store.GetObject(ctx, "reports/j1.pdf")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.GetObject(ctx, "nope.json")
		assert.ErrorIs(t, err, pipeline.ErrObjectNotFound)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", bytes.NewReader([]byte("data")))
		assert.ErrorContains(t, err, "traversal")
		_, err = store.GetObject(ctx, "../../etc/passwd")
		assert.ErrorContains(t, err, "traversal")
	})
}
