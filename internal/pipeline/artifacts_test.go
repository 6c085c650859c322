package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArtifactPaths(t *testing.T) {
	t.Parallel()

	require.Equal(t, "jobs/j1/input/", InputPrefix("j1"))
	require.Equal(t, "jobs/j1/input/screens/screen_0.png", ScreenPath("j1", 0))
	require.Equal(t, "jobs/j1/input/coordmaps/coordmap_2.json", CoordmapPath("j1", 2))
	require.Equal(t, "jobs/j1/input/crops/crop_1.png", CropPath("j1", 1))
	require.Equal(t, "jobs/j1/input/all_pages.json", AllPagesPath("j1"))
	require.Equal(t, "reports/j1.pdf", ReportPath("j1"))
}

func TestKeyFromURI(t *testing.T) {
	t.Parallel()

	for _, uri := range []string{
		"gs://bucket/jobs/j1/input/all_pages.json",
		"file:///var/data/jobs/j1/input/all_pages.json",
		"memory://jobs/j1/input/all_pages.json",
		"jobs/j1/input/all_pages.json",
	} {
		key, err := KeyFromURI(uri, "j1")
		require.NoError(t, err, uri)
		require.Equal(t, "jobs/j1/input/all_pages.json", key)
	}

	_, err := KeyFromURI("gs://bucket/jobs/other/input/all_pages.json", "j1")
	require.ErrorIs(t, err, ErrInvalidInput)
}
