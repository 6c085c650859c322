package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T, robots string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		if robots == "" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, robots)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><body>
<a href="/products">Products</a>
<a href="/products/">Products again</a>
<a href="/about#team">About</a>
<a href="/about">About dup</a>
<a href="https://elsewhere.example/x">External</a>
<a href="/brochure.pdf">PDF</a>
<a href="mailto:hi@example.com">Mail</a>
<a href="/contact?ref=home">Contact</a>
<a href="/blog">Blog</a>
</body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverListsSameHostLinksInOrder(t *testing.T) {
	t.Parallel()

	srv := newSite(t, "")
	d := New(Config{UserAgent: "tagops-test", RespectRobots: true}, nil)

	urls, err := d.Discover(context.Background(), srv.URL+"/", 4)
	require.NoError(t, err)
	require.Equal(t, []string{
		srv.URL + "/",
		srv.URL + "/products",
		srv.URL + "/about",
		srv.URL + "/contact?ref=home",
	}, urls)
}

func TestDiscoverHonorsRobots(t *testing.T) {
	t.Parallel()

	srv := newSite(t, "User-agent: *\nDisallow: /")
	d := New(Config{RespectRobots: true}, nil)

	urls, err := d.Discover(context.Background(), srv.URL+"/", 5)
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "/"}, urls)
}

func TestDiscoverIgnoresRobotsWhenDisabled(t *testing.T) {
	t.Parallel()

	srv := newSite(t, "User-agent: *\nDisallow: /")
	d := New(Config{RespectRobots: false}, nil)

	urls, err := d.Discover(context.Background(), srv.URL+"/", 20)
	require.NoError(t, err)
	require.Len(t, urls, 5)
}

func TestDiscoverSinglePageSkipsFetch(t *testing.T) {
	t.Parallel()

	d := New(Config{}, nil)
	urls, err := d.Discover(context.Background(), "https://unreachable.invalid/", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://unreachable.invalid/"}, urls)
}

func TestDiscoverRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil).Discover(context.Background(), "ftp://example.com", 3)
	require.Error(t, err)
}

func TestDiscoverFallsBackOnFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	urls, err := New(Config{}, nil).Discover(context.Background(), srv.URL, 3)
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL}, urls)
}

func TestDiscoverCanceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, nil).Discover(ctx, srv.URL, 3)
	require.ErrorIs(t, err, context.Canceled)
}
