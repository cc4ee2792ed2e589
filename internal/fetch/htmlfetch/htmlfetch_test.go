package htmlfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linnemanlabs/leadwatch/internal/fetch"
	"github.com/linnemanlabs/leadwatch/internal/source"
)

const listingHTML = `<html><body>
<article class="post"><h2><a href="/posts/1">Acme Raises $10M Series A</a></h2><p class="excerpt">Acme announced funding</p></article>
<article class="post"><h2><a href="https://other.example.com/2">Beta hires CFO</a></h2></article>
<article class="post"><p>no heading here</p></article>
</body></html>`

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func desc(baseURL, article string) source.Descriptor {
	return source.Descriptor{
		Name:    "test",
		BaseURL: baseURL,
		Selectors: source.Selectors{
			Article: article,
			Title:   "h2 a",
			Link:    "h2 a",
			Excerpt: ".excerpt",
		},
	}
}

func openSession(t *testing.T) fetch.Session {
	t.Helper()
	s, err := New(Options{}).Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFetch_ReturnsElements(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusOK, listingHTML)
	s := openSession(t)

	els, err := s.Fetch(context.Background(), desc(srv.URL, "article.post"), 10)
	require.NoError(t, err)
	require.Len(t, els, 3)

	title, ok := els[0].Query("h2 a")
	require.True(t, ok)
	require.Equal(t, "Acme Raises $10M Series A", title.Text())

	href, ok := title.Attr("href")
	require.True(t, ok)
	require.Equal(t, "/posts/1", href)

	excerpt, ok := els[0].Query(".excerpt")
	require.True(t, ok)
	require.Equal(t, "Acme announced funding", excerpt.Text())

	_, ok = els[1].Query(".excerpt")
	require.False(t, ok)

	_, ok = els[2].Query("h2 a")
	require.False(t, ok)

	_, ok = els[0].Query("")
	require.False(t, ok)
}

func TestFetch_RespectsLimit(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for range 15 {
		b.WriteString(`<article><h2><a href="/x">t</a></h2></article>`)
	}
	b.WriteString("</body></html>")

	srv := newServer(t, http.StatusOK, b.String())
	s := openSession(t)

	els, err := s.Fetch(context.Background(), desc(srv.URL, "article"), 10)
	require.NoError(t, err)
	require.Len(t, els, 10)
}

func TestFetch_NoArticles(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusOK, "<html><body><div>nothing</div></body></html>")
	s := openSession(t)

	_, err := s.Fetch(context.Background(), desc(srv.URL, "article.post"), 10)
	require.Error(t, err)
	require.True(t, errors.Is(err, fetch.ErrNoArticles), "err = %v", err)
}

func TestFetch_HTTPError(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusServiceUnavailable, "down")
	s := openSession(t)

	_, err := s.Fetch(context.Background(), desc(srv.URL, "article"), 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestFetch_AfterClose(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusOK, listingHTML)
	s, err := New(Options{}).Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Fetch(context.Background(), desc(srv.URL, "article"), 10)
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New(Options{})
	require.Equal(t, DefaultTimeout, b.opts.Timeout)
	require.Equal(t, DefaultUserAgent, b.opts.UserAgent)
}
