package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"knowledgehub/internal/config"
	"knowledgehub/pkg/httputil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFilename(t *testing.T) {
	cases := map[string]string{
		"https://example.com/docs/intro":       "example.com_docs_intro.html",
		"https://example.com/":                 "example.com.html",
		"http://example.com:8080/a/index.html": "example.com_a_index.html",
		"https://example.com/search?q=go":      "example.com_search.html",
		"https://example.com/a%20b/c":          "example.com_a_20b_c.html",
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, PageFilename(u), raw)
	}

	long, err := url.Parse("https://example.com/" + strings.Repeat("segment/", 40))
	require.NoError(t, err)
	name := PageFilename(long)
	assert.LessOrEqual(t, len(name), maxSlugLen+len(".html"))
	assert.True(t, strings.HasSuffix(name, ".html"))
}

func TestFetchRejectsBadURLs(t *testing.T) {
	f := NewFetcher(config.IngestConfig{FetchTimeoutSeconds: 1})
	for _, raw := range []string{"ftp://example.com/x", "file:///etc/passwd", "not a url", "http://"} {
		_, err := f.Fetch(context.Background(), raw)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr, raw)
		assert.Equal(t, raw, fetchErr.URL)
	}
}

func TestFetchBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 2048)))
	}))
	defer server.Close()

	f := NewFetcher(config.IngestConfig{FetchTimeoutSeconds: 1})
	f.maxBytes = 1024

	_, err := f.Fetch(context.Background(), server.URL)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, httputil.ErrBodyTooLarge)
}

func TestFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	f := NewFetcher(config.IngestConfig{}, httputil.WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := f.Fetch(context.Background(), server.URL)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Less(t, time.Since(start), time.Second)
}
