package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
)

func TestHTTPFetcher_ReturnsBodyAndCacheHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Wed, 01 Jan 2026 00:00:00 GMT")
		w.Write([]byte("example.com\n"))
	}))
	defer srv.Close()

	fetch := HTTPFetcher(5 * time.Second)
	body, etag, lastMod, notModified, err := fetch(context.Background(), srv.URL, "", "")
	require.NoError(t, err)
	require.False(t, notModified)
	require.Equal(t, "example.com\n", body)
	require.Equal(t, `"v1"`, etag)
	require.Equal(t, "Wed, 01 Jan 2026 00:00:00 GMT", lastMod)
}

func TestHTTPFetcher_HonorsNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("unexpected"))
	}))
	defer srv.Close()

	fetch := HTTPFetcher(5 * time.Second)
	_, etag, _, notModified, err := fetch(context.Background(), srv.URL, `"v1"`, "")
	require.NoError(t, err)
	require.True(t, notModified)
	require.Equal(t, `"v1"`, etag)
}

func TestHTTPFetcher_NonOKIsUpstreamFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetch := HTTPFetcher(5 * time.Second)
	_, _, _, _, err := fetch(context.Background(), srv.URL, "", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, pberrors.ErrUpstreamFetch))
}
