package xhs

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecompressionGzip verifies gzip responses arrive decoded and still
// classify normally.
func TestDecompressionGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`{"success":true,"data":{"ok":1}}`))
		gz.Close()
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, srv.URL)
	out, err := c.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.True(t, out.IsSuccess())
	assert.Equal(t, int64(1), out.Get("ok").Int())
}

// TestDecompressionBrotli verifies brotli responses arrive decoded.
func TestDecompressionBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		bw.Write([]byte(`{"success":true}`))
		bw.Close()
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, srv.URL)
	out, err := c.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.True(t, out.IsSuccess())
}

// TestRedirectsAreNotFollowed verifies a redirect comes back as a raw
// outcome instead of being chased to a new location.
func TestRedirectsAreNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			t.Fatal("redirect target must not be fetched")
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, srv.URL)
	out, err := c.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, 302, out.RawStatus)
	assert.Equal(t, "/login", out.RawHeader.Get("Location"))
}
