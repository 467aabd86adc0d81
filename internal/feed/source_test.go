package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitland_Descriptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feeds", r.URL.Path)
		assert.Equal(t, "f-u3qc-wkd", r.URL.Query().Get("onestop_id"))
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"feeds":[{"onestop_id":"f-u3qc-wkd","feed_versions":[
			{"sha1":"abc123","url":"https://example.org/wkd.zip"},
			{"sha1":"old","url":"https://example.org/old.zip"}]}]}`))
	}))
	defer srv.Close()

	tl := NewTransitland(srv.URL, "secret", map[string]string{"WKD": "f-u3qc-wkd"})
	d, err := tl.Descriptor(context.Background(), "WKD")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Carrier: "WKD", Fingerprint: "abc123", URL: "https://example.org/wkd.zip"}, d)
}

func TestTransitland_NoVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feeds":[{"onestop_id":"f-x","feed_versions":[]}]}`))
	}))
	defer srv.Close()

	tl := NewTransitland(srv.URL, "", map[string]string{"X": "f-x"})
	_, err := tl.Descriptor(context.Background(), "X")
	assert.True(t, errors.Is(err, ErrNoFeedVersion))

	_, err = tl.Descriptor(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, ErrUnknownCarrier))
}

func TestStaticSource_Fingerprint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/etag.zip":
			w.Header().Set("ETag", `"v42"`)
			w.Header().Set("Last-Modified", "Wed, 14 Oct 2026 10:00:00 GMT")
		case "/lm.zip":
			w.Header().Set("Last-Modified", "Wed, 14 Oct 2026 10:00:00 GMT")
		}
	}))
	defer srv.Close()

	s := NewStaticSource(map[string]string{
		"A": srv.URL + "/etag.zip",
		"B": srv.URL + "/lm.zip",
		"C": srv.URL + "/bare.zip",
	})

	d, err := s.Descriptor(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, `"v42"`, d.Fingerprint)

	d, err = s.Descriptor(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, "Wed, 14 Oct 2026 10:00:00 GMT", d.Fingerprint)

	_, err = s.Descriptor(context.Background(), "C")
	assert.ErrorIs(t, err, ErrNoFeedVersion)
}

func TestSources_FallThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "static")
	}))
	defer srv.Close()

	ss := Sources{
		NewTransitland("http://127.0.0.1:1", "", map[string]string{}),
		NewStaticSource(map[string]string{"WKD": srv.URL}),
	}
	d, err := ss.Descriptor(context.Background(), "WKD")
	require.NoError(t, err)
	assert.Equal(t, "static", d.Fingerprint)

	_, err = ss.Descriptor(context.Background(), "ZTM")
	assert.ErrorIs(t, err, ErrUnknownCarrier)
}
