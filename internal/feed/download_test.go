package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func TestDownloader_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("PK-archive-bytes"))
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir(), quietLogger()).WithBackOff(noWait)
	path, err := d.Download(context.Background(), srv.URL+"/feed.zip")
	require.NoError(t, err)
	defer os.Remove(path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PK-archive-bytes", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownloader_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir(), quietLogger()).WithBackOff(noWait)
	_, err := d.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloader_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDownloader(t.TempDir(), quietLogger()).WithBackOff(noWait)
	_, err := d.Download(ctx, srv.URL)
	assert.Error(t, err)
}
