package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsImportRuns(t *testing.T) {
	c := NewCollector()
	c.RunFinished("WKD", "succeeded", time.Unix(1_760_000_000, 0))
	c.RunFinished("WKD", "failed", time.Now())
	c.Staged("WKD", "stop_times", 1500)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ImportRuns.WithLabelValues("WKD", "succeeded")))
	assert.Equal(t, 1_760_000_000.0, testutil.ToFloat64(c.LastSuccess.WithLabelValues("WKD")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(c.RowsStaged.WithLabelValues("WKD", "stop_times")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.State("WKD", 1, time.Second, "Idle")
		c.RunFinished("WKD", "succeeded", time.Now())
		c.Projected("WKD", "ok", time.Millisecond, time.Minute)
		c.NATSPublishedInc()
		c.NATSSetConnected(true)
	})
	assert.NoError(t, c.Push(context.Background(), "http://unused", "job"))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.Projected("WKD", "ok", 2*time.Millisecond, 90*time.Second)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `realtime_last_delay_seconds{carrier="WKD"} 90`)
}
