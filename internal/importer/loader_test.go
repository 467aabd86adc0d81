package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/logging"
)

type memWriter struct {
	resets  int
	batches [][]gtfs.Record
	delay   time.Duration
}

func (w *memWriter) ResetCarrier(context.Context, string) error {
	w.resets++
	return nil
}

func (w *memWriter) WriteBatch(ctx context.Context, records []gtfs.Record) error {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.batches = append(w.batches, records)
	return nil
}

func rows(header []string, values ...[]string) []gtfs.Row {
	h := gtfs.NewHeader(header)
	out := make([]gtfs.Row, len(values))
	for i, v := range values {
		out[i] = h.Row(v, i+2)
	}
	return out
}

func TestLoader_BeginResetsOnce(t *testing.T) {
	w := &memWriter{}
	l := NewLoader(w, "ZTM", 0, logging.Discard(), nil)
	require.NoError(t, l.Begin(context.Background()))
	require.NoError(t, l.Begin(context.Background()))

	_, err := l.LoadBatch(context.Background(), gtfs.Routes, rows([]string{"route_id", "route_type"}, []string{"1", "0"}))
	require.NoError(t, err)
	assert.Equal(t, 1, w.resets)
}

func TestLoader_KeepsFirstAgencyOnly(t *testing.T) {
	ctx := context.Background()
	w := &memWriter{}
	l := NewLoader(w, "ZTM", 0, logging.Discard(), nil)

	header := []string{"agency_id", "agency_name"}
	n, err := l.LoadBatch(ctx, gtfs.Agency, rows(header, []string{"1", "ZTM"}, []string{"2", "Koleje Mazowieckie"}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.LoadBatch(ctx, gtfs.Agency, rows(header, []string{"3", "SKM"}))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, w.batches, 1)
	assert.Equal(t, []gtfs.Record{gtfs.Carrier{Code: "ZTM", Name: "ZTM"}}, w.batches[0])
}

func TestLoader_MalformedRowAbortsBatch(t *testing.T) {
	w := &memWriter{}
	l := NewLoader(w, "ZTM", 0, logging.Discard(), nil)

	n, err := l.LoadBatch(context.Background(), gtfs.Stops, rows(
		[]string{"stop_id", "stop_lat", "stop_lon"},
		[]string{"A", "52.0", "21.0"},
		[]string{"B", "52.1", ""},
	))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, gtfs.ErrMissingField)
	assert.Empty(t, w.batches, "nothing is written when one row is bad")
}

func TestLoader_BatchTimeout(t *testing.T) {
	w := &memWriter{delay: time.Second}
	l := NewLoader(w, "ZTM", 20*time.Millisecond, logging.Discard(), nil)

	_, err := l.LoadBatch(context.Background(), gtfs.Routes, rows([]string{"route_id", "route_type"}, []string{"1", "3"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "exceeded")
}
