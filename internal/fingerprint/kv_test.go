package fingerprint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewKVStore(ctx, nc, "gtfs_fingerprints_test")
	require.NoError(t, err)

	k := "feed.TEST" + time.Now().Format("150405")
	_, err = s.Get(ctx, k)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, k, "abc"))
	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, s.Put(ctx, k, "def"))
	got, err = s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "def", got)
}
