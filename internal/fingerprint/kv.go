package fingerprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// KVStore keeps fingerprints in a NATS JetStream key-value bucket.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore opens, creating if needed, the named bucket.
func NewKVStore(ctx context.Context, nc *nats.Conn, bucket string) (*KVStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "last imported GTFS feed fingerprint per carrier",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	e, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(e.Value()), nil
}

func (s *KVStore) Put(ctx context.Context, key, value string) error {
	_, err := s.kv.Put(ctx, key, []byte(value))
	return err
}
