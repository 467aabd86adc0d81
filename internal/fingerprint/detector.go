// Package fingerprint remembers the last imported feed version per carrier.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gtfs-live/internal/feed"
)

// ErrNotFound is returned by a Store when no fingerprint is kept for a key.
var ErrNotFound = errors.New("fingerprint not found")

// Store is a small key-value store holding one fingerprint per carrier.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// Detector compares feed descriptors against the stored fingerprints.
type Detector struct {
	store  Store
	logger *slog.Logger
}

func NewDetector(store Store, logger *slog.Logger) *Detector {
	return &Detector{store: store, logger: logger}
}

func key(carrier string) string { return "feed." + carrier }

// IsNew reports whether d differs from the last committed fingerprint.
// A store failure is logged and reported as not new, so an outage never
// triggers a redundant import.
func (det *Detector) IsNew(ctx context.Context, d feed.Descriptor) bool {
	stored, err := det.store.Get(ctx, key(d.Carrier))
	if errors.Is(err, ErrNotFound) {
		return true
	}
	if err != nil {
		det.logger.Error("fingerprint store unavailable, skipping import",
			"carrier", d.Carrier, "error", err)
		return false
	}
	return stored != d.Fingerprint
}

// Commit records d's fingerprint as imported. Call it only once the data it
// describes is live: a stored fingerprint makes later runs skip the version.
func (det *Detector) Commit(ctx context.Context, d feed.Descriptor) error {
	if err := det.store.Put(ctx, key(d.Carrier), d.Fingerprint); err != nil {
		return fmt.Errorf("store fingerprint %s: %w", d.Carrier, err)
	}
	return nil
}
