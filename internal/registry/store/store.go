// Package store persists registry records.
//
// Every implementation speaks sentinel errors:
//   - Create on an existing fingerprint returns sentinel.ErrAlreadyUsed
//   - lookups and Execute on an unknown fingerprint return sentinel.ErrNotFound
//   - a validate callback's error is returned unchanged and nothing is written
//
// Callers translate these into coded domain errors.
package store

import (
	"context"
	"time"

	"notary/internal/registry/models"
	id "notary/pkg/domain"
)

// Store is the fingerprint store contract shared by the memory, Postgres and
// cached implementations.
type Store interface {
	Create(ctx context.Context, record *models.Record) error
	FindByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Record, error)
	// FindMany returns the records that exist among fps. Missing fingerprints
	// are simply absent from the map.
	FindMany(ctx context.Context, fps []id.Fingerprint) (map[id.Fingerprint]*models.Record, error)
	// Execute atomically loads the record, runs validate, applies mutate and
	// persists the result. The updated record is returned.
	Execute(ctx context.Context, fp id.Fingerprint, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)
	Count(ctx context.Context) (int, error)
	// LatestIssuedAt returns the newest issuance time, or the zero time when
	// the store is empty.
	LatestIssuedAt(ctx context.Context) (time.Time, error)
}

func dedupe(fps []id.Fingerprint) []id.Fingerprint {
	seen := make(map[id.Fingerprint]struct{}, len(fps))
	out := make([]id.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	return out
}
