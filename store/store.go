// Package store persists harvested device records. The reconciliation
// engine depends only on the RecordStore contract; the SQLite
// implementation here is one collaborator satisfying it.
package store

import (
	"context"

	"github.com/aluiziolira/go-scrape-specs/models"
)

// RecordStore is the persistence boundary the reconciliation engine
// writes through. Lookup returns (nil, nil) for an absent device;
// soft-removed devices still resolve, with Removed set, so a reappearing
// device can be restored instead of staying dropped.
type RecordStore interface {
	Lookup(ctx context.Context, deviceID string) (*models.DeviceRecord, error)
	AllIDsForBrand(ctx context.Context, brandID string) (map[string]struct{}, error)
	Upsert(ctx context.Context, record *models.DeviceRecord) error
	MarkRemoved(ctx context.Context, deviceID string) error
	Restore(ctx context.Context, deviceID string) error
}

// BrandStore persists the brand catalog alongside device records.
type BrandStore interface {
	UpsertBrand(ctx context.Context, brand *models.Brand) error
	Brands(ctx context.Context) ([]models.Brand, error)
	MarkBrandInactive(ctx context.Context, canonicalID string) error
}
