package store

import (
	"context"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-specs/models"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func sampleRecord(deviceID, brandID, battery string) *models.DeviceRecord {
	record := &models.DeviceRecord{
		DeviceID:    deviceID,
		BrandID:     brandID,
		DisplayName: "Device " + deviceID,
		Specifications: []models.SpecSection{
			{Category: "Battery", Fields: []models.SpecField{{Name: "Type", Value: battery}}},
		},
		ImageURLs:     []string{"http://catalog.test/img/" + deviceID + ".jpg"},
		FirstSeenAt:   time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
		LastUpdatedAt: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	record.ContentFingerprint = models.Fingerprint(record.Specifications)
	return record
}

func TestSQLiteLookupAbsent(t *testing.T) {
	s := openTestStore(t)

	record, err := s.Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil for absent device, got %+v", record)
	}
}

func TestSQLiteUpsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	original := sampleRecord("acme_one-100", "acme", "5000 mAh")
	if err := s.Upsert(ctx, original); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Lookup(ctx, "acme_one-100")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil {
		t.Fatalf("record not found after upsert")
	}
	if got.DisplayName != original.DisplayName {
		t.Fatalf("display name = %q", got.DisplayName)
	}
	if got.ContentFingerprint != original.ContentFingerprint {
		t.Fatalf("fingerprint mismatch")
	}
	if len(got.Specifications) != 1 || got.Specifications[0].Category != "Battery" {
		t.Fatalf("specifications = %+v", got.Specifications)
	}
	if !got.FirstSeenAt.Equal(original.FirstSeenAt) {
		t.Fatalf("first seen = %v, want %v", got.FirstSeenAt, original.FirstSeenAt)
	}
}

func TestSQLiteUpsertPreservesFirstSeen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	original := sampleRecord("acme_one-100", "acme", "5000 mAh")
	if err := s.Upsert(ctx, original); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	updated := sampleRecord("acme_one-100", "acme", "4500 mAh")
	updated.FirstSeenAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	updated.LastUpdatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Upsert(ctx, updated); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.Lookup(ctx, "acme_one-100")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !got.FirstSeenAt.Equal(original.FirstSeenAt) {
		t.Fatalf("first seen = %v, want original %v", got.FirstSeenAt, original.FirstSeenAt)
	}
	if !got.LastUpdatedAt.Equal(updated.LastUpdatedAt) {
		t.Fatalf("last updated = %v, want %v", got.LastUpdatedAt, updated.LastUpdatedAt)
	}
	if got.ContentFingerprint != updated.ContentFingerprint {
		t.Fatalf("fingerprint should reflect the update")
	}
}

func TestSQLiteMarkRemoved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, sampleRecord("acme_one-100", "acme", "5000 mAh")); err != nil {
		t.Fatalf("upsert one: %v", err)
	}
	if err := s.Upsert(ctx, sampleRecord("acme_two-101", "acme", "4000 mAh")); err != nil {
		t.Fatalf("upsert two: %v", err)
	}

	if err := s.MarkRemoved(ctx, "acme_two-101"); err != nil {
		t.Fatalf("mark removed: %v", err)
	}

	ids, err := s.AllIDsForBrand(ctx, "acme")
	if err != nil {
		t.Fatalf("all ids: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want only the live device", ids)
	}
	if _, ok := ids["acme_one-100"]; !ok {
		t.Fatalf("live device missing from %v", ids)
	}

	// Soft delete: the row survives and a re-upsert revives it.
	record, err := s.Lookup(ctx, "acme_two-101")
	if err != nil || record == nil {
		t.Fatalf("removed device should still resolve, got %v/%v", record, err)
	}
	if !record.Removed {
		t.Fatalf("lookup should surface the removal flag")
	}
	if err := s.Upsert(ctx, sampleRecord("acme_two-101", "acme", "4000 mAh")); err != nil {
		t.Fatalf("revive upsert: %v", err)
	}
	ids, err = s.AllIDsForBrand(ctx, "acme")
	if err != nil {
		t.Fatalf("all ids after revive: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids after revive = %v, want 2", ids)
	}
}

func TestSQLiteRestore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, sampleRecord("acme_one-100", "acme", "5000 mAh")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.MarkRemoved(ctx, "acme_one-100"); err != nil {
		t.Fatalf("mark removed: %v", err)
	}

	if err := s.Restore(ctx, "acme_one-100"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	record, err := s.Lookup(ctx, "acme_one-100")
	if err != nil || record == nil {
		t.Fatalf("lookup after restore: %v/%v", record, err)
	}
	if record.Removed {
		t.Fatalf("device should no longer be flagged removed")
	}
	ids, err := s.AllIDsForBrand(ctx, "acme")
	if err != nil {
		t.Fatalf("all ids: %v", err)
	}
	if _, ok := ids["acme_one-100"]; !ok {
		t.Fatalf("restored device missing from live set: %v", ids)
	}
}

func TestSQLiteBrands(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	brand := &models.Brand{
		Name:                "Acme",
		CanonicalID:         "acme",
		ListingURL:          "http://catalog.test/acme-phones-1.php",
		DeclaredDeviceCount: 42,
		LastScannedAt:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Active:              true,
	}
	if err := s.UpsertBrand(ctx, brand); err != nil {
		t.Fatalf("upsert brand: %v", err)
	}

	brands, err := s.Brands(ctx)
	if err != nil {
		t.Fatalf("brands: %v", err)
	}
	if len(brands) != 1 || brands[0].CanonicalID != "acme" || !brands[0].Active {
		t.Fatalf("brands = %+v", brands)
	}
	if brands[0].DeclaredDeviceCount != 42 {
		t.Fatalf("declared count = %d", brands[0].DeclaredDeviceCount)
	}

	if err := s.MarkBrandInactive(ctx, "acme"); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	brands, err = s.Brands(ctx)
	if err != nil {
		t.Fatalf("brands after inactive: %v", err)
	}
	if len(brands) != 1 || brands[0].Active {
		t.Fatalf("brand should be retained but inactive, got %+v", brands)
	}
}
