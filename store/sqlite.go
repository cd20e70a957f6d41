package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aluiziolira/go-scrape-specs/models"
)

// SQLite stores brands and device records in a single database file.
// Removal is a soft flag: a removed device keeps its row and reappears
// cleanly if the source lists it again.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the harvest database under dir.
func Open(dir string) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	dbPath := filepath.Join(dir, "harvest.db")

	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports a single writer; the engine serializes writes per
	// device on top of this.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLite{db: db, dbPath: dbPath}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS brands (
		canonical_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		listing_url TEXT NOT NULL,
		declared_device_count INTEGER NOT NULL DEFAULT 0,
		last_scanned_at TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		specifications TEXT NOT NULL,
		image_urls TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		first_seen_at TEXT NOT NULL,
		last_updated_at TEXT NOT NULL,
		removed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_devices_brand ON devices(brand_id);
	CREATE INDEX IF NOT EXISTS idx_devices_fingerprint ON devices(fingerprint);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the stored record for deviceID, or (nil, nil) if absent.
// Soft-removed devices still resolve; their fingerprint decides whether a
// reappearance counts as changed.
func (s *SQLite) Lookup(ctx context.Context, deviceID string) (*models.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, brand_id, display_name, specifications, image_urls,
		       fingerprint, first_seen_at, last_updated_at, removed
		FROM devices WHERE device_id = ?`, deviceID)

	var record models.DeviceRecord
	var specsJSON, imagesJSON, firstSeen, lastUpdated string
	var removed int
	err := row.Scan(&record.DeviceID, &record.BrandID, &record.DisplayName,
		&specsJSON, &imagesJSON, &record.ContentFingerprint, &firstSeen, &lastUpdated, &removed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device %s: %w", deviceID, err)
	}

	if err := json.Unmarshal([]byte(specsJSON), &record.Specifications); err != nil {
		return nil, fmt.Errorf("decode specifications for %s: %w", deviceID, err)
	}
	if err := json.Unmarshal([]byte(imagesJSON), &record.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls for %s: %w", deviceID, err)
	}
	if record.FirstSeenAt, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("decode first_seen_at for %s: %w", deviceID, err)
	}
	if record.LastUpdatedAt, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return nil, fmt.Errorf("decode last_updated_at for %s: %w", deviceID, err)
	}
	record.Removed = removed != 0
	return &record, nil
}

// AllIDsForBrand returns the IDs of the brand's devices not currently
// flagged removed.
func (s *SQLite) AllIDsForBrand(ctx context.Context, brandID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id FROM devices WHERE brand_id = ? AND removed = 0`, brandID)
	if err != nil {
		return nil, fmt.Errorf("list devices for brand %s: %w", brandID, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device ids: %w", err)
	}
	return ids, nil
}

// Upsert writes a record, preserving first_seen_at for existing devices
// and clearing any removal flag. The mutable columns are replaced in one
// statement, so readers never observe a partial update.
func (s *SQLite) Upsert(ctx context.Context, record *models.DeviceRecord) error {
	specsJSON, err := json.Marshal(record.Specifications)
	if err != nil {
		return fmt.Errorf("encode specifications for %s: %w", record.DeviceID, err)
	}
	imagesJSON, err := json.Marshal(record.ImageURLs)
	if err != nil {
		return fmt.Errorf("encode image urls for %s: %w", record.DeviceID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, brand_id, display_name, specifications,
			image_urls, fingerprint, first_seen_at, last_updated_at, removed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(device_id) DO UPDATE SET
			display_name = excluded.display_name,
			specifications = excluded.specifications,
			image_urls = excluded.image_urls,
			fingerprint = excluded.fingerprint,
			last_updated_at = excluded.last_updated_at,
			removed = 0`,
		record.DeviceID, record.BrandID, record.DisplayName, string(specsJSON),
		string(imagesJSON), record.ContentFingerprint,
		record.FirstSeenAt.Format(time.RFC3339Nano),
		record.LastUpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", record.DeviceID, err)
	}
	return nil
}

// MarkRemoved flags a device no longer present upstream. The row is kept.
func (s *SQLite) MarkRemoved(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET removed = 1 WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("mark device %s removed: %w", deviceID, err)
	}
	return nil
}

// Restore clears the removal flag for a device that reappeared upstream
// with unchanged content, so no full upsert is warranted.
func (s *SQLite) Restore(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET removed = 0 WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("restore device %s: %w", deviceID, err)
	}
	return nil
}

// UpsertBrand records a discovered brand and its latest scan time.
func (s *SQLite) UpsertBrand(ctx context.Context, brand *models.Brand) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO brands (canonical_id, name, listing_url, declared_device_count, last_scanned_at, active)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(canonical_id) DO UPDATE SET
			name = excluded.name,
			listing_url = excluded.listing_url,
			declared_device_count = excluded.declared_device_count,
			last_scanned_at = excluded.last_scanned_at,
			active = 1`,
		brand.CanonicalID, brand.Name, brand.ListingURL, brand.DeclaredDeviceCount,
		brand.LastScannedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert brand %s: %w", brand.CanonicalID, err)
	}
	return nil
}

// Brands lists every known brand, active or not.
func (s *SQLite) Brands(ctx context.Context) ([]models.Brand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical_id, name, listing_url, declared_device_count, last_scanned_at, active
		FROM brands ORDER BY canonical_id`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	var brands []models.Brand
	for rows.Next() {
		var brand models.Brand
		var scannedAt sql.NullString
		var active int
		if err := rows.Scan(&brand.CanonicalID, &brand.Name, &brand.ListingURL,
			&brand.DeclaredDeviceCount, &scannedAt, &active); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		if scannedAt.Valid && scannedAt.String != "" {
			if brand.LastScannedAt, err = time.Parse(time.RFC3339Nano, scannedAt.String); err != nil {
				return nil, fmt.Errorf("decode last_scanned_at for %s: %w", brand.CanonicalID, err)
			}
		}
		brand.Active = active != 0
		brands = append(brands, brand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brands: %w", err)
	}
	return brands, nil
}

// MarkBrandInactive flags a brand that disappeared from the source index.
// Brands are never deleted.
func (s *SQLite) MarkBrandInactive(ctx context.Context, canonicalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE brands SET active = 0 WHERE canonical_id = ?`, canonicalID)
	if err != nil {
		return fmt.Errorf("mark brand %s inactive: %w", canonicalID, err)
	}
	return nil
}
