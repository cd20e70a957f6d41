// Package models defines data structures shared by the harvesting engine.
package models

import (
	"net/url"
	"strings"
	"time"
)

// Brand is a manufacturer namespace under which devices are cataloged.
// Brands are created on first discovery and never deleted; a brand that
// vanishes from the source index is marked inactive.
type Brand struct {
	Name                string    `json:"name" yaml:"name"`
	CanonicalID         string    `json:"canonical_id" yaml:"canonical_id"`
	ListingURL          string    `json:"listing_url" yaml:"listing_url"`
	DeclaredDeviceCount int       `json:"declared_device_count" yaml:"declared_device_count"`
	LastScannedAt       time.Time `json:"last_scanned_at" yaml:"last_scanned_at"`
	Active              bool      `json:"active" yaml:"active"`
}

// DeviceRef is a single entry on a brand's listing page: enough to know the
// device exists and where its detail page lives.
type DeviceRef struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
}

// SpecField is one name/value row inside a specification section.
type SpecField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SpecSection groups the fields of one specification category, preserving
// the order in which the source page presented them.
type SpecSection struct {
	Category string      `json:"category"`
	Fields   []SpecField `json:"fields"`
}

// DeviceRecord is the structured result of parsing one device detail page.
// Specifications, ImageURLs, ContentFingerprint and LastUpdatedAt are
// replaced atomically on change; the remaining fields are immutable once
// written.
type DeviceRecord struct {
	DeviceID           string        `json:"device_id"`
	BrandID            string        `json:"brand_id"`
	DisplayName        string        `json:"display_name"`
	Specifications     []SpecSection `json:"specifications"`
	ImageURLs          []string      `json:"image_urls"`
	ContentFingerprint string        `json:"content_fingerprint"`
	FirstSeenAt        time.Time     `json:"first_seen_at"`
	LastUpdatedAt      time.Time     `json:"last_updated_at"`
	// Removed reflects the store's soft-delete flag on lookup. It is never
	// set on freshly parsed records.
	Removed bool `json:"removed,omitempty"`
}

// Section returns the section with the given category, or nil if the source
// page did not carry one. Absent categories mean "unknown", never "zero".
func (r *DeviceRecord) Section(category string) *SpecSection {
	for i := range r.Specifications {
		if r.Specifications[i].Category == category {
			return &r.Specifications[i]
		}
	}
	return nil
}

// DeviceIDFromURL derives the stable device key from the canonical detail
// page URL. The source encodes the device slug in the final path element
// (e.g. /acme_phone_x-1234.php); the slug without its extension is unique
// and survives host or scheme changes.
func DeviceIDFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}
	base := parsed.Path
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return strings.ToLower(base)
}

// BrandIDFromName canonicalizes a brand display name into its stable key.
func BrandIDFromName(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	return id
}
