// Package harvest drives complete runs: brand discovery, listing
// pagination, detail fetching, and per-brand reconciliation.
package harvest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aluiziolira/go-scrape-specs/config"
	"github.com/aluiziolira/go-scrape-specs/fetch"
	"github.com/aluiziolira/go-scrape-specs/models"
	"github.com/aluiziolira/go-scrape-specs/parser"
)

// brandIndexPage is the catalog's full manufacturer index.
const brandIndexPage = "makers.php3"

// DiscoveryError means the brand index itself could not be retrieved or
// understood. Without it a run has nothing to do.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover brands at %s: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Scanner resolves the brand catalog and walks brand listing pages. All
// page retrieval goes through the shared fetcher, so discovery benefits
// from the cache and obeys the host throttle.
type Scanner struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
}

// NewScanner builds a scanner issuing requests through fetcher.
func NewScanner(cfg *config.Config, fetcher *fetch.Fetcher) *Scanner {
	return &Scanner{cfg: cfg, fetcher: fetcher}
}

// Brands fetches and parses the manufacturer index. A failure here is a
// DiscoveryError; there is no partial result for the index page.
func (s *Scanner) Brands(ctx context.Context) ([]models.Brand, error) {
	target := resolveRef(s.cfg.BaseURL, brandIndexPage)

	task := &models.FetchTask{URL: target, Kind: models.TaskListing}
	body, err := s.fetcher.Do(ctx, task)
	if err != nil {
		return nil, &DiscoveryError{URL: target, Err: err}
	}

	brands, err := parser.BrandIndex(target, body)
	if err != nil {
		return nil, &DiscoveryError{URL: target, Err: err}
	}
	return brands, nil
}

// DeviceListings walks a brand's listing pages and returns every device
// reference found. Pagination stops at the last page or at the configured
// page cap. On error the references collected so far are returned with
// it, but the set must not be treated as complete.
func (s *Scanner) DeviceListings(ctx context.Context, brand models.Brand) ([]models.DeviceRef, error) {
	var refs []models.DeviceRef

	pageURL := brand.ListingURL
	for page := 0; pageURL != "" && page < s.cfg.MaxListingPages; page++ {
		task := &models.FetchTask{URL: pageURL, Kind: models.TaskListing, BrandID: brand.CanonicalID}
		body, err := s.fetcher.Do(ctx, task)
		if err != nil {
			return refs, fmt.Errorf("listing page %s: %w", pageURL, err)
		}

		pageRefs, next, err := parser.DeviceListing(pageURL, body)
		if err != nil {
			return refs, err
		}
		refs = append(refs, pageRefs...)

		if next == pageURL {
			break
		}
		pageURL = next
	}

	return refs, nil
}

func resolveRef(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
