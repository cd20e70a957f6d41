// Package reconcile classifies freshly harvested records against the
// persisted store, turning a full re-scrape into the minimal set of store
// mutations.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-specs/models"
	"github.com/aluiziolira/go-scrape-specs/store"
)

// Engine performs incremental reconciliation for one brand at a time.
// Writes for the same device_id are serialized through a keyed mutex, so
// overlapping passes cannot interleave partial updates.
type Engine struct {
	store store.RecordStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an engine writing through s.
func New(s store.RecordStore) *Engine {
	return &Engine{
		store: s,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) lockDevice(deviceID string) func() {
	e.mu.Lock()
	lock, ok := e.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[deviceID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Reconcile classifies the records of one completed brand pass. observed
// is the set of device IDs seen on the brand's listing pages this pass,
// including units whose detail fetch failed: removal is computed against
// it, never against the (possibly smaller) set of parsed records. The
// caller must only invoke this after all of the brand's detail results
// for the pass are in.
//
// Classification is deterministic and independent of record order: it
// depends only on store state and content fingerprints.
func (e *Engine) Reconcile(ctx context.Context, brandID string, records []*models.DeviceRecord, observed map[string]struct{}) (*models.ReconciliationResult, error) {
	result := &models.ReconciliationResult{BrandID: brandID}

	fresh := dedupe(records)
	if observed == nil {
		observed = make(map[string]struct{}, len(fresh))
		for _, record := range fresh {
			observed[record.DeviceID] = struct{}{}
		}
	}

	for _, record := range fresh {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.reconcileOne(ctx, brandID, record, result); err != nil {
			return result, err
		}
	}

	stored, err := e.store.AllIDsForBrand(ctx, brandID)
	if err != nil {
		return result, fmt.Errorf("list stored devices for %s: %w", brandID, err)
	}

	var removed []string
	for id := range stored {
		if _, ok := observed[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	for _, id := range removed {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		unlock := e.lockDevice(id)
		err := e.store.MarkRemoved(ctx, id)
		unlock()
		if err != nil {
			return result, fmt.Errorf("mark %s removed: %w", id, err)
		}
		result.Removed = append(result.Removed, id)
	}

	return result, nil
}

func (e *Engine) reconcileOne(ctx context.Context, brandID string, record *models.DeviceRecord, result *models.ReconciliationResult) error {
	unlock := e.lockDevice(record.DeviceID)
	defer unlock()

	existing, err := e.store.Lookup(ctx, record.DeviceID)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", record.DeviceID, err)
	}

	now := e.now()
	switch {
	case existing == nil:
		record.BrandID = brandID
		record.FirstSeenAt = now
		record.LastUpdatedAt = now
		if err := e.store.Upsert(ctx, record); err != nil {
			return fmt.Errorf("insert %s: %w", record.DeviceID, err)
		}
		result.Added = append(result.Added, record)

	case existing.ContentFingerprint != record.ContentFingerprint:
		record.BrandID = existing.BrandID
		record.FirstSeenAt = existing.FirstSeenAt
		record.LastUpdatedAt = now
		if err := e.store.Upsert(ctx, record); err != nil {
			return fmt.Errorf("update %s: %w", record.DeviceID, err)
		}
		result.Changed = append(result.Changed, models.ChangedPair{Old: existing, New: record})

	default:
		// Fingerprints match: no content write. This is the optimization
		// that bounds write amplification to actual content drift. A
		// device flagged removed in an earlier pass still needs its flag
		// cleared, or the store keeps dropping it while every pass calls
		// it unchanged.
		if existing.Removed {
			if err := e.store.Restore(ctx, record.DeviceID); err != nil {
				return fmt.Errorf("restore %s: %w", record.DeviceID, err)
			}
		}
		result.Unchanged = append(result.Unchanged, record.DeviceID)
	}
	return nil
}

// dedupe collapses duplicate device IDs and fixes processing order. The
// sort makes the pass deterministic regardless of fetch completion order.
func dedupe(records []*models.DeviceRecord) []*models.DeviceRecord {
	byID := make(map[string]*models.DeviceRecord, len(records))
	for _, record := range records {
		if record == nil || record.DeviceID == "" {
			continue
		}
		current, ok := byID[record.DeviceID]
		if !ok || record.ContentFingerprint < current.ContentFingerprint {
			byID[record.DeviceID] = record
		}
	}

	out := make([]*models.DeviceRecord, 0, len(byID))
	for _, record := range byID {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
