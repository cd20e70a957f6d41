package models

import "time"

// ChangedPair retains the old and new record of a changed device for
// audit logging.
type ChangedPair struct {
	Old *DeviceRecord
	New *DeviceRecord
}

// ReconciliationResult classifies one brand's scan pass against the
// persisted store. It is transient and never persisted.
type ReconciliationResult struct {
	BrandID   string
	Added     []*DeviceRecord
	Changed   []ChangedPair
	Unchanged []string
	Removed   []string
}

// Mutations reports how many store writes the pass produced.
func (r *ReconciliationResult) Mutations() int {
	return len(r.Added) + len(r.Changed) + len(r.Removed)
}

// RunSummary aggregates the outcome of one harvesting run. A run completes
// with a summary even under partial failure; per-unit errors are collected
// here rather than aborting the run.
type RunSummary struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	BrandsScanned   int
	BrandsProcessed int
	Added           int
	Changed         int
	Unchanged       int
	Removed         int
	Failed          int
	Errors          []string
}
