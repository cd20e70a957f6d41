// Package report writes run artifacts: a CSV and JSONL change log of
// every mutation a run produced, plus a JSON run summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-scrape-specs/models"
)

// Change labels the kind of mutation a change-log entry records.
type Change string

const (
	ChangeAdded   Change = "added"
	ChangeChanged Change = "changed"
	ChangeRemoved Change = "removed"
)

// Entry is one row of the change log.
type Entry struct {
	RunID       string    `json:"run_id"`
	BrandID     string    `json:"brand_id"`
	DeviceID    string    `json:"device_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Change      Change    `json:"change"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	At          time.Time `json:"at"`
}

// OutputWriter is the sink the reporter writes change-log entries to.
type OutputWriter interface {
	Write(entries []Entry) error
	Close() error
	Validate() error
}

// Reporter flattens reconciliation results into change-log entries and
// writes the end-of-run summary.
type Reporter struct {
	runID  string
	dir    string
	writer OutputWriter
	now    func() time.Time
}

// NewReporter creates run artifacts under dir, named after runID.
func NewReporter(dir, runID string) (*Reporter, error) {
	writer, err := NewDualWriter(
		filepath.Join(dir, runID+"-changes.csv"),
		filepath.Join(dir, runID+"-changes.jsonl"),
	)
	if err != nil {
		return nil, err
	}
	return &Reporter{
		runID:  runID,
		dir:    dir,
		writer: writer,
		now:    time.Now,
	}, nil
}

// SetClock overrides the entry timestamp source for tests.
func (r *Reporter) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Record appends one brand's reconciliation outcome to the change log.
// Unchanged devices produce no rows.
func (r *Reporter) Record(result *models.ReconciliationResult) error {
	if result == nil || result.Mutations() == 0 {
		return nil
	}

	at := r.now()
	entries := make([]Entry, 0, result.Mutations())
	for _, record := range result.Added {
		entries = append(entries, Entry{
			RunID:       r.runID,
			BrandID:     result.BrandID,
			DeviceID:    record.DeviceID,
			DisplayName: record.DisplayName,
			Change:      ChangeAdded,
			Fingerprint: record.ContentFingerprint,
			At:          at,
		})
	}
	for _, pair := range result.Changed {
		entries = append(entries, Entry{
			RunID:       r.runID,
			BrandID:     result.BrandID,
			DeviceID:    pair.New.DeviceID,
			DisplayName: pair.New.DisplayName,
			Change:      ChangeChanged,
			Fingerprint: pair.New.ContentFingerprint,
			At:          at,
		})
	}
	for _, id := range result.Removed {
		entries = append(entries, Entry{
			RunID:    r.runID,
			BrandID:  result.BrandID,
			DeviceID: id,
			Change:   ChangeRemoved,
			At:       at,
		})
	}

	if err := r.writer.Write(entries); err != nil {
		return fmt.Errorf("write change log for %s: %w", result.BrandID, err)
	}
	return nil
}

// Finish writes the run summary and closes the change log.
func (r *Reporter) Finish(summary *models.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	summaryPath := filepath.Join(r.dir, r.runID+"-summary.json")
	if err := os.WriteFile(summaryPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return r.writer.Close()
}
