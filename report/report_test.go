package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-specs/models"
)

func changedRecord(deviceID string) *models.DeviceRecord {
	r := &models.DeviceRecord{
		DeviceID:    deviceID,
		DisplayName: "Device " + deviceID,
		Specifications: []models.SpecSection{
			{Category: "Battery", Fields: []models.SpecField{{Name: "Type", Value: "5000 mAh"}}},
		},
	}
	r.ContentFingerprint = models.Fingerprint(r.Specifications)
	return r
}

func TestReporterWritesChangeLog(t *testing.T) {
	dir := t.TempDir()
	reporter, err := NewReporter(dir, "run-1")
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	reporter.SetClock(func() time.Time { return at })

	result := &models.ReconciliationResult{
		BrandID:   "acme",
		Added:     []*models.DeviceRecord{changedRecord("acme_one-1")},
		Changed:   []models.ChangedPair{{Old: changedRecord("acme_two-2"), New: changedRecord("acme_two-2")}},
		Unchanged: []string{"acme_three-3"},
		Removed:   []string{"acme_four-4"},
	}
	if err := reporter.Record(result); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := reporter.Finish(&models.RunSummary{RunID: "run-1", Added: 1, Changed: 1, Removed: 1}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	csvFile, err := os.Open(filepath.Join(dir, "run-1-changes.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer csvFile.Close()
	rows, err := csv.NewReader(csvFile).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// Header plus one row per mutation. Unchanged devices produce none.
	if len(rows) != 4 {
		t.Fatalf("csv rows = %d, want 4", len(rows))
	}
	if rows[0][0] != "run_id" {
		t.Fatalf("header = %v", rows[0])
	}
	changes := map[string]string{}
	for _, row := range rows[1:] {
		changes[row[2]] = row[4]
	}
	if changes["acme_one-1"] != "added" || changes["acme_two-2"] != "changed" || changes["acme_four-4"] != "removed" {
		t.Fatalf("changes = %v", changes)
	}
	if _, ok := changes["acme_three-3"]; ok {
		t.Fatalf("unchanged device should not appear in the change log")
	}

	jsonlFile, err := os.Open(filepath.Join(dir, "run-1-changes.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer jsonlFile.Close()
	scanner := bufio.NewScanner(jsonlFile)
	var lines int
	for scanner.Scan() {
		lines++
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("decode jsonl line %d: %v", lines, err)
		}
		if entry.RunID != "run-1" || entry.BrandID != "acme" {
			t.Fatalf("entry = %+v", entry)
		}
		if !entry.At.Equal(at) {
			t.Fatalf("entry timestamp = %v, want %v", entry.At, at)
		}
	}
	if lines != 3 {
		t.Fatalf("jsonl lines = %d, want 3", lines)
	}
}

func TestReporterSummaryFile(t *testing.T) {
	dir := t.TempDir()
	reporter, err := NewReporter(dir, "run-9")
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}

	summary := &models.RunSummary{
		RunID:           "run-9",
		BrandsScanned:   3,
		BrandsProcessed: 2,
		Added:           5,
		Failed:          1,
		Errors:          []string{"fetch http://catalog.test/x: boom"},
	}
	if err := reporter.Finish(summary); err != nil {
		t.Fatalf("finish: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run-9-summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var decoded models.RunSummary
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if decoded.RunID != "run-9" || decoded.Added != 5 || decoded.Failed != 1 {
		t.Fatalf("summary = %+v", decoded)
	}
	if len(decoded.Errors) != 1 || !strings.Contains(decoded.Errors[0], "boom") {
		t.Fatalf("errors = %v", decoded.Errors)
	}
}

func TestReporterSkipsEmptyResults(t *testing.T) {
	dir := t.TempDir()
	reporter, err := NewReporter(dir, "run-2")
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}

	if err := reporter.Record(&models.ReconciliationResult{BrandID: "acme", Unchanged: []string{"a"}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := reporter.Record(nil); err != nil {
		t.Fatalf("record nil: %v", err)
	}
	if err := reporter.Finish(&models.RunSummary{RunID: "run-2"}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	csvFile, err := os.Open(filepath.Join(dir, "run-2-changes.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer csvFile.Close()
	rows, err := csv.NewReader(csvFile).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("csv rows = %d, want header only", len(rows))
	}
}

func TestDualWriterValidate(t *testing.T) {
	dir := t.TempDir()
	dw, err := NewDualWriter(filepath.Join(dir, "out.csv"), filepath.Join(dir, "out.jsonl"))
	if err != nil {
		t.Fatalf("new dual writer: %v", err)
	}
	defer dw.Close()

	// The JSONL side has no data yet.
	if err := dw.Validate(); err == nil {
		t.Fatalf("validate should fail with an empty jsonl file")
	}

	if err := dw.Write([]Entry{{RunID: "r", BrandID: "b", DeviceID: "d", Change: ChangeAdded, At: time.Now()}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dw.Validate(); err != nil {
		t.Fatalf("validate after write: %v", err)
	}
}
