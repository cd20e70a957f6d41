package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-specs/config"
	"github.com/aluiziolira/go-scrape-specs/fetch"
	"github.com/aluiziolira/go-scrape-specs/models"
	"github.com/aluiziolira/go-scrape-specs/parser"
	"github.com/aluiziolira/go-scrape-specs/progress"
	"github.com/aluiziolira/go-scrape-specs/reconcile"
	"github.com/aluiziolira/go-scrape-specs/report"
	"github.com/aluiziolira/go-scrape-specs/store"
)

// RunState labels where a run is in its lifecycle.
type RunState string

const (
	RunRunning    RunState = "running"
	RunCancelling RunState = "cancelling"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
)

// ErrUnknownRun is returned for run IDs the runner never issued.
var ErrUnknownRun = fmt.Errorf("unknown run id")

// RunStatus is a point-in-time snapshot of one run.
type RunStatus struct {
	RunID       string
	State       RunState
	BrandsTotal int
	BrandsDone  int
	Summary     *models.RunSummary
}

// Storage combines the device and brand persistence the runner needs.
// *store.SQLite satisfies it.
type Storage interface {
	store.RecordStore
	store.BrandStore
}

// Runner owns run lifecycles. Runs execute asynchronously; callers poll
// Status or block on Wait.
type Runner struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
	storage Storage
	engine  *reconcile.Engine
	emitter *progress.Emitter
	now     func() time.Time

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       RunState
	brandsTotal int
	brandsDone  int
	summary     *models.RunSummary
}

// NewRunner wires a runner over the shared fetcher and store.
func NewRunner(cfg *config.Config, fetcher *fetch.Fetcher, storage Storage, emitter *progress.Emitter) *Runner {
	return &Runner{
		cfg:     cfg,
		fetcher: fetcher,
		storage: storage,
		engine:  reconcile.New(storage),
		emitter: emitter,
		now:     time.Now,
		runs:    make(map[string]*run),
	}
}

// Start launches a run and returns its ID immediately. ctx bounds the
// whole run; Cancel stops it early.
func (r *Runner) Start(ctx context.Context) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)

	rn := &run{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  RunRunning,
		summary: &models.RunSummary{
			StartedAt: r.now(),
		},
	}
	rn.summary.RunID = rn.id

	r.mu.Lock()
	r.runs[rn.id] = rn
	r.mu.Unlock()

	go r.execute(runCtx, rn)
	return rn.id, nil
}

// Cancel requests a graceful stop. In-flight work drains; brands already
// reconciled keep their results and the run still produces a summary.
func (r *Runner) Cancel(runID string) error {
	rn, err := r.lookup(runID)
	if err != nil {
		return err
	}

	rn.mu.Lock()
	if rn.state == RunRunning {
		rn.state = RunCancelling
	}
	rn.mu.Unlock()

	rn.cancel()
	return nil
}

// Status reports the run's current state and progress.
func (r *Runner) Status(runID string) (RunStatus, error) {
	rn, err := r.lookup(runID)
	if err != nil {
		return RunStatus{}, err
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()

	summary := *rn.summary
	return RunStatus{
		RunID:       rn.id,
		State:       rn.state,
		BrandsTotal: rn.brandsTotal,
		BrandsDone:  rn.brandsDone,
		Summary:     &summary,
	}, nil
}

// Wait blocks until the run finishes and returns its summary.
func (r *Runner) Wait(runID string) (*models.RunSummary, error) {
	rn, err := r.lookup(runID)
	if err != nil {
		return nil, err
	}
	<-rn.done

	rn.mu.Lock()
	defer rn.mu.Unlock()
	summary := *rn.summary
	return &summary, nil
}

func (r *Runner) lookup(runID string) (*run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return rn, nil
}

func (r *Runner) execute(ctx context.Context, rn *run) {
	defer rn.cancel()
	defer close(rn.done)

	failed := func(err error) {
		slog.Error("run failed", slog.String("run_id", rn.id), slog.Any("error", err))
		rn.mu.Lock()
		rn.summary.Errors = append(rn.summary.Errors, err.Error())
		rn.summary.FinishedAt = r.now()
		rn.state = RunFailed
		rn.mu.Unlock()
	}

	reporter, err := report.NewReporter(r.cfg.ReportDir, rn.id)
	if err != nil {
		failed(fmt.Errorf("open run report: %w", err))
		return
	}

	scanner := NewScanner(r.cfg, r.fetcher)

	r.emitter.Publish(progress.Event{Phase: progress.PhaseScanning, Message: "discovering brands"})
	brands, err := scanner.Brands(ctx)
	if err != nil {
		failed(err)
		rn.mu.Lock()
		summary := *rn.summary
		rn.mu.Unlock()
		if ferr := reporter.Finish(&summary); ferr != nil {
			slog.Error("finish run report", slog.String("run_id", rn.id), slog.Any("error", ferr))
		}
		return
	}

	selected := brands[:0:0]
	for _, brand := range brands {
		if r.cfg.AllowsBrand(brand.CanonicalID) {
			selected = append(selected, brand)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].CanonicalID < selected[j].CanonicalID })

	rn.mu.Lock()
	rn.summary.BrandsScanned = len(brands)
	rn.brandsTotal = len(selected)
	rn.mu.Unlock()

	r.emitter.Publish(progress.Event{
		Phase:     progress.PhaseScanning,
		Completed: len(brands),
		Total:     len(brands),
		Message:   "brand index resolved",
	})

	r.retireVanishedBrands(ctx, brands)

	for _, brand := range selected {
		if ctx.Err() != nil {
			break
		}
		if err := r.harvestBrand(ctx, rn, reporter, scanner, brand); err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("brand pass failed",
				slog.String("run_id", rn.id),
				slog.String("brand", brand.CanonicalID),
				slog.Any("error", err),
			)
			rn.mu.Lock()
			rn.summary.Failed++
			rn.summary.Errors = append(rn.summary.Errors, fmt.Sprintf("brand %s: %v", brand.CanonicalID, err))
			rn.mu.Unlock()
			continue
		}
		rn.mu.Lock()
		rn.brandsDone++
		rn.summary.BrandsProcessed++
		rn.mu.Unlock()
	}

	rn.mu.Lock()
	rn.summary.FinishedAt = r.now()
	rn.state = RunCompleted
	summary := *rn.summary
	rn.mu.Unlock()

	if err := reporter.Finish(&summary); err != nil {
		slog.Error("finish run report", slog.String("run_id", rn.id), slog.Any("error", err))
	}

	slog.Info("run finished",
		slog.String("run_id", rn.id),
		slog.Int("brands_processed", summary.BrandsProcessed),
		slog.Int("added", summary.Added),
		slog.Int("changed", summary.Changed),
		slog.Int("unchanged", summary.Unchanged),
		slog.Int("removed", summary.Removed),
		slog.Int("failed", summary.Failed),
	)
}

// retireVanishedBrands flags stored brands missing from the fresh index.
// Skipped when an allowlist narrows the run, since absence then proves
// nothing.
func (r *Runner) retireVanishedBrands(ctx context.Context, discovered []models.Brand) {
	if len(r.cfg.BrandAllowlist) > 0 {
		return
	}

	known, err := r.storage.Brands(ctx)
	if err != nil {
		slog.Warn("list stored brands", slog.Any("error", err))
		return
	}

	fresh := make(map[string]struct{}, len(discovered))
	for _, brand := range discovered {
		fresh[brand.CanonicalID] = struct{}{}
	}

	for _, brand := range known {
		if !brand.Active {
			continue
		}
		if _, ok := fresh[brand.CanonicalID]; ok {
			continue
		}
		if err := r.storage.MarkBrandInactive(ctx, brand.CanonicalID); err != nil {
			slog.Warn("mark brand inactive",
				slog.String("brand", brand.CanonicalID),
				slog.Any("error", err),
			)
		}
	}
}

// harvestBrand runs one brand end to end: listings, detail fetches, then
// reconciliation once every detail outcome for the brand is in. A listing
// failure aborts the brand before reconciliation, since an incomplete
// observed set would misclassify devices as removed.
func (r *Runner) harvestBrand(ctx context.Context, rn *run, reporter *report.Reporter, scanner *Scanner, brand models.Brand) error {
	refs, err := scanner.DeviceListings(ctx, brand)
	if err != nil {
		return err
	}

	observed := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		observed[models.DeviceIDFromURL(ref.URL)] = struct{}{}
	}

	var (
		resultMu sync.Mutex
		records  []*models.DeviceRecord
		fetched  int
		parsed   int
		errored  int
	)

	emit := func(phase progress.Phase, completed int) {
		resultMu.Lock()
		errors := errored
		resultMu.Unlock()
		r.emitter.Publish(progress.Event{
			Phase:     phase,
			Brand:     brand.CanonicalID,
			Completed: completed,
			Total:     len(refs),
			Errors:    errors,
		})
	}
	emitFetch := func() {
		resultMu.Lock()
		completed := fetched
		resultMu.Unlock()
		emit(progress.PhaseFetching, completed)
	}
	emitParse := func() {
		resultMu.Lock()
		completed := parsed
		resultMu.Unlock()
		emit(progress.PhaseParsing, completed)
	}
	emitFetch()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.MaxConcurrentRequests)
	for _, ref := range refs {
		ref := ref
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			task := &models.FetchTask{URL: ref.URL, Kind: models.TaskDetail, BrandID: brand.CanonicalID}
			body, err := r.fetcher.Do(groupCtx, task)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				// A failed detail fetch costs this device's update, not
				// the brand pass. The listing already observed it.
				slog.Warn("detail fetch failed",
					slog.String("brand", brand.CanonicalID),
					slog.String("url", ref.URL),
					slog.Any("error", err),
				)
				resultMu.Lock()
				errored++
				resultMu.Unlock()
				r.noteError(rn, fmt.Sprintf("fetch %s: %v", ref.URL, err))
				emitFetch()
				return nil
			}

			resultMu.Lock()
			fetched++
			resultMu.Unlock()
			emitFetch()

			record, err := parser.DevicePage(ref.URL, body)
			if err != nil {
				slog.Warn("detail parse failed",
					slog.String("brand", brand.CanonicalID),
					slog.String("url", ref.URL),
					slog.Any("error", err),
				)
				resultMu.Lock()
				errored++
				resultMu.Unlock()
				r.noteError(rn, err.Error())
				emitParse()
				return nil
			}
			record.DeviceID = models.DeviceIDFromURL(ref.URL)
			record.BrandID = brand.CanonicalID
			if record.DisplayName == "" {
				record.DisplayName = ref.Name
			}
			if err := parser.ValidateRecord(record); err != nil {
				resultMu.Lock()
				errored++
				resultMu.Unlock()
				r.noteError(rn, err.Error())
				emitParse()
				return nil
			}

			resultMu.Lock()
			records = append(records, record)
			parsed++
			resultMu.Unlock()
			emitParse()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.emitter.Publish(progress.Event{
		Phase:     progress.PhaseReconciling,
		Brand:     brand.CanonicalID,
		Completed: len(records),
		Total:     len(refs),
	})

	result, err := r.engine.Reconcile(ctx, brand.CanonicalID, records, observed)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", brand.CanonicalID, err)
	}
	if err := reporter.Record(result); err != nil {
		return err
	}

	rn.mu.Lock()
	rn.summary.Added += len(result.Added)
	rn.summary.Changed += len(result.Changed)
	rn.summary.Unchanged += len(result.Unchanged)
	rn.summary.Removed += len(result.Removed)
	rn.mu.Unlock()

	brand.LastScannedAt = r.now()
	brand.Active = true
	if err := r.storage.UpsertBrand(ctx, &brand); err != nil {
		return fmt.Errorf("record brand scan: %w", err)
	}

	slog.Info("brand reconciled",
		slog.String("brand", brand.CanonicalID),
		slog.Int("added", len(result.Added)),
		slog.Int("changed", len(result.Changed)),
		slog.Int("unchanged", len(result.Unchanged)),
		slog.Int("removed", len(result.Removed)),
	)
	return nil
}

func (r *Runner) noteError(rn *run, message string) {
	rn.mu.Lock()
	rn.summary.Failed++
	rn.summary.Errors = append(rn.summary.Errors, message)
	rn.mu.Unlock()
}
