// Package catalog mirrors the third-party property listing into the local
// catalog. A run has two phases: a paginated scan that upserts one stub row
// per listing, then a detail fetch for rows that are incomplete or stale.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/larcrm/internal/config"
	"github.com/zulandar/larcrm/internal/geocode"
	"github.com/zulandar/larcrm/internal/listing"
	"github.com/zulandar/larcrm/internal/models"
	"github.com/zulandar/larcrm/internal/notify"
	"github.com/zulandar/larcrm/internal/property"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// LeaseName is the SyncLease row guarding catalog runs.
const LeaseName = "catalog-sync"

// Source is the listing API.
type Source interface {
	List(ctx context.Context, page int) (*listing.Page, error)
	Detail(ctx context.Context, code string) (*listing.Detail, error)
}

// Locator resolves addresses to coordinates.
type Locator interface {
	Locate(ctx context.Context, a geocode.Address) (*geocode.Result, error)
}

// runScopedLocator is a Locator that caches and counts lookups; the cache
// and counts are cleared at the start of every run.
type runScopedLocator interface {
	Locator
	Reset()
	Stats() map[string]int
}

// Describer rewrites a plain description as HTML.
type Describer interface {
	FormatDescription(ctx context.Context, text string) (string, error)
}

// RunOpts controls a single run.
type RunOpts struct {
	// Force refreshes every active property regardless of staleness.
	Force bool
}

// Worker runs catalog syncs. Run and Start share one in-process guard; the
// host file lock and the database lease guard against other processes.
type Worker struct {
	db        *gorm.DB
	source    Source
	locator   Locator
	describer Describer
	cfg       config.SyncConfig
	maxPages  int
	holder    string
	notifier  notify.Notifier

	running atomic.Bool
}

// NewWorker returns a Worker. describer may be nil to always use the
// fallback HTML builder.
func NewWorker(db *gorm.DB, source Source, locator Locator, describer Describer, cfg config.SyncConfig, maxPages int) *Worker {
	if maxPages <= 0 {
		maxPages = 999
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Worker{
		db:        db,
		source:    source,
		locator:   locator,
		describer: describer,
		cfg:       cfg,
		maxPages:  maxPages,
		holder:    holderID(),
	}
}

// SetNotifier makes the worker report failed runs and runs with failed
// properties to n.
func (w *Worker) SetNotifier(n notify.Notifier) { w.notifier = n }

// Running reports whether a run is in progress in this process.
func (w *Worker) Running() bool { return w.running.Load() }

// Run performs a sync and returns its summary row.
func (w *Worker) Run(ctx context.Context, opts RunOpts) (*models.SyncRun, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrLocked
	}
	defer w.running.Store(false)
	return w.run(ctx, opts)
}

// Start launches a run in the background. It returns ErrLocked when a run
// is already in progress in this process.
func (w *Worker) Start(ctx context.Context, opts RunOpts) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrLocked
	}
	go func() {
		defer w.running.Store(false)
		if _, err := w.run(ctx, opts); err != nil {
			log.Printf("catalog: background sync: %v", err)
		}
	}()
	return nil
}

func (w *Worker) run(ctx context.Context, opts RunOpts) (*models.SyncRun, error) {
	fl, err := lockHost(w.cfg.LockDir)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()

	if _, err := AcquireLease(w.db, LeaseName, w.holder, w.cfg.LeaseTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := ReleaseLease(w.db, LeaseName, w.holder); err != nil {
			log.Printf("catalog: %v", err)
		}
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx)

	run := &models.SyncRun{Status: "running", Forced: opts.Force, StartedAt: time.Now()}
	if err := w.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("catalog: create run: %w", err)
	}
	log.Printf("catalog: sync %d started (force=%v)", run.ID, opts.Force)
	scoped, _ := w.locator.(runScopedLocator)
	if scoped != nil {
		scoped.Reset()
	}

	runErr := w.phaseList(ctx, run)
	if runErr == nil {
		runErr = w.phaseDetail(ctx, run, opts.Force)
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = "completed"
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	}
	if err := w.db.Save(run).Error; err != nil {
		log.Printf("catalog: save run %d: %v", run.ID, err)
	}
	log.Printf("catalog: sync %d %s: listed=%d updated=%d failed=%d geocoded=%d/%d in %s",
		run.ID, run.Status, run.Listed, run.Updated, run.Failed,
		run.GeocodeOK, run.GeocodeOK+run.GeocodeFailed, finished.Sub(run.StartedAt).Round(time.Second))
	if scoped != nil {
		if counts := scoped.Stats(); len(counts) > 0 {
			log.Printf("catalog: sync %d geocode methods: %s", run.ID, formatMethodCounts(counts))
		}
	}
	w.report(ctx, run)
	if runErr != nil {
		return run, fmt.Errorf("catalog: sync %d: %w", run.ID, runErr)
	}
	return run, nil
}

// formatMethodCounts renders counts as "method=n" pairs sorted by method.
func formatMethodCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func (w *Worker) report(ctx context.Context, run *models.SyncRun) {
	if w.notifier == nil || (run.Status == "completed" && run.Failed == 0) {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.notifier.Notify(nctx, notify.FormatSyncRun(run)); err != nil {
		log.Printf("catalog: notify sync %d: %v", run.ID, err)
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	interval := w.cfg.LeaseTimeout / 3
	if interval <= 0 {
		interval = DefaultLeaseTimeout / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := HeartbeatLease(w.db, LeaseName, w.holder); err != nil {
				log.Printf("catalog: %v", err)
			}
		}
	}
}

// phaseList walks every listing page and upserts stubs. A failure on the
// first page fails the run; later failures end the scan early.
func (w *Worker) phaseList(ctx context.Context, run *models.SyncRun) error {
	totalPages := 1
	for page := 1; page <= totalPages; page++ {
		if page > w.maxPages {
			log.Printf("catalog: page limit %d reached", w.maxPages)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := w.source.List(ctx, page)
		if err != nil {
			if page == 1 {
				return err
			}
			log.Printf("catalog: stopping scan at page %d: %v", page, err)
			break
		}
		if len(p.Items) == 0 {
			break
		}
		totalPages = p.TotalPages

		stubs := make([]property.Stub, 0, len(p.Items))
		for _, s := range p.Items {
			stubs = append(stubs, stubFromSummary(s))
		}
		n, err := property.UpsertStubs(w.db, stubs)
		if err != nil {
			return err
		}
		run.Listed += n
		log.Printf("catalog: page %d/%d: %d listings", page, totalPages, n)
	}
	return nil
}

// phaseDetail refreshes properties that need it with bounded concurrency.
// Per-property failures are counted and do not stop the run.
func (w *Worker) phaseDetail(ctx context.Context, run *models.SyncRun, force bool) error {
	stale := w.cfg.StaleAfter
	if stale <= 0 {
		stale = 4 * time.Hour
	}
	props, err := property.NeedingDetail(w.db, time.Now().Add(-stale), force)
	if err != nil {
		return err
	}
	log.Printf("catalog: %d properties need detail", len(props))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Workers)
	for _, p := range props {
		p := p
		g.Go(func() error {
			geocoded, err := w.refresh(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				run.Failed++
				log.Printf("catalog: property %s: %v", p.Code, err)
				return nil
			case geocoded:
				run.GeocodeOK++
			default:
				run.GeocodeFailed++
			}
			run.Updated++
			return nil
		})
	}
	return g.Wait()
}

// refresh fetches, maps and stores one property. It reports whether
// coordinates were resolved.
func (w *Worker) refresh(ctx context.Context, existing models.Property) (bool, error) {
	d, err := w.source.Detail(ctx, existing.Code)
	if err != nil {
		return false, err
	}
	p, images := mapDetail(d, time.Now())
	p.Active = existing.Active

	geocoded := false
	if w.locator != nil {
		res, err := w.locator.Locate(ctx, addressOf(d))
		switch {
		case err == nil:
			p.Latitude, p.Longitude, p.GeocodeMethod = &res.Lat, &res.Lng, res.Method
			geocoded = true
		case errors.Is(err, geocode.ErrNotFound):
		default:
			if ctx.Err() != nil {
				return false, err
			}
			log.Printf("catalog: geocode %s: %v", existing.Code, err)
		}
	}

	p.Description = w.describe(ctx, existing.Code, d.Description.String())
	if err := property.SaveDetail(w.db, existing.ID, p, images); err != nil {
		return geocoded, err
	}
	return geocoded, nil
}

// describe produces the stored HTML description. The rewrite is optional;
// any failure falls back to the local builder.
func (w *Worker) describe(ctx context.Context, code, raw string) *string {
	text := NormalizeDescription(raw)
	if text == "" {
		return nil
	}
	if w.describer != nil {
		out, err := w.describer.FormatDescription(ctx, text)
		if err == nil && out != "" {
			return &out
		}
		if err != nil {
			log.Printf("catalog: rewrite description %s: %v", code, err)
		}
	}
	out := FallbackHTML(text)
	return &out
}
