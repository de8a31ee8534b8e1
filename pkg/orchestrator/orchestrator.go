// Package orchestrator drives one scrape run: it opens the run record and the
// browser, discovers categories, crawls them under a scheduling policy and
// persists each category as soon as it is crawled.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"catalog-scraper/pkg/browser"
	"catalog-scraper/pkg/logger"
	"catalog-scraper/pkg/models"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateDiscovering  State = "discovering"
	StateCrawling     State = "crawling"
	StatePersisting   State = "persisting"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// RunStore is the part of the record store a run needs.
type RunStore interface {
	StartRun(ctx context.Context) (string, error)
	FinishRun(ctx context.Context, runID string, sum models.RunSummary) error
	Upsert(ctx context.Context, p models.ProductRecord) (models.UpsertResult, error)
}

type Discoverer interface {
	Discover(ctx context.Context, page browser.Page) ([]models.CategoryRef, error)
}

type Crawler interface {
	Crawl(ctx context.Context, page browser.Page, categoryURL, categoryName string) ([]models.ProductRecord, error)
}

// Launcher starts the browser backend for one run.
type Launcher func(ctx context.Context) (browser.Provider, error)

type Orchestrator struct {
	Store      RunStore
	Launch     Launcher
	Discoverer Discoverer
	Crawler    Crawler
	Policy     Policy
	// CategoryLimit caps the discovered categories; zero crawls all of them.
	CategoryLimit int
	// ScreenshotDir receives a capture of every failed category page when set.
	ScreenshotDir string
	// OnState observes every state transition.
	OnState func(State)
	Now     func() time.Time

	mu    sync.Mutex
	state State
}

func New(store RunStore, launch Launcher, d Discoverer, c Crawler, policy Policy) *Orchestrator {
	return &Orchestrator{
		Store:      store,
		Launch:     launch,
		Discoverer: d,
		Crawler:    c,
		Policy:     policy,
		Now:        time.Now,
		state:      StateIdle,
	}
}

// State returns the current state of the run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == "" {
		return StateIdle
	}
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	hook := o.OnState
	o.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// tally accumulates the counters and non-fatal errors of a run. Category
// tasks may update it concurrently.
type tally struct {
	mu         sync.Mutex
	found      int
	created    int
	updated    int
	errors     []models.RunError
	categories []string
}

func (t *tally) addError(e models.RunError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, e)
}

// count records one saved product.
func (t *tally) count(res models.UpsertResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.found++
	switch res {
	case models.Created:
		t.created++
	case models.Updated:
		t.updated++
	}
}

// Run executes one full scrape. The returned run reflects what was recorded
// in the store; the error is non-nil only for run-level failures.
func (o *Orchestrator) Run(ctx context.Context) (run models.ScrapeRun, err error) {
	log := logger.Component("orchestrator")
	o.setState(StateInitializing)

	started := o.now()
	runID, err := o.Store.StartRun(ctx)
	if err != nil {
		o.setState(StateFailed)
		return models.ScrapeRun{Status: models.RunFailed, StartedAt: started}, fmt.Errorf("open run record: %w", err)
	}
	log = log.WithField("run_id", runID)
	log.Info("Starting scrape run")

	t := &tally{}
	defer func() {
		run = o.finish(ctx, log, runID, started, t, err)
	}()

	provider, err := o.Launch(ctx)
	if err != nil {
		return run, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := provider.Close(); cerr != nil {
			log.WithError(cerr).Warn("Closing browser failed")
		}
	}()

	o.setState(StateDiscovering)
	categories, err := o.discover(ctx, provider)
	if err != nil {
		// A run without categories still closes as completed with zero counts.
		log.WithError(err).Error("Category discovery failed")
		t.addError(models.RunError{Type: models.ErrTypeDiscovery, Message: err.Error()})
		err = nil
	}
	if len(categories) == 0 {
		log.Warn("No categories found")
		return run, nil
	}

	if o.CategoryLimit > 0 && len(categories) > o.CategoryLimit {
		log.WithFields(logrus.Fields{"found": len(categories), "limit": o.CategoryLimit}).Info("Limiting categories")
		categories = categories[:o.CategoryLimit]
	}
	for _, c := range categories {
		t.categories = append(t.categories, c.Name)
	}

	policy := o.Policy
	if policy == nil {
		policy = Sequential(0)
	}
	err = policy.Each(ctx, len(categories), func(ctx context.Context, i int) {
		o.crawlCategory(ctx, provider, runID, i, len(categories), categories[i], t)
	})
	if err != nil {
		return run, fmt.Errorf("crawl categories: %w", err)
	}
	return run, nil
}

func (o *Orchestrator) discover(ctx context.Context, provider browser.Provider) ([]models.CategoryRef, error) {
	page, err := provider.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	return o.Discoverer.Discover(ctx, page)
}

// crawlCategory crawls and persists one category. Every failure is recorded
// on the run and never escapes the category.
func (o *Orchestrator) crawlCategory(ctx context.Context, provider browser.Provider, runID string, i, total int, cat models.CategoryRef, t *tally) {
	log := logger.Component("orchestrator").WithFields(logrus.Fields{
		"run_id":   runID,
		"category": cat.Name,
		"progress": fmt.Sprintf("%d/%d", i+1, total),
	})
	o.setState(StateCrawling)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Category crawl panicked")
			t.addError(models.RunError{
				Type:     models.ErrTypeCategoryScrape,
				Category: cat.Name,
				URL:      cat.URL,
				Message:  fmt.Sprint(r),
			})
		}
	}()

	page, err := provider.NewPage(ctx)
	if err != nil {
		log.WithError(err).Error("Opening page failed")
		t.addError(models.RunError{Type: models.ErrTypeCategoryScrape, Category: cat.Name, URL: cat.URL, Message: err.Error()})
		return
	}
	defer page.Close()

	products, err := o.Crawler.Crawl(ctx, page, cat.URL, cat.Name)
	if err != nil {
		log.WithError(err).WithField("partial", len(products)).Error("Category crawl failed")
		t.addError(models.RunError{Type: models.ErrTypeCategoryScrape, Category: cat.Name, URL: cat.URL, Message: err.Error()})
		o.captureFailure(ctx, page, runID, cat.Name)
	}

	o.setState(StatePersisting)
	saved := 0
	for _, p := range products {
		res, err := o.Store.Upsert(ctx, p)
		if err != nil {
			logger.Dedup("Failed to save products in %s", cat.Name)
			log.WithError(err).WithField("product", p.ID).Debug("Saving product failed")
			t.addError(models.RunError{
				Type:     models.ErrTypeSaveProduct,
				Category: cat.Name,
				Product:  p.ID,
				Message:  err.Error(),
			})
			continue
		}
		t.count(res)
		saved++
	}
	log.WithFields(logrus.Fields{"products": len(products), "saved": saved}).Info("Category done")
}

// captureFailure stores a screenshot of a failed category page for debugging.
func (o *Orchestrator) captureFailure(ctx context.Context, page browser.Page, runID, category string) {
	if o.ScreenshotDir == "" {
		return
	}
	log := logger.Component("orchestrator").WithField("category", category)

	data, err := page.Screenshot(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			log.Debug("Backend cannot take screenshots")
		} else {
			log.WithError(err).Warn("Failure screenshot failed")
		}
		return
	}

	if err := os.MkdirAll(o.ScreenshotDir, 0o755); err != nil {
		log.WithError(err).Warn("Creating screenshot dir failed")
		return
	}
	path := filepath.Join(o.ScreenshotDir, fmt.Sprintf("%s_%s.png", runID, fileSafe(category)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.WithError(err).Warn("Writing screenshot failed")
		return
	}
	log.WithField("path", path).Info("Saved failure screenshot")
}

func fileSafe(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}

// finish closes the run record exactly once, as failed when runErr is set.
func (o *Orchestrator) finish(ctx context.Context, log *logrus.Entry, runID string, started time.Time, t *tally, runErr error) models.ScrapeRun {
	o.setState(StateFinalizing)

	t.mu.Lock()
	sum := models.RunSummary{
		CompletedAt:     o.now(),
		ProductsFound:   t.found,
		ProductsNew:     t.created,
		ProductsUpdated: t.updated,
		Status:          models.RunCompleted,
		Errors:          append([]models.RunError(nil), t.errors...),
		Categories:      append([]string(nil), t.categories...),
	}
	t.mu.Unlock()

	if runErr != nil {
		sum.Status = models.RunFailed
		sum.Errors = append(sum.Errors, models.RunError{Type: models.ErrTypeFatal, Message: runErr.Error()})
	}

	// The record is closed even when the run was cancelled.
	if err := o.Store.FinishRun(context.WithoutCancel(ctx), runID, sum); err != nil {
		log.WithError(err).Error("Closing run record failed")
	}
	logger.Flush()

	completed := sum.CompletedAt
	run := models.ScrapeRun{
		ID:              runID,
		StartedAt:       started,
		CompletedAt:     &completed,
		ProductsFound:   sum.ProductsFound,
		ProductsNew:     sum.ProductsNew,
		ProductsUpdated: sum.ProductsUpdated,
		Status:          sum.Status,
		Errors:          sum.Errors,
		Categories:      sum.Categories,
	}

	entry := log.WithFields(logrus.Fields{
		"found":    run.ProductsFound,
		"new":      run.ProductsNew,
		"updated":  run.ProductsUpdated,
		"errors":   len(run.Errors),
		"duration": run.Duration().Round(time.Second),
	})
	if run.Status == models.RunFailed {
		o.setState(StateFailed)
		entry.WithError(runErr).Error("Scrape run failed")
	} else {
		o.setState(StateCompleted)
		entry.Info("Scrape run completed")
	}
	return run
}
