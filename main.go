package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"catalog-scraper/pkg/browser"
	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/logger"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/orchestrator"
	"catalog-scraper/pkg/scrapers/carrefour"
	"catalog-scraper/pkg/store"

	"github.com/sirupsen/logrus"
)

const usage = `Usage: catalog-scraper <command> [flags]

Commands:
  crawl        run a full scrape (--quick for a reduced run)
  history      show recent scrape runs
  search       search products by name, brand or category
  export       export active products to a JSON file
  categories   list product categories
  stats        show catalog statistics
  inspect      summarise the database contents
  cleanup      retire products not seen recently (--days=N --delete|--deactivate)
  serve        read-only HTTP view of the catalog
  menu         interactive menu (default)
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	cmd, args := "menu", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg, cmd, args, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Log.Error(err)
		stop()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg *config.Config, cmd string, args []string, in io.Reader, out io.Writer) error {
	switch cmd {
	case "crawl":
		return runCrawl(ctx, cfg, args, out)
	case "history":
		return withStore(cfg, func(s *store.Store) error { return runHistory(ctx, s, args, out) })
	case "search":
		return withStore(cfg, func(s *store.Store) error { return runSearch(ctx, s, args, out) })
	case "export":
		return withStore(cfg, func(s *store.Store) error { return runExport(ctx, s, args, out) })
	case "categories":
		return withStore(cfg, func(s *store.Store) error { return runCategories(ctx, s, out) })
	case "stats":
		return withStore(cfg, func(s *store.Store) error { return runStats(ctx, s, out) })
	case "inspect":
		return withStore(cfg, func(s *store.Store) error { return runInspect(ctx, cfg, s, out) })
	case "cleanup":
		return withStore(cfg, func(s *store.Store) error { return runCleanup(ctx, cfg, s, args, os.Getenv, out) })
	case "serve":
		return withStore(cfg, func(s *store.Store) error { return runServe(ctx, cfg, s, out) })
	case "menu":
		return withStore(cfg, func(s *store.Store) error { return runMenu(ctx, cfg, s, in, out) })
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func withStore(cfg *config.Config, fn func(*store.Store) error) error {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer s.Close()
	return fn(s)
}

func runCrawl(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("crawl", flag.ContinueOnError)
	fs.SetOutput(out)
	quick := fs.Bool("quick", cfg.Quick, "limit categories, pagination clicks and products per category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Quick = *quick

	return withStore(cfg, func(s *store.Store) error {
		o, err := newOrchestrator(cfg, s)
		if err != nil {
			return err
		}

		run, err := o.Run(ctx)
		if run.ID != "" {
			printRunSummary(out, run)
		}
		return err
	})
}

func newOrchestrator(cfg *config.Config, s orchestrator.RunStore) (*orchestrator.Orchestrator, error) {
	origin, err := cfg.Origin()
	if err != nil {
		return nil, err
	}
	limits := cfg.Limits()

	d := carrefour.NewDiscoverer(cfg.BaseURL, origin)

	c := carrefour.NewCrawler(origin, limits.MaxClicks, limits.ProductsPerCategory)
	c.SettleDelay = cfg.SettleDelay
	c.PostLoadDelay = cfg.PostLoadDelay

	var policy orchestrator.Policy
	switch cfg.Concurrency {
	case config.PolicyParallel:
		policy = orchestrator.BoundedParallel(cfg.MaxConcurrentPages, cfg.ScrapeDelay)
	default:
		policy = orchestrator.Sequential(cfg.ScrapeDelay)
	}

	o := orchestrator.New(s, launcher(cfg), d, c, policy)
	o.CategoryLimit = limits.Categories
	o.ScreenshotDir = cfg.ScreenshotDir

	logger.Component("main").WithFields(logrus.Fields{
		"backend":      cfg.Backend,
		"policy":       cfg.Concurrency,
		"quick":        cfg.Quick,
		"max_clicks":   limits.MaxClicks,
		"categories":   limits.Categories,
		"per_category": limits.ProductsPerCategory,
	}).Info("Crawl configured")
	return o, nil
}

func launcher(cfg *config.Config) orchestrator.Launcher {
	opts := browser.Options{
		Headless:          cfg.Headless,
		Stealth:           cfg.Stealth,
		UserAgent:         cfg.UserAgent,
		Locale:            cfg.Locale,
		ViewportWidth:     cfg.ViewportWidth,
		ViewportHeight:    cfg.ViewportHeight,
		ViewportJitter:    cfg.ViewportJitter,
		Seed:              cfg.ViewportSeed,
		NavigationTimeout: cfg.NavigationTimeout,
	}

	return func(ctx context.Context) (browser.Provider, error) {
		if cfg.Backend == config.BackendStatic {
			sp, err := browser.NewStaticProvider(opts, cfg.ScrapeDelay)
			if err != nil {
				return nil, err
			}
			return sp, nil
		}

		session, err := browser.NewSession(ctx, opts)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

func printRunSummary(out io.Writer, run models.ScrapeRun) {
	fmt.Fprintf(out, "\nRun %s %s\n", run.ID, run.Status)
	fmt.Fprintf(out, "  Categories: %d\n", len(run.Categories))
	fmt.Fprintf(out, "  Products:   %d found, %d new, %d updated\n", run.ProductsFound, run.ProductsNew, run.ProductsUpdated)
	if len(run.Errors) > 0 {
		fmt.Fprintf(out, "  Errors:     %d\n", len(run.Errors))
	}
	fmt.Fprintf(out, "  Duration:   %s\n", formatDuration(run.Duration()))
}
