package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/exporter"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/store"
)

var rule = strings.Repeat("─", 80)

func runHistory(ctx context.Context, s *store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(out)
	limit := fs.Int("limit", 10, "number of runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runs, err := s.RecentRuns(ctx, *limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nRecent scrape history:")
	fmt.Fprintln(out, rule)
	if len(runs) == 0 {
		fmt.Fprintln(out, "No scrape history found.")
	}
	for i, run := range runs {
		duration := "N/A"
		if run.CompletedAt != nil {
			duration = formatDuration(run.Duration())
		}
		fmt.Fprintf(out, "\n%d. Started: %s\n", i+1, run.StartedAt.Local().Format(time.DateTime))
		fmt.Fprintf(out, "   Status: %s\n", run.Status)
		fmt.Fprintf(out, "   Duration: %s\n", duration)
		fmt.Fprintf(out, "   Products: %d found, %d new, %d updated\n", run.ProductsFound, run.ProductsNew, run.ProductsUpdated)
		if len(run.Categories) > 0 {
			fmt.Fprintf(out, "   Categories: %d scraped\n", len(run.Categories))
		}
		if len(run.Errors) > 0 {
			fmt.Fprintf(out, "   Errors: %d\n", len(run.Errors))
		}
	}
	fmt.Fprintln(out, "\n"+rule)
	return nil
}

func runSearch(ctx context.Context, s *store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(out)
	limit := fs.Int("limit", 20, "maximum number of results")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(out, "Search cancelled.")
		return nil
	}
	return printSearch(ctx, s, query, *limit, out)
}

func printSearch(ctx context.Context, s *store.Store, query string, limit int, out io.Writer) error {
	products, err := s.Search(ctx, query, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nSearch results for %q:\n", query)
	fmt.Fprintln(out, rule)
	if len(products) == 0 {
		fmt.Fprintln(out, "No products found.")
	}
	for i, p := range products {
		printProduct(out, i+1, p)
	}
	fmt.Fprintln(out, "\n"+rule)
	return nil
}

func printProduct(out io.Writer, n int, p models.ProductRecord) {
	fmt.Fprintf(out, "\n%d. %s\n", n, p.Name)
	if p.Brand != "" {
		fmt.Fprintf(out, "   Brand: %s\n", p.Brand)
	}
	if p.Category != "" {
		fmt.Fprintf(out, "   Category: %s\n", p.Category)
	}
	if p.HasPrice() {
		fmt.Fprintf(out, "   Price: €%.2f\n", *p.Price)
	}
	if p.PricePerUnit != "" {
		fmt.Fprintf(out, "   Unit price: %s\n", p.PricePerUnit)
	}
}

func runExport(ctx context.Context, s *store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(out)
	file := fs.String("o", exporter.DefaultFile, "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		*file = fs.Arg(0)
	}
	return exportTo(ctx, s, *file, out)
}

func exportTo(ctx context.Context, s *store.Store, file string, out io.Writer) error {
	products, err := s.ListActive(ctx)
	if err != nil {
		return err
	}
	if err := exporter.ExportJSON(products, file); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d products to %s\n", len(products), file)
	return nil
}

func runCategories(ctx context.Context, s *store.Store, out io.Writer) error {
	categories, err := s.Categories(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nProduct categories:")
	fmt.Fprintln(out, rule)
	if len(categories) == 0 {
		fmt.Fprintln(out, "No categories found. Run a scrape first.")
	}
	for i, c := range categories {
		fmt.Fprintf(out, "  %d. %s\n", i+1, c)
	}
	fmt.Fprintln(out, "\n"+rule)
	return nil
}

func runStats(ctx context.Context, s *store.Store, out io.Writer) error {
	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	printStats(out, st)
	return nil
}

func printStats(out io.Writer, st store.Stats) {
	last := "Never"
	if st.LastUpdate != nil {
		last = st.LastUpdate.Local().Format(time.DateTime)
	}
	fmt.Fprintln(out, "Database stats:")
	fmt.Fprintf(out, "   Total products: %d\n", st.TotalProducts)
	fmt.Fprintf(out, "   Categories: %d\n", st.TotalCategories)
	fmt.Fprintf(out, "   Avg price: €%.2f\n", st.AvgPrice)
	fmt.Fprintf(out, "   Last update: %s\n", last)
}

func runInspect(ctx context.Context, cfg *config.Config, s *store.Store, out io.Writer) error {
	total, err := s.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "DB: %s\n", cfg.DBPath)
	fmt.Fprintf(out, "Total products: %d\n", total)

	counts, err := s.CategoryCounts(ctx, 25)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nTop categories:")
	for _, c := range counts {
		fmt.Fprintf(out, "  %-40s %d\n", c.Category, c.Count)
	}

	samples, err := s.RecentProducts(ctx, 5)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nSample products:")
	for _, p := range samples {
		price := "-"
		if p.HasPrice() {
			price = fmt.Sprintf("€%.2f", *p.Price)
		}
		fmt.Fprintf(out, "  %s | %s | %s | %s\n", p.ID, p.Name, p.Category, price)
	}
	return nil
}

// modeFlag is a boolean flag that selects a cleanup mode when set. With
// several mode flags the last one given wins.
type modeFlag struct {
	target *store.CleanupMode
	mode   store.CleanupMode
}

func (f modeFlag) IsBoolFlag() bool { return true }

func (f modeFlag) String() string { return "" }

func (f modeFlag) Set(v string) error {
	on, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	if on {
		*f.target = f.mode
	}
	return nil
}

type cleanupOptions struct {
	Days int
	Mode store.CleanupMode
}

// parseCleanup resolves flags first and lets CLEANUP_DAYS and
// CLEANUP_MODE=delete override them.
func parseCleanup(cfg *config.Config, args []string, getenv func(string) string, out io.Writer) (cleanupOptions, error) {
	opts := cleanupOptions{Days: cfg.CleanupDays, Mode: store.Deactivate}
	if cfg.CleanupMode == config.CleanupDelete {
		opts.Mode = store.Delete
	}

	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.IntVar(&opts.Days, "days", opts.Days, "retention window in days")
	fs.Var(modeFlag{target: &opts.Mode, mode: store.Delete}, "delete", "delete stale rows")
	fs.Var(modeFlag{target: &opts.Mode, mode: store.Deactivate}, "deactivate", "deactivate stale rows (default)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if v := getenv("CLEANUP_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid CLEANUP_DAYS %q: %w", v, err)
		}
		opts.Days = days
	}
	if strings.EqualFold(getenv("CLEANUP_MODE"), config.CleanupDelete) {
		opts.Mode = store.Delete
	}

	if opts.Days < 0 {
		return opts, fmt.Errorf("days must not be negative, got %d", opts.Days)
	}
	return opts, nil
}

func runCleanup(ctx context.Context, cfg *config.Config, s *store.Store, args []string, getenv func(string) string, out io.Writer) error {
	opts, err := parseCleanup(cfg, args, getenv, out)
	if err != nil {
		return err
	}

	report, err := s.Cleanup(ctx, time.Duration(opts.Days)*24*time.Hour, opts.Mode)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "DB: %s\n", cfg.DBPath)
	fmt.Fprintf(out, "Total products: %d\n", report.Total)
	fmt.Fprintf(out, "Stale (last_scraped < %s): %d\n", report.Cutoff.UTC().Format(time.RFC3339), report.Stale)
	if report.Stale == 0 {
		return nil
	}
	if report.Mode == store.Delete {
		fmt.Fprintf(out, "Deleted rows: %d\n", report.Affected)
	} else {
		fmt.Fprintf(out, "Deactivated rows: %d\n", report.Affected)
	}
	return nil
}

// formatDuration renders whole minutes, or seconds for short runs.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Round(time.Second).Seconds()))
	}
	return fmt.Sprintf("%d minutes", int(d.Round(time.Minute).Minutes()))
}
