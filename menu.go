package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/exporter"
	"catalog-scraper/pkg/store"
)

// crawlRunner starts a crawl in a child process with inherited stdio.
var crawlRunner = func(ctx context.Context) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, self, "crawl")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

type menu struct {
	cfg   *config.Config
	store *store.Store
	in    *bufio.Scanner
	out   io.Writer
}

func runMenu(ctx context.Context, cfg *config.Config, s *store.Store, in io.Reader, out io.Writer) error {
	m := &menu{cfg: cfg, store: s, in: bufio.NewScanner(in), out: out}
	return m.loop(ctx)
}

// prompt returns the next input line; ok is false once input is exhausted.
func (m *menu) prompt(question string) (string, bool) {
	fmt.Fprint(m.out, question)
	if !m.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(m.in.Text()), true
}

func (m *menu) show(ctx context.Context) error {
	fmt.Fprintln(m.out, "\nCarrefour Product Scraper")
	fmt.Fprintln(m.out, "================================")

	st, err := m.store.Stats(ctx)
	if err != nil {
		return err
	}
	if st.TotalProducts > 0 {
		fmt.Fprintln(m.out)
		printStats(m.out, st)
	}

	fmt.Fprintln(m.out, "\nChoose an option:")
	fmt.Fprintln(m.out, "  1. Run full scrape")
	fmt.Fprintln(m.out, "  2. View recent scrape history")
	fmt.Fprintln(m.out, "  3. Search products")
	fmt.Fprintln(m.out, "  4. Export products to JSON")
	fmt.Fprintln(m.out, "  5. Show categories")
	fmt.Fprintln(m.out, "  6. Exit")
	fmt.Fprintln(m.out)
	return nil
}

func (m *menu) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := m.show(ctx); err != nil {
			return err
		}

		choice, ok := m.prompt("Enter your choice (1-6): ")
		if !ok {
			return nil
		}

		var err error
		switch choice {
		case "1":
			fmt.Fprintln(m.out, "\nStarting scraper. This may take a while.")
			if err := crawlRunner(ctx); err != nil {
				fmt.Fprintf(m.out, "\nScraper failed: %v\n", err)
			} else {
				fmt.Fprintln(m.out, "\nScraping completed successfully!")
			}
		case "2":
			err = runHistory(ctx, m.store, nil, m.out)
		case "3":
			query, _ := m.prompt("\nEnter search term: ")
			if query == "" {
				fmt.Fprintln(m.out, "Search cancelled.")
				break
			}
			err = printSearch(ctx, m.store, query, 20, m.out)
		case "4":
			file, _ := m.prompt(fmt.Sprintf("\nEnter filename (default: %s): ", exporter.DefaultFile))
			if file == "" {
				file = exporter.DefaultFile
			}
			if err := exportTo(ctx, m.store, file, m.out); err != nil {
				fmt.Fprintf(m.out, "Export failed: %v\n", err)
			}
		case "5":
			err = runCategories(ctx, m.store, m.out)
		case "6":
			fmt.Fprintln(m.out, "\nGoodbye!")
			return nil
		default:
			fmt.Fprintln(m.out, "\nInvalid choice. Please try again.")
		}
		if err != nil {
			return err
		}

		if _, ok := m.prompt("\nPress Enter to continue..."); !ok {
			return nil
		}
	}
}
