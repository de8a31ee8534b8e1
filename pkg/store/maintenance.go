package store

import (
	"context"
	"fmt"
	"time"
)

type CleanupMode string

const (
	Deactivate CleanupMode = "deactivate"
	Delete     CleanupMode = "delete"
)

type CleanupReport struct {
	Mode     CleanupMode
	Cutoff   time.Time
	Total    int
	Stale    int
	Affected int
}

// Cleanup retires every product whose last_scraped predates now-window.
// Deactivate flips is_active and in_stock off and leaves every other column
// alone; Delete removes the rows. Nothing else in the crawl path deletes.
func (s *Store) Cleanup(ctx context.Context, window time.Duration, mode CleanupMode) (CleanupReport, error) {
	if mode != Deactivate && mode != Delete {
		return CleanupReport{}, fmt.Errorf("unknown cleanup mode %q", mode)
	}

	report := CleanupReport{Mode: mode, Cutoff: s.now().Add(-window)}
	cutoff := toMillis(report.Cutoff)

	total, err := s.Count(ctx)
	if err != nil {
		return report, err
	}
	report.Total = total

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE last_scraped IS NOT NULL AND last_scraped < ?`, cutoff,
	).Scan(&report.Stale)
	if err != nil {
		return report, err
	}
	if report.Stale == 0 {
		return report, nil
	}

	var query string
	switch mode {
	case Delete:
		query = `DELETE FROM products WHERE last_scraped IS NOT NULL AND last_scraped < ?`
	default:
		query = `UPDATE products SET is_active = 0, in_stock = 0
			WHERE last_scraped IS NOT NULL AND last_scraped < ?`
	}

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return report, fmt.Errorf("cleanup (%s): %w", mode, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return report, err
	}
	report.Affected = int(n)
	return report, nil
}
