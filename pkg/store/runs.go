package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"catalog-scraper/pkg/models"

	"github.com/google/uuid"
)

// StartRun opens a new run in the running state and returns its id.
func (s *Store) StartRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, started_at, status) VALUES (?, ?, ?)`,
		id, toMillis(s.now()), string(models.RunRunning),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun closes a running run. A run can only be closed once.
func (s *Store) FinishRun(ctx context.Context, runID string, sum models.RunSummary) error {
	if !sum.Status.Terminal() {
		return fmt.Errorf("finish run %s with status %q: %w", runID, sum.Status, models.ErrInvalidRunStatus)
	}

	errs, err := marshalList(sum.Errors)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}
	cats, err := marshalList(sum.Categories)
	if err != nil {
		return fmt.Errorf("encode run categories: %w", err)
	}

	completedAt := sum.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_runs SET
			completed_at = ?, products_found = ?, products_new = ?, products_updated = ?,
			errors = ?, status = ?, categories = ?
		 WHERE id = ? AND status = ?`,
		toMillis(completedAt), sum.ProductsFound, sum.ProductsNew, sum.ProductsUpdated,
		errs, string(sum.Status), cats,
		runID, string(models.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		run, err := s.Run(ctx, runID)
		if err != nil {
			return err
		}
		return fmt.Errorf("finish run %s: already %s", runID, run.Status)
	}
	return nil
}

func (s *Store) Run(ctx context.Context, runID string) (*models.ScrapeRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRunNotFound
	}
	return run, err
}

// RecentRuns returns the latest runs by start time.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM scrape_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const runColumns = `id, started_at, completed_at, products_found, products_new, products_updated,
	errors, status, categories`

func scanRun(row rowScanner) (*models.ScrapeRun, error) {
	var (
		run         models.ScrapeRun
		startedAt   int64
		completedAt sql.NullInt64
		errs, cats  sql.NullString
		status      string
	)
	err := row.Scan(&run.ID, &startedAt, &completedAt, &run.ProductsFound, &run.ProductsNew,
		&run.ProductsUpdated, &errs, &status, &cats)
	if err != nil {
		return nil, err
	}

	run.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		run.CompletedAt = &t
	}
	run.Status = models.RunStatus(status)
	if errs.Valid {
		if err := json.Unmarshal([]byte(errs.String), &run.Errors); err != nil {
			return nil, fmt.Errorf("decode errors of run %s: %w", run.ID, err)
		}
	}
	if cats.Valid {
		if err := json.Unmarshal([]byte(cats.String), &run.Categories); err != nil {
			return nil, fmt.Errorf("decode categories of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// marshalList stores empty lists as NULL.
func marshalList[T any](items []T) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
