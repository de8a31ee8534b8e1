package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"catalog-scraper/pkg/models"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "products.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, clock
}

func sampleProduct(id string) models.ProductRecord {
	return models.ProductRecord{
		ID:           id,
		Name:         "Halfvolle melk " + id,
		Brand:        "Carrefour",
		Category:     "Zuivel",
		Subcategory:  "Melk",
		Price:        models.PriceOf(1.19),
		PricePerUnit: "€1,19/l",
		InStock:      true,
		ImageURL:     "https://www.carrefour.be/img/" + id + ".jpg",
		ProductURL:   "https://www.carrefour.be/nl/" + id + ".html",
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first := sampleProduct("100")
	res, err := s.Upsert(ctx, first)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if res != models.Created {
		t.Errorf("expected created, got %s", res)
	}
	createdAt := clock.t

	clock.advance(time.Hour)
	second := first
	second.Price = models.PriceOf(0.99)
	second.InStock = false
	second.Category = "Promoties"

	res, err = s.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if res != models.Updated {
		t.Errorf("expected updated, got %s", res)
	}

	got, err := s.Get(ctx, "100")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *got.Price != 0.99 || got.InStock || got.Category != "Promoties" {
		t.Errorf("second payload did not win: %+v", got)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("created_at changed: %v", got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(clock.t) || !got.LastScraped.Equal(clock.t) {
		t.Errorf("expected refreshed timestamps %v, got updated=%v last=%v", clock.t, got.UpdatedAt, got.LastScraped)
	}

	products, err := s.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 {
		t.Errorf("expected exactly one row, got %d", len(products))
	}
}

func TestUpsertKeepsUnobservedFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	full := sampleProduct("200")
	full.Description = "Verse melk"
	full.NutritionFacts = []byte(`{"energy_kcal":46}`)
	if _, err := s.Upsert(ctx, full); err != nil {
		t.Fatal(err)
	}

	partial := models.ProductRecord{ID: "200", Name: "Halfvolle melk 1L", InStock: true}
	if _, err := s.Upsert(ctx, partial); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "200")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Halfvolle melk 1L" {
		t.Errorf("name not overwritten: %s", got.Name)
	}
	if got.Description != "Verse melk" || got.Brand != "Carrefour" || got.Price == nil {
		t.Errorf("unobserved fields were cleared: %+v", got)
	}
	if string(got.NutritionFacts) != `{"energy_kcal":46}` {
		t.Errorf("nutrition facts lost: %s", got.NutritionFacts)
	}
}

func TestUpsertReactivates(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, sampleProduct("300")); err != nil {
		t.Fatal(err)
	}
	clock.advance(90 * 24 * time.Hour)
	if _, err := s.Cleanup(ctx, 60*24*time.Hour, Deactivate); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, "300")
	if got.IsActive {
		t.Fatalf("expected product to be deactivated")
	}

	if _, err := s.Upsert(ctx, sampleProduct("300")); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "300")
	if !got.IsActive {
		t.Errorf("re-observation must reactivate the product")
	}
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Upsert(context.Background(), models.ProductRecord{Name: "no id"}); err == nil {
		t.Error("expected error for empty id")
	}
	if _, err := s.Upsert(context.Background(), models.ProductRecord{ID: "x"}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, models.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartRun(ctx)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run, err := s.Run(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunRunning || run.CompletedAt != nil {
		t.Fatalf("new run should be running with no completion: %+v", run)
	}

	if err := s.FinishRun(ctx, id, models.RunSummary{Status: models.RunRunning}); !errors.Is(err, models.ErrInvalidRunStatus) {
		t.Errorf("expected ErrInvalidRunStatus, got %v", err)
	}

	clock.advance(5 * time.Minute)
	sum := models.RunSummary{
		CompletedAt:     clock.t,
		ProductsFound:   4,
		ProductsNew:     3,
		ProductsUpdated: 1,
		Status:          models.RunCompleted,
		Errors:          []models.RunError{{Type: models.ErrTypeCategoryScrape, Category: "Zuivel", URL: "https://x", Message: "timeout"}},
		Categories:      []string{"Zuivel", "Dranken"},
	}
	if err := s.FinishRun(ctx, id, sum); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	run, err = s.Run(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunCompleted || run.CompletedAt == nil {
		t.Fatalf("run not closed: %+v", run)
	}
	if run.Duration() != 5*time.Minute {
		t.Errorf("unexpected duration %v", run.Duration())
	}
	if len(run.Errors) != 1 || run.Errors[0].Category != "Zuivel" {
		t.Errorf("errors not persisted: %+v", run.Errors)
	}
	if len(run.Categories) != 2 {
		t.Errorf("categories not persisted: %+v", run.Categories)
	}

	if err := s.FinishRun(ctx, id, models.RunSummary{Status: models.RunFailed}); err == nil {
		t.Error("closing a run twice must fail")
	}

	if err := s.FinishRun(ctx, "missing", models.RunSummary{Status: models.RunFailed}); !errors.Is(err, models.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRecentRunsOrder(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.StartRun(ctx)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		clock.advance(time.Minute)
	}

	runs, err := s.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("runs not ordered by start time desc")
	}
}

func TestSearchEmptyQueryReturnsRecentActive(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := s.Upsert(ctx, sampleProduct(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatal(err)
		}
		clock.advance(time.Minute)
	}
	// p0 and p1 go stale.
	clock.t = clock.t.Add(61 * 24 * time.Hour)
	for i := 2; i < 7; i++ {
		if _, err := s.Upsert(ctx, sampleProduct(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatal(err)
		}
		clock.advance(time.Minute)
	}
	report, err := s.Cleanup(ctx, 60*24*time.Hour, Deactivate)
	if err != nil {
		t.Fatal(err)
	}
	if report.Affected != 2 {
		t.Fatalf("expected 2 deactivated, got %d", report.Affected)
	}

	products, err := s.Search(ctx, "", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 5 {
		t.Fatalf("expected 5 active products, got %d", len(products))
	}
	for i, p := range products {
		if !p.IsActive {
			t.Errorf("inactive product %s returned", p.ID)
		}
		if want := fmt.Sprintf("p%d", 6-i); p.ID != want {
			t.Errorf("position %d: got %s want %s", i, p.ID, want)
		}
	}

	limited, err := s.Search(ctx, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 3 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestSearchMatchesNameBrandCategory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	products := []models.ProductRecord{
		{ID: "1", Name: "Cola Zero", Brand: "Coca-Cola", Category: "Dranken", InStock: true},
		{ID: "2", Name: "Spaghetti", Brand: "Barilla", Category: "Pasta", InStock: true},
		{ID: "3", Name: "Penne 100%", Brand: "Carrefour", Category: "Pasta", InStock: true},
	}
	for _, p := range products {
		if _, err := s.Upsert(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query string
		want  int
	}{
		{"cola", 1},
		{"BARILLA", 1},
		{"pasta", 2},
		{"100%", 1},
		{"%", 1},
		{"nothing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := s.Search(ctx, tt.query, 20)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("query %q: got %d results want %d", tt.query, len(got), tt.want)
			}
		})
	}
}

func TestStatsAndCategories(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalProducts != 0 || stats.LastUpdate != nil {
		t.Errorf("empty store stats: %+v", stats)
	}

	rows := []models.ProductRecord{
		{ID: "1", Name: "A", Category: "Zuivel", Price: models.PriceOf(1), InStock: true},
		{ID: "2", Name: "B", Category: "Zuivel", Price: models.PriceOf(3), InStock: true},
		{ID: "3", Name: "C", Category: "Dranken", Price: models.PriceOf(2), InStock: true},
		{ID: "4", Name: "D", InStock: true},
	}
	for _, p := range rows {
		if _, err := s.Upsert(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalProducts != 4 || stats.TotalCategories != 2 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.AvgPrice != 2 {
		t.Errorf("expected avg price 2, got %v", stats.AvgPrice)
	}
	if stats.LastUpdate == nil || !stats.LastUpdate.Equal(clock.t) {
		t.Errorf("unexpected last update %v", stats.LastUpdate)
	}

	cats, err := s.Categories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 2 || cats[0] != "Dranken" || cats[1] != "Zuivel" {
		t.Errorf("unexpected categories %v", cats)
	}

	counts, err := s.CategoryCounts(ctx, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 3 || counts[0].Category != "Zuivel" || counts[0].Count != 2 {
		t.Errorf("unexpected category counts %+v", counts)
	}
}

func TestCleanupDeactivateTouchesOnlyStaleRows(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, sampleProduct("old")); err != nil {
		t.Fatal(err)
	}
	clock.advance(30 * 24 * time.Hour)
	if _, err := s.Upsert(ctx, sampleProduct("fresh")); err != nil {
		t.Fatal(err)
	}
	clock.advance(31 * 24 * time.Hour)

	before, _ := s.Get(ctx, "old")
	freshBefore, _ := s.Get(ctx, "fresh")

	report, err := s.Cleanup(ctx, 60*24*time.Hour, Deactivate)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 2 || report.Stale != 1 || report.Affected != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	after, _ := s.Get(ctx, "old")
	if after.IsActive || after.InStock {
		t.Errorf("stale row not deactivated: %+v", after)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) || !after.LastScraped.Equal(before.LastScraped) ||
		after.Name != before.Name || *after.Price != *before.Price {
		t.Errorf("deactivation touched other columns")
	}

	freshAfter, _ := s.Get(ctx, "fresh")
	if !freshAfter.IsActive || !freshAfter.InStock || !freshAfter.UpdatedAt.Equal(freshBefore.UpdatedAt) {
		t.Errorf("fresh row changed: %+v", freshAfter)
	}
}

func TestCleanupDelete(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, sampleProduct("old")); err != nil {
		t.Fatal(err)
	}
	clock.advance(61 * 24 * time.Hour)
	if _, err := s.Upsert(ctx, sampleProduct("fresh")); err != nil {
		t.Fatal(err)
	}

	report, err := s.Cleanup(ctx, 60*24*time.Hour, Delete)
	if err != nil {
		t.Fatal(err)
	}
	if report.Affected != 1 {
		t.Errorf("expected 1 deleted row, got %d", report.Affected)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, models.ErrProductNotFound) {
		t.Errorf("stale row still present")
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh row removed: %v", err)
	}

	if _, err := s.Cleanup(ctx, time.Hour, CleanupMode("purge")); err == nil {
		t.Error("expected error for unknown mode")
	}
}
