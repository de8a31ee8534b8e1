package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalog-scraper/pkg/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	brand TEXT,
	category TEXT,
	subcategory TEXT,
	description TEXT,
	ingredients TEXT,
	weight TEXT,
	barcode TEXT,
	ean TEXT,
	price REAL,
	price_per_unit TEXT,
	in_stock INTEGER NOT NULL DEFAULT 1,
	image_url TEXT,
	product_url TEXT,
	nutrition_facts TEXT,
	allergens TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	last_scraped INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_last_scraped ON products (last_scraped);
CREATE INDEX IF NOT EXISTS idx_products_updated_at ON products (updated_at);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	products_found INTEGER NOT NULL DEFAULT 0,
	products_new INTEGER NOT NULL DEFAULT 0,
	products_updated INTEGER NOT NULL DEFAULT 0,
	errors TEXT,
	status TEXT NOT NULL DEFAULT 'running',
	categories TEXT
);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs (started_at);
`

const productColumns = `id, name, brand, category, subcategory, description, ingredients, weight,
	barcode, ean, price, price_per_unit, in_stock, image_url, product_url, nutrition_facts,
	allergens, is_active, last_scraped, created_at, updated_at`

// Store persists product records and run history in a single SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; SQLite would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts a first observation or overwrites an existing row with the
// fields the new observation supplies. Either way the row ends up active with
// fresh updated_at and last_scraped.
func (s *Store) Upsert(ctx context.Context, p models.ProductRecord) (models.UpsertResult, error) {
	if p.ID == "" {
		return "", fmt.Errorf("upsert %q: empty product id", p.Name)
	}
	if p.Name == "" {
		return "", fmt.Errorf("upsert %s: empty product name", p.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE id = ?`, p.ID).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", p.ID, err)
	}

	now := toMillis(s.now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			brand = COALESCE(excluded.brand, products.brand),
			category = COALESCE(excluded.category, products.category),
			subcategory = COALESCE(excluded.subcategory, products.subcategory),
			description = COALESCE(excluded.description, products.description),
			ingredients = COALESCE(excluded.ingredients, products.ingredients),
			weight = COALESCE(excluded.weight, products.weight),
			barcode = COALESCE(excluded.barcode, products.barcode),
			ean = COALESCE(excluded.ean, products.ean),
			price = COALESCE(excluded.price, products.price),
			price_per_unit = COALESCE(excluded.price_per_unit, products.price_per_unit),
			in_stock = excluded.in_stock,
			image_url = COALESCE(excluded.image_url, products.image_url),
			product_url = COALESCE(excluded.product_url, products.product_url),
			nutrition_facts = COALESCE(excluded.nutrition_facts, products.nutrition_facts),
			allergens = COALESCE(excluded.allergens, products.allergens),
			is_active = 1,
			last_scraped = excluded.last_scraped,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, nullString(p.Brand), nullString(p.Category), nullString(p.Subcategory),
		nullString(p.Description), nullString(p.Ingredients), nullString(p.Weight),
		nullString(p.Barcode), nullString(p.EAN), nullFloat(p.Price), nullString(p.PricePerUnit),
		p.InStock, nullString(p.ImageURL), nullString(p.ProductURL),
		nullJSON(p.NutritionFacts), nullJSON(p.Allergens),
		now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", p.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	if exists > 0 {
		return models.Updated, nil
	}
	return models.Created, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.ProductRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Stats struct {
	TotalProducts   int        `json:"total_products"`
	TotalCategories int        `json:"total_categories"`
	AvgPrice        float64    `json:"avg_price"`
	LastUpdate      *time.Time `json:"last_update,omitempty"`
}

// Stats aggregates over active products only.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		st         Stats
		avg        sql.NullFloat64
		lastUpdate sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT category), AVG(price), MAX(last_scraped)
		 FROM products WHERE is_active = 1`,
	).Scan(&st.TotalProducts, &st.TotalCategories, &avg, &lastUpdate)
	if err != nil {
		return Stats{}, err
	}
	if avg.Valid {
		st.AvgPrice = avg.Float64
	}
	if lastUpdate.Valid {
		t := fromMillis(lastUpdate.Int64)
		st.LastUpdate = &t
	}
	return st, nil
}

// Search matches query case-insensitively as a substring of name, brand or
// category among active products, most recently updated first. An empty query
// returns the most recent rows.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.ProductRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE is_active = 1 AND (
			lower(name) LIKE ? ESCAPE '\' OR
			lower(brand) LIKE ? ESCAPE '\' OR
			lower(category) LIKE ? ESCAPE '\')
		 ORDER BY updated_at DESC, id ASC
		 LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

// ListActive returns every active product, most recently updated first.
func (s *Store) ListActive(ctx context.Context) ([]models.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE is_active = 1 ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

// RecentProducts returns the latest updated rows regardless of activity.
func (s *Store) RecentProducts(ctx context.Context, limit int) ([]models.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY updated_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM products
		 WHERE category IS NOT NULL AND is_active = 1
		 ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Count returns the number of rows, active or not.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// CategoryCounts groups all rows by category, largest first. Missing
// categories are reported as "(null)".
func (s *Store) CategoryCounts(ctx context.Context, limit int) ([]CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(NULLIF(TRIM(category), ''), '(null)') AS cat, COUNT(*) AS n
		 FROM products
		 GROUP BY cat
		 ORDER BY n DESC, cat ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.ProductRecord, error) {
	var (
		p                                               models.ProductRecord
		brand, category, subcategory, description       sql.NullString
		ingredients, weight, barcode, ean, pricePerUnit sql.NullString
		imageURL, productURL, nutrition, allergens      sql.NullString
		price                                           sql.NullFloat64
		lastScraped                                     sql.NullInt64
		createdAt, updatedAt                            int64
	)
	err := row.Scan(&p.ID, &p.Name, &brand, &category, &subcategory, &description,
		&ingredients, &weight, &barcode, &ean, &price, &pricePerUnit, &p.InStock,
		&imageURL, &productURL, &nutrition, &allergens, &p.IsActive, &lastScraped,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Brand = brand.String
	p.Category = category.String
	p.Subcategory = subcategory.String
	p.Description = description.String
	p.Ingredients = ingredients.String
	p.Weight = weight.String
	p.Barcode = barcode.String
	p.EAN = ean.String
	p.PricePerUnit = pricePerUnit.String
	p.ImageURL = imageURL.String
	p.ProductURL = productURL.String
	if price.Valid {
		p.Price = models.PriceOf(price.Float64)
	}
	if nutrition.Valid {
		p.NutritionFacts = json.RawMessage(nutrition.String)
	}
	if allergens.Valid {
		p.Allergens = json.RawMessage(allergens.String)
	}
	if lastScraped.Valid {
		p.LastScraped = fromMillis(lastScraped.Int64)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func collectProducts(rows *sql.Rows) ([]models.ProductRecord, error) {
	defer rows.Close()

	var products []models.ProductRecord
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
