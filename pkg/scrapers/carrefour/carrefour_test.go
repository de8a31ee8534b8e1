package carrefour

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"testing"
	"time"

	"catalog-scraper/pkg/browser"
	"catalog-scraper/pkg/browser/browsertest"

	"github.com/PuerkitoBio/goquery"
)

func noSleep(context.Context, time.Duration) error { return nil }

func mustOrigin(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(BaseURL)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func parse(t *testing.T, s string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

// tile renders a product tile carrying an entity-encoded analytics payload.
func tile(id, name string, price float64) string {
	payload := fmt.Sprintf(`{"event":"select_item","ecommerce":{"items":[{"item_id":%q,"item_name":%q,"item_brand":"Carrefour","item_category":"Food","item_category2":"Zuivel","price":%v,"stock_status":"available"}]}}`,
		id, name, price)
	return fmt.Sprintf(`<div class="product-tile" %s="%s">
		<a href="/nl/p/%s.html"><img src="/img/%s.jpg"></a>
		<span class="price-per-unit-wrapper"> 2,50 € / kg </span>
	</div>`, selectItemAttr, html.EscapeString(payload), id, id)
}

const loadMore = `<button class="more" data-url="/nl/next">Toon meer producten</button>`

func listing(body ...string) string {
	return "<html><body>" + strings.Join(body, "\n") + "</body></html>"
}

func TestExtractAnalytics(t *testing.T) {
	doc := parse(t, listing(
		tile("123", "Halfvolle melk", 1.19),
		`<div `+selectItemAttr+`="{not json"></div>`,
		`<div `+selectItemAttr+`="null"></div>`,
		tile("456", "Yoghurt", 0.99),
	))

	products := Extract(doc, mustOrigin(t), "Zuivel en eieren")
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}

	p := products[0]
	if p.ID != "123" || p.Name != "Halfvolle melk" || p.Brand != "Carrefour" {
		t.Errorf("unexpected identity %+v", p)
	}
	if p.Category != "Zuivel en eieren" || p.Subcategory != "Zuivel" {
		t.Errorf("unexpected categories %q / %q", p.Category, p.Subcategory)
	}
	if p.Price == nil || *p.Price != 1.19 {
		t.Errorf("unexpected price %v", p.Price)
	}
	if !p.InStock {
		t.Error("expected in stock")
	}
	if p.ProductURL != "https://www.carrefour.be/nl/p/123.html" {
		t.Errorf("unexpected product url %q", p.ProductURL)
	}
	if p.ImageURL != "https://www.carrefour.be/img/123.jpg" {
		t.Errorf("unexpected image url %q", p.ImageURL)
	}
	if p.PricePerUnit != "2,50 € / kg" {
		t.Errorf("unexpected price per unit %q", p.PricePerUnit)
	}
}

func TestParseAnalyticsPayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantID  string
		wantSub string
		inStock bool
	}{
		{
			name:    "Entity encoded",
			raw:     `{&quot;ecommerce&quot;:{&quot;items&quot;:[{&quot;item_id&quot;:&quot;9&quot;,&quot;item_category&quot;:&quot;Food&quot;,&quot;stock_status&quot;:&quot;available&quot;}]}}`,
			wantID:  "9",
			wantSub: "Food",
			inStock: true,
		},
		{
			name:   "Numeric id and string price",
			raw:    `{"ecommerce":{"items":[{"item_id":42,"price":"3,49","stock_status":"unavailable"}]}}`,
			wantID: "42",
		},
		{name: "No items", raw: `{"ecommerce":{"items":[]}}`, wantErr: true},
		{name: "No id", raw: `{"ecommerce":{"items":[{"item_name":"x"}]}}`, wantErr: true},
		{name: "Malformed", raw: `{"ecommerce":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := parseAnalyticsPayload(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if item.ID != tt.wantID || item.Subcategory != tt.wantSub || item.InStock != tt.inStock {
				t.Errorf("unexpected item %+v", item)
			}
		})
	}

	item, _ := parseAnalyticsPayload(`{"ecommerce":{"items":[{"item_id":42,"price":"3,49"}]}}`)
	if item.Price == nil || *item.Price != 3.49 {
		t.Errorf("expected price 3.49, got %v", item.Price)
	}
}

func TestExtractTilesFallback(t *testing.T) {
	doc := parse(t, listing(
		`<div class="product-tile">
			<div class="brand-wrapper"><a>Boni</a></div>
			<div class="pdp-link"><a href="/nl/boter/789.html"><span> Boter </span></a></div>
			<div class="price"><span class="sales"><span class="value" content="2.15">€ 2,15</span></span></div>
			<img data-src="/img/789.jpg">
		</div>`,
		`<div class="product-tile">
			<div class="pdp-link"><a href="/nl/kaas.html"><span>Kaas</span></a></div>
			<div class="price"><span class="sales"><span class="value">3,20 €</span></span></div>
			<span class="unavailable-tag">Niet beschikbaar</span>
		</div>`,
		`<div class="product-tile">
			<div class="pdp-link"><a href="/nl/zonderprijs.html"><span>Zonder prijs</span></a></div>
		</div>`,
		`<div class="product-tile">
			<div class="price"><span class="sales"><span class="value">1,00</span></span></div>
		</div>`,
	))

	products := Extract(doc, mustOrigin(t), "Zuivel")
	if len(products) != 2 {
		t.Fatalf("expected 2 products with name and price, got %d", len(products))
	}

	if p := products[0]; p.ID != "789" || p.Name != "Boter" || p.Brand != "Boni" || *p.Price != 2.15 || !p.InStock {
		t.Errorf("unexpected first tile %+v", p)
	}
	if p := products[0]; p.ImageURL != "https://www.carrefour.be/img/789.jpg" {
		t.Errorf("unexpected image url %q", p.ImageURL)
	}
	if p := products[1]; p.ID != "kaas" || *p.Price != 3.20 || p.InStock {
		t.Errorf("unexpected second tile %+v", p)
	}
}

func TestTileID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.carrefour.be/nl/a/b/5410.html", "5410"},
		{"https://www.carrefour.be/nl/verse-melk.html", "verse-melk"},
		{"", "carrefour_verse-zuivel_3"},
	}
	for _, tt := range tests {
		if got := tileID(tt.url, "Verse Zuivel", 3); got != tt.want {
			t.Errorf("tileID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestParsePrice(t *testing.T) {
	tests := map[string]float64{
		"1.99":   1.99,
		"€ 1,99": 1.99,
		"1,99 €": 1.99,
		" 12 ":   12,
	}
	for in, want := range tests {
		got := parsePrice(in)
		if got == nil || *got != want {
			t.Errorf("parsePrice(%q) = %v, want %v", in, got, want)
		}
	}
	if parsePrice("gratis") != nil {
		t.Error("expected nil for non-numeric price")
	}
}

func TestParseCategories(t *testing.T) {
	doc := parse(t, listing(
		`<a data-category-url="/nl/zuivel.html">Zuivel</a>`,
		`<a data-category-url="https://www.carrefour.be/nl/zuivel.html">Zuivel (dup)</a>`,
		`<img data-category-url="/nl/verse-groenten.html" alt="">`,
		`<a data-category-url="/nl/dranken.html" title="Dranken">  </a>`,
		`<a data-category-url="/nl/diepvries.html">unknown</a>`,
		`<a data-category-url="  ">Leeg</a>`,
	))

	got := ParseCategories(doc, mustOrigin(t))
	want := []struct{ url, name string }{
		{"https://www.carrefour.be/nl/zuivel.html", "Zuivel"},
		{"https://www.carrefour.be/nl/verse-groenten.html", "Verse groenten"},
		{"https://www.carrefour.be/nl/dranken.html", "Dranken"},
		{"https://www.carrefour.be/nl/diepvries.html", "Diepvries"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].URL != w.url || got[i].Name != w.name {
			t.Errorf("category %d: got %+v want %+v", i, got[i], w)
		}
	}
}

func TestDiscover(t *testing.T) {
	home := listing(
		`<div class="country-selector__container"><a data-locale="default">Nederlands</a></div>`,
		`<button id="onetrust-accept-btn-handler">Accept</button>`,
		`<a data-category-url="/nl/zuivel.html">Zuivel</a>`,
		`<a data-category-url="/nl/brood.html">Brood</a>`,
	)
	page := browsertest.NewPage(browsertest.Site{BaseURL: {home}}, nil)

	d := NewDiscoverer(BaseURL, mustOrigin(t))
	d.Sleep = noSleep

	categories, err := d.Discover(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	if len(categories) != 2 || categories[1].Name != "Brood" {
		t.Errorf("unexpected categories %+v", categories)
	}
	if len(page.Clicks) != 2 {
		t.Errorf("expected locale and consent clicks, got %v", page.Clicks)
	}
}

func TestDiscoverNavigationError(t *testing.T) {
	page := browsertest.NewPage(browsertest.Site{}, nil)
	d := NewDiscoverer(BaseURL, mustOrigin(t))
	d.Sleep = noSleep

	if _, err := d.Discover(context.Background(), page); err == nil {
		t.Fatal("expected navigation error")
	}
}

const categoryURL = "https://www.carrefour.be/nl/zuivel.html"

func newTestCrawler(t *testing.T, maxClicks, maxProducts int) *Crawler {
	c := NewCrawler(mustOrigin(t), maxClicks, maxProducts)
	c.Sleep = noSleep
	return c
}

func ids(t *testing.T, c *Crawler, page browser.Page) []string {
	t.Helper()
	products, err := c.Crawl(context.Background(), page, categoryURL, "Zuivel")
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

func TestCrawlMergesPagesFirstSeenWins(t *testing.T) {
	site := browsertest.Site{categoryURL: {
		listing(tile("A", "a", 1), tile("B", "b", 1), tile("C", "c", 1), loadMore),
		listing(tile("C", "c changed", 9), tile("D", "d", 1)),
	}}
	page := browsertest.NewPage(site, nil)
	c := newTestCrawler(t, 20, 0)

	products, err := c.Crawl(context.Background(), page, categoryURL, "Zuivel")
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 4 {
		t.Fatalf("expected 4 products, got %d", len(products))
	}
	if products[2].ID != "C" || products[2].Name != "c" {
		t.Errorf("expected first observation of C to win, got %+v", products[2])
	}
	if products[3].ID != "D" {
		t.Errorf("expected D last, got %s", products[3].ID)
	}
	if len(page.Clicks) != 1 {
		t.Errorf("expected one pagination click, got %v", page.Clicks)
	}
}

func TestCrawlStopConditions(t *testing.T) {
	endless := listing(tile("A", "a", 1), tile("B", "b", 1), loadMore)

	t.Run("No control", func(t *testing.T) {
		page := browsertest.NewPage(browsertest.Site{categoryURL: {listing(tile("A", "a", 1))}}, nil)
		if got := ids(t, newTestCrawler(t, 20, 0), page); fmt.Sprint(got) != "[A]" {
			t.Errorf("got %v", got)
		}
		if len(page.Clicks) != 0 {
			t.Errorf("expected no clicks, got %v", page.Clicks)
		}
	})

	t.Run("Changed label", func(t *testing.T) {
		html := listing(tile("A", "a", 1), `<button class="more" data-url="/x">Alle producten geladen</button>`)
		page := browsertest.NewPage(browsertest.Site{categoryURL: {html}}, nil)
		ids(t, newTestCrawler(t, 20, 0), page)
		if len(page.Clicks) != 0 {
			t.Errorf("expected no clicks, got %v", page.Clicks)
		}
	})

	t.Run("Click ceiling", func(t *testing.T) {
		page := browsertest.NewPage(browsertest.Site{categoryURL: {endless}}, nil)
		ids(t, newTestCrawler(t, 3, 0), page)
		if len(page.Clicks) != 3 {
			t.Errorf("expected 3 clicks, got %d", len(page.Clicks))
		}
	})

	t.Run("Product ceiling", func(t *testing.T) {
		page := browsertest.NewPage(browsertest.Site{categoryURL: {endless}}, nil)
		got := ids(t, newTestCrawler(t, 20, 2), page)
		if len(got) != 2 || len(page.Clicks) != 0 {
			t.Errorf("expected stop at 2 products without clicking, got %v clicks=%d", got, len(page.Clicks))
		}
	})

	t.Run("Generic button", func(t *testing.T) {
		site := browsertest.Site{categoryURL: {
			listing(tile("A", "a", 1), `<button>Toon meer producten</button>`),
			listing(tile("B", "b", 1)),
		}}
		page := browsertest.NewPage(site, nil)
		if got := ids(t, newTestCrawler(t, 20, 0), page); fmt.Sprint(got) != "[A B]" {
			t.Errorf("got %v", got)
		}
	})
}

func TestCrawlErrors(t *testing.T) {
	page := browsertest.NewPage(browsertest.Site{}, nil)
	if _, err := newTestCrawler(t, 20, 0).Crawl(context.Background(), page, categoryURL, "Zuivel"); err == nil {
		t.Fatal("expected navigation error")
	}

	boom := errors.New("target closed")
	site := browsertest.Site{categoryURL: {
		listing(tile("A", "a", 1), loadMore),
		listing(tile("B", "b", 1), loadMore),
	}}
	page = browsertest.NewPage(site, func(op, _ string, state int) error {
		if op == "html" && state == 1 {
			return boom
		}
		return nil
	})
	products, err := newTestCrawler(t, 20, 0).Crawl(context.Background(), page, categoryURL, "Zuivel")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped page error, got %v", err)
	}
	if len(products) != 1 {
		t.Errorf("expected partial results, got %d", len(products))
	}
}
