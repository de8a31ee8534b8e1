package carrefour

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"catalog-scraper/pkg/logger"
	"catalog-scraper/pkg/models"

	"github.com/PuerkitoBio/goquery"
)

// RawAnalyticsPayload is the select_item event the site embeds on every
// product tile.
type RawAnalyticsPayload struct {
	Event     string `json:"event"`
	Ecommerce *struct {
		Items []RawAnalyticsItem `json:"items"`
	} `json:"ecommerce"`
}

type RawAnalyticsItem struct {
	ItemID        json.RawMessage `json:"item_id"` // string or number
	ItemName      string          `json:"item_name"`
	ItemBrand     string          `json:"item_brand"`
	ItemCategory  string          `json:"item_category"`
	ItemCategory2 string          `json:"item_category2"`
	Price         json.RawMessage `json:"price"` // string or number
	StockStatus   string          `json:"stock_status"`
}

// analyticsItem is a payload narrowed to the fields the record needs.
type analyticsItem struct {
	ID          string
	Name        string
	Brand       string
	Subcategory string
	Price       *float64
	InStock     bool
}

var errNoCommerceItem = errors.New("payload has no commerce item")

// parseAnalyticsPayload decodes an attribute value (still HTML-entity encoded)
// into a commerce item.
func parseAnalyticsPayload(raw string) (analyticsItem, error) {
	var payload RawAnalyticsPayload
	if err := json.Unmarshal([]byte(html.UnescapeString(raw)), &payload); err != nil {
		return analyticsItem{}, fmt.Errorf("decode analytics payload: %w", err)
	}
	if payload.Ecommerce == nil || len(payload.Ecommerce.Items) == 0 {
		return analyticsItem{}, errNoCommerceItem
	}

	item := payload.Ecommerce.Items[0]
	id := rawString(item.ItemID)
	if id == "" {
		return analyticsItem{}, errNoCommerceItem
	}

	sub := item.ItemCategory2
	if sub == "" {
		sub = item.ItemCategory
	}

	return analyticsItem{
		ID:          id,
		Name:        strings.TrimSpace(item.ItemName),
		Brand:       strings.TrimSpace(item.ItemBrand),
		Subcategory: sub,
		Price:       rawFloat(item.Price),
		InStock:     item.StockStatus == "available",
	}, nil
}

// Extract maps a listing page to product records, all assigned to category.
// Embedded analytics payloads are preferred; product tiles are scraped only
// when no payload yields a product.
func Extract(doc *goquery.Document, origin *url.URL, category string) []models.ProductRecord {
	products := extractAnalytics(doc, origin, category)
	if len(products) > 0 {
		return products
	}
	return extractTiles(doc, origin, category)
}

func extractAnalytics(doc *goquery.Document, origin *url.URL, category string) []models.ProductRecord {
	var products []models.ProductRecord

	doc.Find("[" + selectItemAttr + "]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr(selectItemAttr)
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "null" {
			return
		}

		item, err := parseAnalyticsPayload(raw)
		if errors.Is(err, errNoCommerceItem) {
			return
		}
		if err != nil {
			logger.Dedup("Skipping product with malformed analytics payload in %s", category)
			logger.Component("extractor").WithError(err).Debug("Malformed analytics payload")
			return
		}

		p := models.ProductRecord{
			ID:          item.ID,
			Name:        item.Name,
			Brand:       item.Brand,
			Category:    category,
			Subcategory: item.Subcategory,
			Price:       item.Price,
			InStock:     item.InStock,
		}
		if href, ok := s.Find(productLinkSelector).First().Attr("href"); ok {
			p.ProductURL = absolutize(origin, href)
		}
		p.ImageURL = imageOf(s, origin)
		p.PricePerUnit = cleanText(s.Find(pricePerUnitSelector).First().Text())

		products = append(products, p)
	})

	return products
}

var productIDPattern = regexp.MustCompile(`/(\d+)\.html`)

func extractTiles(doc *goquery.Document, origin *url.URL, category string) []models.ProductRecord {
	var products []models.ProductRecord

	doc.Find(tileSelector).Each(func(i int, tile *goquery.Selection) {
		p := models.ProductRecord{
			Category: category,
			Name:     cleanText(tile.Find(tileNameSelector).First().Text()),
			Brand:    cleanText(tile.Find(tileBrandSelector).First().Text()),
			InStock:  tile.Find(tileUnavailableSelector).Length() == 0,
		}

		if href, ok := tile.Find(productLinkSelector).First().Attr("href"); ok {
			p.ProductURL = absolutize(origin, href)
		}
		p.ID = tileID(p.ProductURL, category, i)

		priceEl := tile.Find(tilePriceSelector).First()
		if content, ok := priceEl.Attr("content"); ok {
			p.Price = parsePrice(content)
		}
		if p.Price == nil {
			p.Price = parsePrice(priceEl.Text())
		}

		p.ImageURL = imageOf(tile, origin)
		p.PricePerUnit = cleanText(tile.Find(pricePerUnitSelector).First().Text())

		if p.Name == "" || p.Price == nil {
			return
		}
		products = append(products, p)
	})

	return products
}

// tileID prefers the numeric id in the detail link, then the link slug, and
// only then a positional id within the category.
func tileID(productURL, category string, index int) string {
	if m := productIDPattern.FindStringSubmatch(productURL); m != nil {
		return m[1]
	}
	if productURL != "" {
		if u, err := url.Parse(productURL); err == nil {
			slug := strings.TrimSuffix(path.Base(u.Path), ".html")
			if slug != "" && slug != "/" && slug != "." {
				return slug
			}
		}
	}
	return fmt.Sprintf("carrefour_%s_%d", strings.ToLower(strings.Join(strings.Fields(category), "-")), index)
}

func imageOf(s *goquery.Selection, origin *url.URL) string {
	img := s.Find("img").First()
	src, _ := img.Attr("src")
	if src == "" || strings.HasPrefix(src, "data:") {
		src, _ = img.Attr("data-src")
	}
	if src == "" {
		return ""
	}
	return absolutize(origin, src)
}

func absolutize(origin *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if origin == nil {
		return u.String()
	}
	return origin.ResolveReference(u).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parsePrice reads "1.99", "€ 1,99" or "1,99 €".
func parsePrice(s string) *float64 {
	cleaned := strings.ReplaceAll(s, "€", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	cleaned = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, cleaned)
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func rawFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	return parsePrice(rawString(raw))
}
