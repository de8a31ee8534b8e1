package carrefour

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"catalog-scraper/pkg/browser"
	"catalog-scraper/pkg/logger"
	"catalog-scraper/pkg/models"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Discoverer struct {
	HomeURL       string
	Origin        *url.URL
	Interstitials browser.Interstitials
	// Settle is waited before and after the interstitials are handled.
	Settle time.Duration
	Sleep  func(context.Context, time.Duration) error
}

func NewDiscoverer(homeURL string, origin *url.URL) *Discoverer {
	return &Discoverer{
		HomeURL:       homeURL,
		Origin:        origin,
		Interstitials: Interstitials,
		Settle:        2 * time.Second,
		Sleep:         browser.Sleep,
	}
}

// Discover reads the category endpoints linked from the homepage. An empty
// result is not an error.
func (d *Discoverer) Discover(ctx context.Context, page browser.Page) ([]models.CategoryRef, error) {
	log := logger.Component("discovery").WithField("url", d.HomeURL)
	log.Info("Fetching category URLs from homepage")

	if err := page.Navigate(ctx, d.HomeURL); err != nil {
		return nil, err
	}
	if err := d.Sleep(ctx, d.Settle); err != nil {
		return nil, err
	}
	browser.DismissInterstitials(ctx, page, d.Interstitials, d.Sleep)
	if err := d.Sleep(ctx, d.Settle); err != nil {
		return nil, err
	}

	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		return nil, err
	}

	categories := ParseCategories(doc, d.Origin)
	log.WithField("categories", len(categories)).Info("Found category URLs")
	return categories, nil
}

// ParseCategories collects every element carrying a category URL, resolved
// against origin and de-duplicated by URL in order of first appearance.
func ParseCategories(doc *goquery.Document, origin *url.URL) []models.CategoryRef {
	var categories []models.CategoryRef
	seen := make(map[string]bool)

	doc.Find("[" + categoryURLAttr + "]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr(categoryURLAttr)
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}

		resolved := absolutize(origin, raw)
		if seen[resolved] {
			return
		}
		seen[resolved] = true

		categories = append(categories, models.CategoryRef{
			URL:  resolved,
			Name: categoryName(s, resolved),
		})
	})

	return categories
}

func categoryName(s *goquery.Selection, resolved string) string {
	name := cleanText(s.Text())
	if name == "" {
		name = strings.TrimSpace(s.AttrOr("alt", ""))
	}
	if name == "" {
		name = strings.TrimSpace(s.AttrOr("title", ""))
	}
	if name == "" || strings.EqualFold(name, "unknown") {
		if slug := slugName(resolved); slug != "" {
			return slug
		}
	}
	if name == "" {
		return "Unknown"
	}
	return name
}

// slugName turns ".../verse-groenten.html" into "Verse groenten".
func slugName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	var last string
	for _, seg := range strings.Split(u.EscapedPath(), "/") {
		if seg != "" {
			last = seg
		}
	}
	if len(last) > 5 && strings.EqualFold(last[len(last)-5:], ".html") {
		last = last[:len(last)-5]
	}

	title, err := url.PathUnescape(strings.ReplaceAll(last, "-", " "))
	if err != nil {
		title = strings.ReplaceAll(last, "-", " ")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}

	// Casers are stateful, so each call gets its own.
	caser := cases.Title(language.Dutch, cases.NoLower)
	first, rest, _ := strings.Cut(title, " ")
	if rest == "" {
		return caser.String(first)
	}
	return fmt.Sprintf("%s %s", caser.String(first), rest)
}
