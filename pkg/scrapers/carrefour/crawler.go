package carrefour

import (
	"context"
	"net/url"
	"strings"
	"time"

	"catalog-scraper/pkg/browser"
	"catalog-scraper/pkg/logger"
	"catalog-scraper/pkg/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Crawler walks one category listing through its "load more" pagination.
type Crawler struct {
	Origin *url.URL
	// MaxClicks bounds pagination activations per category.
	MaxClicks int
	// MaxProducts stops a category early once reached; zero disables it.
	MaxProducts   int
	PostLoadDelay time.Duration
	SettleDelay   time.Duration
	Sleep         func(context.Context, time.Duration) error
}

func NewCrawler(origin *url.URL, maxClicks, maxProducts int) *Crawler {
	return &Crawler{
		Origin:        origin,
		MaxClicks:     maxClicks,
		MaxProducts:   maxProducts,
		PostLoadDelay: 2 * time.Second,
		SettleDelay:   3 * time.Second,
		Sleep:         browser.Sleep,
	}
}

// Crawl collects the products of one category. On error the products gathered
// so far are returned alongside it.
func (c *Crawler) Crawl(ctx context.Context, page browser.Page, categoryURL, categoryName string) ([]models.ProductRecord, error) {
	log := logger.Component("crawler").WithFields(logrus.Fields{
		"category": categoryName,
		"url":      categoryURL,
	})
	log.Info("Scraping category")

	if err := page.Navigate(ctx, categoryURL); err != nil {
		return nil, err
	}
	if err := c.Sleep(ctx, c.PostLoadDelay); err != nil {
		return nil, err
	}

	var (
		products []models.ProductRecord
		seen     = make(map[string]bool)
		clicks   int
	)

	for {
		doc, err := browser.Snapshot(ctx, page)
		if err != nil {
			return products, err
		}

		for _, p := range Extract(doc, c.Origin, categoryName) {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			products = append(products, p)
		}
		log.WithField("products", len(products)).Debug("Products so far")

		if c.MaxProducts > 0 && len(products) >= c.MaxProducts {
			log.WithField("limit", c.MaxProducts).Info("Reached per-category product limit")
			break
		}
		if clicks >= c.MaxClicks {
			log.WithField("clicks", clicks).Info("Reached pagination click limit")
			break
		}

		selector, ok := loadMoreControl(doc)
		if !ok {
			log.Info("No more products to load")
			break
		}
		clicked, err := page.ClickText(ctx, selector, loadMoreLabel)
		if err != nil {
			return products, err
		}
		if !clicked {
			log.Info("Load more control not clickable")
			break
		}

		clicks++
		log.WithField("clicks", clicks).Info("Loading more products")
		if err := c.Sleep(ctx, c.SettleDelay); err != nil {
			return products, err
		}
	}

	log.WithFields(logrus.Fields{"products": len(products), "clicks": clicks}).Info("Scraped category")
	return products, nil
}

// loadMoreControl finds the pagination button. The dedicated control ends the
// category once its label changes; otherwise any button with the label counts.
func loadMoreControl(doc *goquery.Document) (string, bool) {
	if btn := doc.Find(loadMoreSelector).First(); btn.Length() > 0 {
		return loadMoreSelector, strings.Contains(btn.Text(), loadMoreLabel)
	}

	found := doc.Find("button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), loadMoreLabel)
	}).Length() > 0
	return "button", found
}
