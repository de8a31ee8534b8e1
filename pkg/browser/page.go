package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrUnsupported = errors.New("operation not supported by this backend")

// Page is one exclusively owned tab. Click and ClickText report false when
// nothing matched instead of failing, so callers can treat absent controls
// as a normal outcome.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) (bool, error)
	ClickText(ctx context.Context, selector, text string) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Provider hands out pages for the duration of a run.
type Provider interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Snapshot parses the current DOM of a page.
func Snapshot(ctx context.Context, p Page) (*goquery.Document, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}
