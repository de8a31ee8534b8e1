// Package browsertest provides a scripted in-memory browser for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"catalog-scraper/pkg/browser"

	"github.com/PuerkitoBio/goquery"
)

// Site maps a URL to the DOM states it goes through. A page starts at the
// first state; every successful click moves it to the next one, if any.
type Site map[string][]string

// FailFunc may inject an error for an operation ("navigate", "html", "click")
// on url while the page is at the given state.
type FailFunc func(op, url string, state int) error

type Page struct {
	site Site
	fail FailFunc

	mu          sync.Mutex
	url         string
	state       int
	Navigations []string
	Clicks      []string
	Closed      bool
}

func NewPage(site Site, fail FailFunc) *Page {
	return &Page{site: site, fail: fail}
}

func (p *Page) check(op string) error {
	if p.fail == nil {
		return nil
	}
	return p.fail(op, p.url, p.state)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.url, p.state = url, 0
	p.Navigations = append(p.Navigations, url)
	if err := p.check("navigate"); err != nil {
		return err
	}
	if _, ok := p.site[url]; !ok {
		return fmt.Errorf("navigate %s: no fixture", url)
	}
	return ctx.Err()
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check("html"); err != nil {
		return "", err
	}
	return p.current()
}

func (p *Page) current() (string, error) {
	states, ok := p.site[p.url]
	if !ok || len(states) == 0 {
		return "", errors.New("no page loaded")
	}
	return states[p.state], nil
}

func (p *Page) Click(ctx context.Context, selector string) (bool, error) {
	return p.click(selector, "")
}

func (p *Page) ClickText(ctx context.Context, selector, text string) (bool, error) {
	return p.click(selector, text)
}

func (p *Page) click(selector, text string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check("click"); err != nil {
		return false, err
	}
	html, err := p.current()
	if err != nil {
		return false, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, err
	}

	needle := strings.ToLower(text)
	match := doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.Text()), needle)
	})
	if match.Length() == 0 {
		return false, nil
	}

	if text != "" {
		p.Clicks = append(p.Clicks, selector+"|"+text)
	} else {
		p.Clicks = append(p.Clicks, selector)
	}
	if p.state+1 < len(p.site[p.url]) {
		p.state++
	}
	return true, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Provider hands out fresh pages over the same site.
type Provider struct {
	Site Site
	Fail FailFunc

	mu     sync.Mutex
	Pages  []*Page
	Closed bool
}

func (pr *Provider) NewPage(ctx context.Context) (browser.Page, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	p := NewPage(pr.Site, pr.Fail)
	pr.Pages = append(pr.Pages, p)
	return p, nil
}

func (pr *Provider) Close() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.Closed = true
	return nil
}

// AllClosed reports whether every page handed out has been closed.
func (pr *Provider) AllClosed() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, p := range pr.Pages {
		p.mu.Lock()
		closed := p.Closed
		p.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}
