package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"catalog-scraper/pkg/logger"

	"github.com/gocolly/colly/v2"
)

// StaticProvider fetches pages over plain HTTP without running scripts.
// Pages it produces cannot click, so paginated listings stop after the
// first page.
type StaticProvider struct {
	base           *colly.Collector
	acceptLanguage string
}

func NewStaticProvider(opts Options, delay time.Duration) (*StaticProvider, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultNavigationTimeout
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.NavigationTimeout)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
	}); err != nil {
		return nil, fmt.Errorf("configure static collector: %w", err)
	}

	return &StaticProvider{base: c, acceptLanguage: AcceptLanguage(opts.Locale)}, nil
}

func (sp *StaticProvider) NewPage(ctx context.Context) (Page, error) {
	p := &staticPage{c: sp.base.Clone()}

	p.c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", sp.acceptLanguage)
	})
	p.c.OnResponse(func(r *colly.Response) {
		p.body = string(r.Body)
		p.status = r.StatusCode
	})
	p.c.OnError(func(r *colly.Response, err error) {
		p.status = r.StatusCode
		p.err = err
	})
	return p, nil
}

func (sp *StaticProvider) Close() error {
	return nil
}

type staticPage struct {
	c      *colly.Collector
	body   string
	status int
	err    error
}

func (p *staticPage) Navigate(ctx context.Context, url string) error {
	logger.Component("browser").WithField("url", url).Info("Fetching")

	p.body, p.status, p.err = "", 0, nil
	p.c.Context = ctx
	if err := p.c.Visit(url); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if p.err != nil {
		return fmt.Errorf("fetch %s: %w", url, p.err)
	}
	if p.status >= http.StatusBadRequest {
		return fmt.Errorf("fetch %s: status %d", url, p.status)
	}
	return nil
}

func (p *staticPage) HTML(ctx context.Context) (string, error) {
	if p.status == 0 {
		return "", fmt.Errorf("no page loaded")
	}
	return p.body, nil
}

func (p *staticPage) Click(ctx context.Context, selector string) (bool, error) {
	return false, nil
}

func (p *staticPage) ClickText(ctx context.Context, selector, text string) (bool, error) {
	return false, nil
}

func (p *staticPage) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrUnsupported
}

func (p *staticPage) Close() error {
	return nil
}
