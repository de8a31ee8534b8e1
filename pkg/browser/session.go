package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"catalog-scraper/pkg/logger"

	cu "github.com/Davincible/chromedp-undetected"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

const defaultNavigationTimeout = 60 * time.Second

type Options struct {
	Headless          bool
	Stealth           bool
	UserAgent         string
	Locale            string
	ViewportWidth     int
	ViewportHeight    int
	ViewportJitter    int
	Seed              int64
	NavigationTimeout time.Duration
}

// Session owns one Chrome process for the duration of a run.
type Session struct {
	opts           Options
	acceptLanguage string

	browserCtx context.Context
	cancel     context.CancelFunc

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultNavigationTimeout
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Session{
		opts:           opts,
		acceptLanguage: AcceptLanguage(opts.Locale),
		rnd:            rand.New(rand.NewSource(seed)),
	}

	flags := []chromedp.ExecAllocatorOption{
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	}

	if opts.Stealth {
		cfgOpts := []cu.Option{cu.WithChromeFlags(flags...)}
		if opts.Headless {
			cfgOpts = append(cfgOpts, cu.WithHeadless())
		}
		browserCtx, cancel, err := cu.New(cu.NewConfig(cfgOpts...))
		if err != nil {
			return nil, fmt.Errorf("launch undetected chrome: %w", err)
		}
		s.browserCtx, s.cancel = browserCtx, cancel
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:], flags...)
		execOpts = append(execOpts, chromedp.Flag("headless", opts.Headless))
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, execOpts...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
		s.browserCtx = browserCtx
		s.cancel = func() {
			cancelBrowser()
			cancelAlloc()
		}
	}

	// Run with no actions starts the browser so launch failures surface here.
	if err := chromedp.Run(s.browserCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	logger.Component("browser").WithFields(logrus.Fields{
		"headless": opts.Headless,
		"stealth":  opts.Stealth,
		"locale":   opts.Locale,
	}).Info("Browser session started")
	return s, nil
}

// NewPage opens a tab with the session identity applied. JavaScript dialogs
// are accepted automatically so a crawl never blocks on them.
func (s *Session) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if dialog, ok := ev.(*cdppage.EventJavascriptDialogOpening); ok {
			logger.Component("browser").WithField("message", dialog.Message).Debug("Accepting dialog")
			go func() {
				if err := chromedp.Run(tabCtx, cdppage.HandleJavaScriptDialog(true)); err != nil {
					logger.Component("browser").WithError(err).Warn("Failed to accept dialog")
				}
			}()
		}
	})

	s.mu.Lock()
	width, height := JitterViewport(s.opts.ViewportWidth, s.opts.ViewportHeight, s.opts.ViewportJitter, s.rnd)
	s.mu.Unlock()

	p := &chromePage{ctx: tabCtx, cancel: cancel, timeout: s.opts.NavigationTimeout}
	err := p.run(ctx,
		network.Enable(),
		cdppage.SetLifecycleEventsEnabled(true),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": s.acceptLanguage}),
		emulation.SetUserAgentOverride(s.opts.UserAgent).WithAcceptLanguage(s.acceptLanguage),
		chromedp.EmulateViewport(int64(width), int64(height)),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("configure page: %w", err)
	}
	return p, nil
}

func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	logger.Component("browser").Info("Browser session closed")
	return nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// run executes actions on the tab, bounded by the navigation timeout and by ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits until the network is almost idle, bounded
// by the navigation timeout.
func (p *chromePage) Navigate(ctx context.Context, url string) error {
	logger.Component("browser").WithField("url", url).Info("Navigating")
	deadline := time.Now().Add(p.timeout)

	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	settled := make(chan struct{}, 1)
	chromedp.ListenTarget(listenCtx, networkIdleListener(settled))

	if err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := awaitNetworkIdle(ctx, settled, time.Until(deadline)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// networkIdleListener signals once the document started by the latest
// "init" lifecycle event reports networkAlmostIdle or networkIdle.
func networkIdleListener(settled chan<- struct{}) func(ev interface{}) {
	var (
		mu     sync.Mutex
		loader cdp.LoaderID
	)
	return func(ev interface{}) {
		e, ok := ev.(*cdppage.EventLifecycleEvent)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch e.Name {
		case "init":
			loader = e.LoaderID
		case "networkAlmostIdle", "networkIdle":
			if loader == "" || e.LoaderID != loader {
				return
			}
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	}
}

func awaitNetworkIdle(ctx context.Context, settled <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("network did not settle before the navigation timeout")
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("network did not settle within %v", timeout.Round(time.Millisecond))
	}
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) (bool, error) {
	sel, _ := json.Marshal(selector)
	script := fmt.Sprintf(`(function() {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, sel)

	var clicked bool
	if err := p.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, fmt.Errorf("click %s: %w", selector, err)
	}
	return clicked, nil
}

func (p *chromePage) ClickText(ctx context.Context, selector, text string) (bool, error) {
	sel, _ := json.Marshal(selector)
	needle, _ := json.Marshal(strings.ToLower(text))
	script := fmt.Sprintf(`(function() {
		const el = Array.from(document.querySelectorAll(%s))
			.find((e) => (e.textContent || "").toLowerCase().includes(%s));
		if (!el) return false;
		el.click();
		return true;
	})()`, sel, needle)

	var clicked bool
	if err := p.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, fmt.Errorf("click %s containing %q: %w", selector, text, err)
	}
	return clicked, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}

// JitterViewport offsets the base size by up to ±jitter pixels per axis.
func JitterViewport(width, height, jitter int, rnd *rand.Rand) (int, int) {
	if jitter <= 0 {
		return width, height
	}
	w := width + rnd.Intn(2*jitter+1) - jitter
	h := height + rnd.Intn(2*jitter+1) - jitter
	return w, h
}

// AcceptLanguage builds a header preferring the locale, then its base
// language, then English.
func AcceptLanguage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return "en;q=0.8"
	}
	base, _ := tag.Base()

	parts := []string{tag.String()}
	if base.String() != tag.String() {
		parts = append(parts, base.String()+";q=0.9")
	}
	if base.String() != "en" {
		parts = append(parts, "en;q=0.8")
	}
	return strings.Join(parts, ",")
}
