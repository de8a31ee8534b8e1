package browser

import (
	"context"
	"time"

	"catalog-scraper/pkg/logger"
)

// Interstitials describes the modals a site may show before content is usable.
type Interstitials struct {
	// LocaleModal is present when the locale picker is shown.
	LocaleModal string
	// LocaleControl is clicked first; LocaleFallback + LocaleText is tried when it is missing.
	LocaleControl  string
	LocaleFallback string
	LocaleText     string

	// ConsentSelectors are tried in order before falling back to button text.
	ConsentSelectors []string
	ConsentTexts     []string

	// Settle follows every successful click.
	Settle time.Duration
}

// DismissInterstitials clicks away the locale picker and the cookie banner
// when they are present. Every step is optional and failures are only logged.
func DismissInterstitials(ctx context.Context, p Page, in Interstitials, sleep func(context.Context, time.Duration) error) {
	log := logger.Component("interstitials")

	if in.LocaleModal != "" {
		if err := dismissLocale(ctx, p, in, sleep); err != nil {
			log.WithError(err).Warn("Locale selection failed")
		}
	}

	clicked, err := dismissConsent(ctx, p, in, sleep)
	if err != nil {
		log.WithError(err).Warn("Cookie consent failed")
		return
	}
	if !clicked {
		logger.Dedup("Cookie consent banner not found")
	}
}

func dismissLocale(ctx context.Context, p Page, in Interstitials, sleep func(context.Context, time.Duration) error) error {
	doc, err := Snapshot(ctx, p)
	if err != nil {
		return err
	}
	if doc.Find(in.LocaleModal).Length() == 0 {
		logger.Dedup("Locale selector not present")
		return nil
	}

	clicked, err := p.Click(ctx, in.LocaleControl)
	if err != nil {
		return err
	}
	if !clicked && in.LocaleFallback != "" {
		clicked, err = p.ClickText(ctx, in.LocaleFallback, in.LocaleText)
		if err != nil {
			return err
		}
	}
	if clicked {
		logger.Component("interstitials").Info("Selected site locale")
		return sleep(ctx, in.Settle)
	}
	return nil
}

func dismissConsent(ctx context.Context, p Page, in Interstitials, sleep func(context.Context, time.Duration) error) (bool, error) {
	for _, sel := range in.ConsentSelectors {
		clicked, err := p.Click(ctx, sel)
		if err != nil {
			// A broken selector should not stop the remaining candidates.
			logger.Component("interstitials").WithError(err).WithField("selector", sel).Debug("Consent selector failed")
			continue
		}
		if clicked {
			logger.Component("interstitials").WithField("selector", sel).Info("Accepted cookies")
			return true, sleep(ctx, in.Settle)
		}
	}

	for _, text := range in.ConsentTexts {
		clicked, err := p.ClickText(ctx, "button", text)
		if err != nil {
			return false, err
		}
		if clicked {
			logger.Component("interstitials").WithField("text", text).Info("Accepted cookies")
			return true, sleep(ctx, in.Settle)
		}
	}
	return false, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
