package carrefour

import (
	"time"

	"catalog-scraper/pkg/browser"
)

const (
	Source  = "CARREFOUR"
	BaseURL = "https://www.carrefour.be/nl"
)

// Markup hooks of the listing and home pages.
const (
	categoryURLAttr = "data-category-url"
	selectItemAttr  = "data-select-item-event-object"

	loadMoreSelector = "button.more[data-url]"
	loadMoreLabel    = "Toon meer producten"

	productLinkSelector  = `a[href*=".html"]`
	pricePerUnitSelector = ".price-per-unit-wrapper"

	tileSelector            = ".product-tile"
	tileNameSelector        = ".pdp-link a span"
	tileBrandSelector       = ".brand-wrapper a"
	tilePriceSelector       = ".price .sales .value"
	tileUnavailableSelector = ".unavailable-tag"
)

// Interstitials are the Dutch locale picker and the OneTrust cookie banner.
var Interstitials = browser.Interstitials{
	LocaleModal:    ".country-selector__container, .country-selector-popup",
	LocaleControl:  `a[data-locale="default"]`,
	LocaleFallback: "a.country-selector__button",
	LocaleText:     "Nederlands",
	ConsentSelectors: []string{
		"#onetrust-accept-btn-handler",
		`button[id*="accept-all"]`,
		`button[id*="acceptAll"]`,
		"button.onetrust-accept",
		"button.accept-all",
	},
	ConsentTexts: []string{
		"alles aanvaarden",
		"alles accepteren",
		"accepteer alles",
		"accept all",
	},
	Settle: 2 * time.Second,
}
