package scraper

import (
	"strconv"
	"strings"
)

// yearPlaceholder is replaced by the four digit year in Layout.HistoryURL.
const yearPlaceholder = "{year}"

// Layout describes the pages and markup of the order history. Selectors are
// CSS selectors; DateLayout is a Go time layout for the order date text.
type Layout struct {
	HomeURL        string
	HistoryHomeURL string
	HistoryURL     string

	GroupSelector      string
	DateSelector       string
	DetailLinkSelector string

	LineItemSelector    string
	ProductLinkSelector string
	PriceSelector       string
	QuantitySelector    string

	NextDisabledSelector string
	NextSelector         string

	// YearPromptSelector, when set, is checked after opening a year so a
	// silent redirect to another listing is caught.
	YearPromptSelector string
	YearOptionSelector string

	DateLayout string
}

// DefaultLayout returns the order history layout of the Japanese storefront
// rooted at baseURL.
func DefaultLayout(baseURL string) Layout {
	base := strings.TrimSuffix(baseURL, "/")
	return Layout{
		HomeURL:        base + "/ref=nav_logo",
		HistoryHomeURL: base + "/gp/your-account/order-history",
		HistoryURL:     base + "/gp/your-account/order-history?opt=ab&digitalOrders=1&unifiedOrders=1&returnTo=&__mk_ja_JP=%E3%82%AB%E3%82%BF%E3%82%AB%E3%83%8A&orderFilter=year-" + yearPlaceholder,

		GroupSelector:      ".a-box-group",
		DateSelector:       ".a-span3 .a-color-secondary.value",
		DetailLinkSelector: ".a-unordered-list .a-link-normal",

		LineItemSelector:    ".a-fixed-left-grid-inner",
		ProductLinkSelector: ".a-col-right .a-link-normal",
		PriceSelector:       ".a-col-right .a-color-price",
		QuantitySelector:    ".item-view-qty",

		NextDisabledSelector: ".a-pagination .a-disabled.a-last",
		NextSelector:         ".a-pagination .a-last",

		YearPromptSelector: ".a-dropdown-prompt",
		YearOptionSelector: "select[name=orderFilter] option",

		DateLayout: "2006年1月2日",
	}
}

// YearURL returns the listing address for one calendar year.
func (l Layout) YearURL(year int) string {
	return strings.ReplaceAll(l.HistoryURL, yearPlaceholder, strconv.Itoa(year))
}
