package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-order-history/browser/httpbrowser"
)

const base = "http://shop.test"

type lineItem struct {
	href  string
	name  string
	price string
	qty   string
}

type order struct {
	id    string
	date  string
	items []lineItem
}

func product(id, name, price string) lineItem {
	return lineItem{
		href:  "/gp/product/" + id + "/ref=ppx_yo_dt_b_asin_title_o00_s00?ie=UTF8&psc=1",
		name:  name,
		price: price,
	}
}

// orderSite serves a fake order history through an httpmock transport.
type orderSite struct {
	transport *httpmock.MockTransport
	// prompts overrides the year shown in the dropdown of a listing.
	prompts map[int]int
	// bare drops the pagination control from single page listings.
	bare bool
}

func newOrderSite() *orderSite {
	site := &orderSite{transport: httpmock.NewMockTransport(), prompts: map[int]int{}}
	site.transport.RegisterResponder("GET", base+"/home", htmlResponder(`<span id="glow-ingress-line1">お届け先 テストさん</span>`))
	return site
}

func testLayout() Layout {
	l := DefaultLayout(base)
	l.HomeURL = base + "/home"
	l.HistoryHomeURL = base + "/history"
	l.HistoryURL = base + "/history/" + yearPlaceholder
	return l
}

func pageURL(year, page int) string {
	if page == 1 {
		return fmt.Sprintf("%s/history/%d", base, year)
	}
	return fmt.Sprintf("%s/history/%d/%d", base, year, page)
}

// year registers the listing pages of one year and the detail page of every
// order on them.
func (s *orderSite) year(year int, pages ...[]order) {
	for i, orders := range pages {
		page := i + 1
		s.transport.RegisterResponder("GET", pageURL(year, page), func(*http.Request) (*http.Response, error) {
			return htmlPage(s.listingPage(year, page, len(pages), orders)), nil
		})
		for _, o := range orders {
			s.transport.RegisterResponder("GET", base+"/orders/"+o.id, htmlResponder(detailPage(o)))
		}
	}
}

func (s *orderSite) listingPage(year, page, pages int, orders []order) string {
	shown := year
	if p, ok := s.prompts[year]; ok {
		shown = p
	}

	var builder strings.Builder
	builder.WriteString("<html><body>")
	fmt.Fprintf(&builder, `<span class="a-dropdown-prompt">%d年</span>`, shown)
	for _, o := range orders {
		builder.WriteString(`<div class="a-box-group a-spacing-base order">`)
		builder.WriteString(`<div class="a-box a-color-offset-background order-info"><div class="a-row">`)
		if o.date != "" {
			fmt.Fprintf(&builder, `<div class="a-column a-span3"><span class="a-color-secondary label">注文日</span><span class="a-color-secondary value"> %s </span></div>`, o.date)
		}
		builder.WriteString(`<div class="a-column a-span2"><span class="a-color-secondary value">￥1,000</span></div>`)
		builder.WriteString(`</div>`)
		fmt.Fprintf(&builder, `<ul class="a-unordered-list a-nostyle a-vertical"><li><a class="a-link-normal" href="/orders/%s">注文内容を表示</a></li></ul>`, o.id)
		builder.WriteString(`</div></div>`)
	}

	switch {
	case pages == 1 && s.bare:
	case page < pages:
		fmt.Fprintf(&builder, `<ul class="a-pagination"><li class="a-normal">%d</li><li class="a-last"><a href="%s">次へ<span class="a-letter-space"></span>→</a></li></ul>`, page, pageURL(year, page+1))
	default:
		fmt.Fprintf(&builder, `<ul class="a-pagination"><li class="a-selected">%d</li><li class="a-disabled a-last">次へ</li></ul>`, page)
	}
	builder.WriteString("</body></html>")
	return builder.String()
}

func detailPage(o order) string {
	var builder strings.Builder
	builder.WriteString("<html><body>")
	if len(o.items) == 0 {
		builder.WriteString(`<div class="digital-order">Kindle版</div>`)
	}
	for _, item := range o.items {
		builder.WriteString(`<div class="a-fixed-left-grid a-spacing-none"><div class="a-fixed-left-grid-inner">`)
		builder.WriteString(`<div class="a-fixed-left-grid-col a-col-left">`)
		if item.qty != "" {
			fmt.Fprintf(&builder, `<span class="item-view-qty">%s</span>`, item.qty)
		}
		builder.WriteString(`</div><div class="a-fixed-left-grid-col a-col-right">`)
		fmt.Fprintf(&builder, `<div class="a-row"><a class="a-link-normal" href="%s"> %s </a></div>`, item.href, item.name)
		if item.price != "" {
			fmt.Fprintf(&builder, `<div class="a-row"><span class="a-size-small a-color-price">%s</span></div>`, item.price)
		}
		builder.WriteString(`</div></div></div>`)
	}
	builder.WriteString("</body></html>")
	return builder.String()
}

func htmlPage(body string) *http.Response {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return resp
}

func htmlResponder(body string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		return htmlPage(body), nil
	}
}

func (s *orderSite) calls(url string) int {
	return s.transport.GetCallCountInfo()["GET "+url]
}

type fakeSession struct {
	logins int
	err    error
}

func (f *fakeSession) Login(context.Context) error {
	f.logins++
	return f.err
}

func (f *fakeSession) Logout(context.Context) error {
	return nil
}

func newTestScraper(t *testing.T, site *orderSite, opts ...Option) (*Scraper, *fakeSession) {
	t.Helper()
	b, err := httpbrowser.New(httpbrowser.Options{Transport: site.transport})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	sess := &fakeSession{}
	opts = append([]Option{WithLayout(testLayout())}, opts...)
	return New(b, sess, opts...), sess
}
