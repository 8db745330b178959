// Package httpbrowser implements browser.Browser without a JavaScript engine:
// pages are fetched with a colly collector and queried with goquery. Clicks
// follow links and submit forms; Back restores the previous document from an
// in-memory history.
package httpbrowser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/aluiziolira/go-order-history/browser"
	"github.com/gocolly/colly/v2"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

// Options configures a Browser.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// Transport replaces the default HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Browser is a single-tab, JavaScript-less browser.
type Browser struct {
	collector *colly.Collector

	mu       sync.RWMutex
	history  []*page
	gen      uint64
	closed   bool
	response *colly.Response
}

type page struct {
	url *url.URL
	doc *goquery.Document
	gen uint64
}

type element struct {
	sel *goquery.Selection
	gen uint64
}

var _ browser.Browser = (*Browser)(nil)

var innerWhitespace = regexp.MustCompile(`\s+`)

// New builds a browser with its own cookie jar.
func New(opts Options) (*Browser, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(opts.Timeout)
	if opts.Transport != nil {
		collector.WithTransport(opts.Transport)
	} else {
		collector.WithTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	b := &Browser{collector: collector}
	collector.OnResponse(func(r *colly.Response) {
		b.response = r
	})
	collector.OnError(func(r *colly.Response, err error) {
		url := ""
		if r != nil && r.Request != nil && r.Request.URL != nil {
			url = r.Request.URL.String()
		}
		slog.Debug("http browser request failed", slog.String("url", url), slog.Any("error", err))
	})
	return b, nil
}

// Navigate fetches rawURL, resolved against the current page.
func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target, err := b.resolveLocked(rawURL)
	if err != nil {
		return err
	}
	return b.fetchLocked(ctx, target, func() error {
		return b.collector.Visit(target)
	})
}

func (b *Browser) FindAll(ctx context.Context, scope browser.Element, selector string) ([]browser.Element, error) {
	sel, gen, err := b.query(ctx, scope, selector)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{sel: s, gen: gen})
	})
	return out, nil
}

func (b *Browser) Find(ctx context.Context, scope browser.Element, selector string) (browser.Element, error) {
	sel, gen, err := b.query(ctx, scope, selector)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%q: %w", selector, browser.ErrNoSuchElement)
	}
	return &element{sel: sel.First(), gen: gen}, nil
}

func (b *Browser) Text(ctx context.Context, el browser.Element) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.elementLocked(ctx, el)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(e.sel.Text(), " ")), nil
}

func (b *Browser) Attribute(ctx context.Context, el browser.Element, name string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.elementLocked(ctx, el)
	if err != nil {
		return "", false, err
	}
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// Click follows an anchor, submits the form owning a submit control, or
// follows the first link inside any other element.
func (b *Browser) Click(ctx context.Context, el browser.Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.elementLocked(ctx, el)
	if err != nil {
		return err
	}

	node := e.sel.First()
	switch {
	case goquery.NodeName(node) == "a":
		return b.followLocked(ctx, node)
	case isSubmit(node):
		form := node.Closest("form")
		if form.Length() == 0 {
			return fmt.Errorf("submit control outside a form: %w", browser.ErrNotClickable)
		}
		return b.submitLocked(ctx, form, node)
	default:
		link := node.Find("a[href]").First()
		if link.Length() == 0 {
			return fmt.Errorf("<%s> has no link: %w", goquery.NodeName(node), browser.ErrNotClickable)
		}
		return b.followLocked(ctx, link)
	}
}

// Type sets the value of an input or textarea on the current document.
func (b *Browser) Type(ctx context.Context, el browser.Element, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.elementLocked(ctx, el)
	if err != nil {
		return err
	}
	switch goquery.NodeName(e.sel) {
	case "input":
		e.sel.SetAttr("value", text)
	case "textarea":
		e.sel.SetText(text)
	default:
		return fmt.Errorf("cannot type into <%s>", goquery.NodeName(e.sel))
	}
	return nil
}

// Back restores the previous document without refetching it.
func (b *Browser) Back(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.usableLocked(ctx); err != nil {
		return err
	}
	if len(b.history) < 2 {
		return errors.New("no previous page in history")
	}
	b.history = b.history[:len(b.history)-1]
	b.gen++
	b.history[len(b.history)-1].gen = b.gen
	return nil
}

func (b *Browser) Title(ctx context.Context) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, err := b.currentLocked(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

// URL returns the address of the current document.
func (b *Browser) URL() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.history) == 0 {
		return ""
	}
	return b.history[len(b.history)-1].url.String()
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.history = nil
	return nil
}

func (b *Browser) query(ctx context.Context, scope browser.Element, selector string) (*goquery.Selection, uint64, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, 0, fmt.Errorf("compile selector %q: %w", selector, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if scope == nil {
		p, err := b.currentLocked(ctx)
		if err != nil {
			return nil, 0, err
		}
		return p.doc.FindMatcher(matcher), p.gen, nil
	}
	e, err := b.elementLocked(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	return e.sel.FindMatcher(matcher), e.gen, nil
}

func (b *Browser) followLocked(ctx context.Context, link *goquery.Selection) error {
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return fmt.Errorf("link without href: %w", browser.ErrNotClickable)
	}
	target, err := b.resolveLocked(href)
	if err != nil {
		return err
	}
	return b.fetchLocked(ctx, target, func() error {
		return b.collector.Visit(target)
	})
}

func (b *Browser) submitLocked(ctx context.Context, form, submitter *goquery.Selection) error {
	action, _ := form.Attr("action")
	target, err := b.resolveLocked(action)
	if err != nil {
		return err
	}
	values := formValues(form, submitter)

	method, _ := form.Attr("method")
	if strings.EqualFold(method, "post") {
		return b.fetchLocked(ctx, target, func() error {
			return b.collector.Post(target, values)
		})
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse form action %q: %w", target, err)
	}
	q := url.Values{}
	for k, v := range values {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	target = u.String()
	return b.fetchLocked(ctx, target, func() error {
		return b.collector.Visit(target)
	})
}

func (b *Browser) fetchLocked(ctx context.Context, target string, do func() error) error {
	if err := b.usableLocked(ctx); err != nil {
		return err
	}

	b.response = nil
	if err := do(); err != nil {
		return fmt.Errorf("fetch %s: %w", target, err)
	}
	if b.response == nil {
		return fmt.Errorf("fetch %s: no response", target)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b.response.Body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", target, err)
	}
	b.gen++
	b.history = append(b.history, &page{url: b.response.Request.URL, doc: doc, gen: b.gen})
	b.response = nil
	return nil
}

func (b *Browser) resolveLocked(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	if len(b.history) > 0 {
		u = b.history[len(b.history)-1].url.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("relative url %q with no current page", ref)
	}
	return u.String(), nil
}

func (b *Browser) usableLocked(ctx context.Context) error {
	if b.closed {
		return browser.ErrClosed
	}
	return ctx.Err()
}

func (b *Browser) currentLocked(ctx context.Context) (*page, error) {
	if err := b.usableLocked(ctx); err != nil {
		return nil, err
	}
	if len(b.history) == 0 {
		return nil, errors.New("no page loaded")
	}
	return b.history[len(b.history)-1], nil
}

func (b *Browser) elementLocked(ctx context.Context, el browser.Element) (*element, error) {
	p, err := b.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, fmt.Errorf("foreign element handle %T", el)
	}
	if e.gen != p.gen {
		return nil, browser.ErrStaleElement
	}
	return e, nil
}

func isSubmit(s *goquery.Selection) bool {
	typ := strings.ToLower(s.AttrOr("type", ""))
	switch goquery.NodeName(s) {
	case "button":
		return typ == "" || typ == "submit"
	case "input":
		return typ == "submit" || typ == "image"
	}
	return false
}

// formValues collects the successful controls of form as a browser would
// when submitter activates it.
func formValues(form, submitter *goquery.Selection) map[string]string {
	values := make(map[string]string)
	form.Find("input[name], select[name], textarea[name], button[name]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}
		switch goquery.NodeName(s) {
		case "textarea":
			values[name] = s.Text()
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			values[name] = opt.AttrOr("value", strings.TrimSpace(opt.Text()))
		case "button":
			if s.IsSelection(submitter) {
				values[name] = s.AttrOr("value", "")
			}
		default:
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "submit", "image", "button", "reset":
				if s.IsSelection(submitter) {
					values[name] = s.AttrOr("value", "")
				}
			case "checkbox", "radio":
				if _, checked := s.Attr("checked"); checked {
					values[name] = s.AttrOr("value", "on")
				}
			default:
				values[name] = s.AttrOr("value", "")
			}
		}
	})
	return values
}
