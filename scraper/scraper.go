// Package scraper walks the paginated, year-filtered order history of a
// signed-in account and turns every order inside a date range into purchase
// records.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/aluiziolira/go-order-history/models"
	"github.com/aluiziolira/go-order-history/parser"
)

// DefaultDedupeSize bounds the order links remembered during one run.
const DefaultDedupeSize = 4096

var tracer = otel.Tracer("github.com/aluiziolira/go-order-history/scraper")

// Session signs the browser in and out. Login must leave the browser
// authenticated, logging out any previous account first.
type Session interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// ProgressFunc is called after each year listing is walked.
type ProgressFunc func(year, done, total int)

// Option configures a Scraper.
type Option func(*Scraper)

// WithLayout replaces the default page layout.
func WithLayout(l Layout) Option {
	return func(s *Scraper) { s.layout = l }
}

// WithMetrics records run metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) { s.Metrics = m }
}

// WithMaxPages fails a run when a single year has more than n pages.
// Zero means no limit.
func WithMaxPages(n int) Option {
	return func(s *Scraper) { s.maxPages = n }
}

// WithDedupeSize sets how many order links a run remembers to detect an
// order listed twice.
func WithDedupeSize(n int) Option {
	return func(s *Scraper) { s.dedupeSize = n }
}

// WithProgress registers a callback invoked after each year.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scraper) { s.progress = fn }
}

// Scraper extracts purchase records through one exclusively owned browser.
// Calls must not overlap; the browser is a single navigation cursor.
type Scraper struct {
	browser    browser.Browser
	session    Session
	layout     Layout
	Metrics    *Metrics
	maxPages   int
	dedupeSize int
	progress   ProgressFunc

	mu      sync.Mutex
	summary models.ExtractionSummary
}

// New builds a Scraper over b. The caller keeps ownership of b and closes it.
func New(b browser.Browser, sess Session, opts ...Option) *Scraper {
	s := &Scraper{
		browser:    b,
		session:    sess,
		layout:     DefaultLayout("https://www.amazon.co.jp"),
		Metrics:    NewMetrics(),
		dedupeSize: DefaultDedupeSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract signs in and returns every purchase record dated inside r, newest
// year first and in page order within a year. Any failure discards the
// records gathered so far.
func (s *Scraper) Extract(ctx context.Context, r models.DateRange) (records []models.PurchaseRecord, err error) {
	ctx, span := tracer.Start(ctx, "scraper.Extract",
		trace.WithAttributes(attribute.String("range", r.String())),
	)
	defer span.End()

	stats := newRunStats()
	summary := models.ExtractionSummary{Range: r, StartTime: time.Now()}
	defer func() {
		summary.EndTime = time.Now()
		summary.PageCount = stats.pages
		summary.GroupsByOutcome = stats.groups
		summary.DuplicateOrders = stats.duplicates
		summary.RecordCount = len(records)
		summary.Err = err
		s.finish(span, summary)
	}()

	years, err := Years(r)
	if err != nil {
		return nil, err
	}
	summary.Years = years

	if err := s.login(ctx); err != nil {
		return nil, err
	}

	seen, err := lru.New[string, struct{}](max(s.dedupeSize, 1))
	if err != nil {
		return nil, fmt.Errorf("create order link cache: %w", err)
	}
	w := &walker{
		browser:   s.browser,
		layout:    s.layout,
		rng:       r,
		extractor: &extractor{browser: s.browser, layout: s.layout},
		metrics:   s.Metrics,
		stats:     stats,
		seen:      seen,
		maxPages:  s.maxPages,
	}

	var acc []models.PurchaseRecord
	for i, year := range years {
		acc, err = s.walkYear(ctx, w, year, acc)
		if err != nil {
			return nil, err
		}
		if s.progress != nil {
			s.progress(year, i+1, len(years))
		}
	}
	return acc, nil
}

// AvailableYears signs in, opens the order history and returns the years
// offered by its year filter, newest first.
func (s *Scraper) AvailableYears(ctx context.Context) ([]int, error) {
	ctx, span := tracer.Start(ctx, "scraper.AvailableYears")
	defer span.End()

	years, err := s.availableYears(ctx)
	if err != nil {
		s.Metrics.IncError(errorTypeLabel(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return years, nil
}

func (s *Scraper) availableYears(ctx context.Context) ([]int, error) {
	if err := s.login(ctx); err != nil {
		return nil, err
	}
	if err := s.browser.Navigate(ctx, s.layout.HistoryHomeURL); err != nil {
		return nil, ErrNavigation{Op: "open order history", Err: err}
	}
	options, err := s.browser.FindAll(ctx, nil, s.layout.YearOptionSelector)
	if err != nil {
		return nil, ErrNavigation{Op: "list year filter", Err: err}
	}
	if len(options) == 0 {
		return nil, ErrElementNotFound{Selector: s.layout.YearOptionSelector, Err: browser.ErrNoSuchElement}
	}
	labels, err := browser.TextAll(ctx, s.browser, options)
	if err != nil {
		return nil, ErrNavigation{Op: "read year filter", Err: err}
	}

	unique := make(map[int]struct{}, len(labels))
	years := make([]int, 0, len(labels))
	for _, label := range labels {
		// Options such as "last 30 days" carry no year.
		year, err := parser.Year(label)
		if err != nil {
			continue
		}
		if _, ok := unique[year]; ok {
			continue
		}
		unique[year] = struct{}{}
		years = append(years, year)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years, nil
}

// Summary returns the bookkeeping of the last Extract call.
func (s *Scraper) Summary() models.ExtractionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Scraper) login(ctx context.Context) error {
	if err := s.session.Login(ctx); err != nil {
		return ErrNavigation{Op: "login", Err: err}
	}
	// Year listings opened straight after sign-in can redirect to the
	// default view, so land on the home page first.
	if err := s.browser.Navigate(ctx, s.layout.HomeURL); err != nil {
		return ErrNavigation{Op: "open home", Err: err}
	}
	return nil
}

func (s *Scraper) walkYear(ctx context.Context, w *walker, year int, acc []models.PurchaseRecord) ([]models.PurchaseRecord, error) {
	ctx, span := tracer.Start(ctx, "scraper.walkYear", trace.WithAttributes(attribute.Int("year", year)))
	defer span.End()

	if err := s.openYear(ctx, year); err != nil {
		return acc, err
	}
	before := len(acc)
	acc, err := w.walk(ctx, year, acc)
	if err != nil {
		return acc, err
	}
	slog.Info("year walked",
		slog.Int("year", year),
		slog.Int("records", len(acc)-before),
	)
	span.SetAttributes(attribute.Int("records", len(acc)-before))
	return acc, nil
}

// openYear loads the listing for year and, when the layout names a year
// prompt, checks that the site did not fall back to another listing.
func (s *Scraper) openYear(ctx context.Context, year int) error {
	if err := s.browser.Navigate(ctx, s.layout.YearURL(year)); err != nil {
		return ErrNavigation{Op: fmt.Sprintf("open %d listing", year), Err: err}
	}
	if s.layout.YearPromptSelector == "" {
		return nil
	}

	prompt, err := s.browser.Find(ctx, nil, s.layout.YearPromptSelector)
	if browser.IsAbsent(err) {
		return nil
	}
	if err != nil {
		return ErrNavigation{Op: "find year prompt", Err: err}
	}
	text, err := s.browser.Text(ctx, prompt)
	if err != nil {
		return ErrNavigation{Op: "read year prompt", Err: err}
	}
	shown, err := parser.Year(text)
	if err != nil || shown != year {
		return ErrNavigation{
			Op:  fmt.Sprintf("open %d listing", year),
			Err: fmt.Errorf("listing shows %q", text),
		}
	}
	return nil
}

func (s *Scraper) finish(span trace.Span, summary models.ExtractionSummary) {
	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()

	if summary.Err != nil {
		category := errorTypeLabel(summary.Err)
		s.Metrics.IncError(category)
		s.Metrics.IncExtraction("failure")
		span.RecordError(summary.Err)
		span.SetStatus(codes.Error, summary.Err.Error())
		slog.Error("extraction failed",
			slog.String("range", summary.Range.String()),
			slog.String("category", category),
			slog.Int("pages", summary.PageCount),
			slog.Any("error", summary.Err),
		)
		return
	}

	s.Metrics.IncExtraction("success")
	span.SetAttributes(attribute.Int("records", summary.RecordCount))
	slog.Info("extraction complete",
		slog.String("range", summary.Range.String()),
		slog.Int("years", len(summary.Years)),
		slog.Int("pages", summary.PageCount),
		slog.Int("records", summary.RecordCount),
		slog.Int("duplicates", summary.DuplicateOrders),
		slog.Duration("duration", summary.Duration()),
	)
}
