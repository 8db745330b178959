package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/aluiziolira/go-order-history/models"
	"github.com/aluiziolira/go-order-history/parser"
)

// runStats accumulates the counters of one Extract call.
type runStats struct {
	pages      int
	groups     map[string]int
	duplicates int
	records    int
}

func newRunStats() *runStats {
	return &runStats{groups: make(map[string]int)}
}

// walker scans the pages of one year listing, newest order first, and
// stops as soon as it meets an order older than the range.
type walker struct {
	browser   browser.Browser
	layout    Layout
	rng       models.DateRange
	extractor *extractor
	metrics   *Metrics
	stats     *runStats
	seen      *lru.Cache[string, struct{}]
	maxPages  int
}

// walk scans the listing currently loaded and every following page,
// appending in-window records to acc.
func (w *walker) walk(ctx context.Context, year int, acc []models.PurchaseRecord) ([]models.PurchaseRecord, error) {
	for page := 1; ; page++ {
		start := time.Now()
		before := len(acc)
		var (
			stop bool
			err  error
		)
		acc, stop, err = w.scanPage(ctx, acc)
		w.stats.pages++
		w.metrics.ObservePage(time.Since(start))
		if err != nil {
			return acc, err
		}
		slog.Debug("listing page scanned",
			slog.Int("year", year),
			slog.Int("page", page),
			slog.Int("records", len(acc)-before),
			slog.Bool("stop", stop),
		)
		if stop {
			return acc, nil
		}

		next, err := w.nextLink(ctx)
		if err != nil {
			return acc, err
		}
		if next == nil {
			return acc, nil
		}
		if w.maxPages > 0 && page >= w.maxPages {
			return acc, ErrPageLimit{Year: year, Limit: w.maxPages}
		}
		if err := w.browser.Click(ctx, next); err != nil {
			return acc, ErrNavigation{Op: "open next page", Err: err}
		}
	}
}

// scanPage applies the window rule to every group on the current page. The
// returned flag is true once a group older than the range start was seen.
func (w *walker) scanPage(ctx context.Context, acc []models.PurchaseRecord) ([]models.PurchaseRecord, bool, error) {
	groups, err := w.browser.FindAll(ctx, nil, w.layout.GroupSelector)
	if err != nil {
		return acc, false, ErrNavigation{Op: "list order groups", Err: err}
	}
	count := len(groups)

	for i := 0; i < count; i++ {
		if groups == nil {
			groups, err = w.browser.FindAll(ctx, nil, w.layout.GroupSelector)
			if err != nil {
				return acc, false, ErrNavigation{Op: "list order groups", Err: err}
			}
			if len(groups) != count {
				return acc, false, ErrNavigation{
					Op:  "list order groups",
					Err: fmt.Errorf("listing changed from %d to %d groups after returning from an order", count, len(groups)),
				}
			}
		}
		group := groups[i]

		purchasedAt, err := w.groupDate(ctx, group)
		if err != nil {
			return acc, false, err
		}

		switch {
		case w.rng.After(purchasedAt):
			w.count(decisionTooRecent)
			continue
		case w.rng.Before(purchasedAt):
			w.count(decisionTooOld)
			return acc, true, nil
		}

		link, href, err := w.extractor.detailLink(ctx, group)
		if err != nil {
			return acc, false, err
		}
		if href != "" && w.seen.Contains(href) {
			w.count(decisionDuplicate)
			w.stats.duplicates++
			slog.Warn("order listed twice, skipping", slog.String("href", href))
			continue
		}

		records, err := w.extractor.extract(ctx, link, purchasedAt)
		// The detail page replaced the listing, so its handles are stale.
		groups = nil
		if err != nil {
			return acc, false, err
		}
		if href != "" {
			w.seen.Add(href, struct{}{})
		}
		w.count(decisionInWindow)
		w.stats.records += len(records)
		w.metrics.AddRecords(len(records))
		acc = append(acc, records...)
	}
	return acc, false, nil
}

func (w *walker) groupDate(ctx context.Context, group browser.Element) (time.Time, error) {
	el, err := w.browser.Find(ctx, group, w.layout.DateSelector)
	if err != nil {
		return time.Time{}, lookupError("find order date", w.layout.DateSelector, err)
	}
	text, err := w.browser.Text(ctx, el)
	if err != nil {
		return time.Time{}, ErrNavigation{Op: "read order date", Err: err}
	}
	purchasedAt, err := parser.Date(text, w.layout.DateLayout)
	if err != nil {
		return time.Time{}, ErrParse{Field: "order date", Input: text, Err: err}
	}
	return purchasedAt, nil
}

// nextLink returns the enabled "next page" control, or nil on the last
// page, whether the control is disabled or missing.
func (w *walker) nextLink(ctx context.Context) (browser.Element, error) {
	if w.layout.NextDisabledSelector != "" {
		_, err := w.browser.Find(ctx, nil, w.layout.NextDisabledSelector)
		switch {
		case err == nil:
			return nil, nil
		case !browser.IsAbsent(err):
			return nil, ErrNavigation{Op: "find pagination", Err: err}
		}
	}

	next, err := w.browser.Find(ctx, nil, w.layout.NextSelector)
	if browser.IsAbsent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrNavigation{Op: "find pagination", Err: err}
	}
	return next, nil
}

func (w *walker) count(decision string) {
	w.stats.groups[decision]++
	w.metrics.IncGroup(decision)
}
