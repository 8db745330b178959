package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/aluiziolira/go-order-history/browser/httpbrowser"
	"github.com/aluiziolira/go-order-history/models"
)

func mustRange(t *testing.T, start, end string) models.DateRange {
	t.Helper()
	r, err := models.ParseDateRange(start, end)
	require.NoError(t, err)
	return r
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestYears(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		want  []int
	}{
		{name: "single day", start: "2020-07-17", end: "2020-07-17", want: []int{2020}},
		{name: "same year", start: "2021-01-01", end: "2021-12-31", want: []int{2021}},
		{name: "year boundary", start: "2020-12-31", end: "2021-01-01", want: []int{2021, 2020}},
		{name: "several years", start: "2017-03-01", end: "2021-02-01", want: []int{2021, 2020, 2019, 2018, 2017}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRange(t, tt.start, tt.end)
			got, err := Years(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, r.EndYear(), got[0])
			assert.Equal(t, r.StartYear(), got[len(got)-1])
			for i := 1; i < len(got); i++ {
				if got[i] >= got[i-1] {
					t.Fatalf("years not strictly descending: %v", got)
				}
			}
		})
	}

	got, err := Years(models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

func TestExtract_PageBoundary(t *testing.T) {
	site := newOrderSite()
	site.year(2021,
		[]order{
			{id: "recent", date: "2021年10月19日", items: []lineItem{product("B0RECENT01", "新しい注文", "￥500")}},
			{id: "keyboard", date: "2021年9月18日", items: []lineItem{product("B08KEYB001", "キーボード", "￥4,980")}},
		},
		[]order{
			{id: "ebook", date: "2021年8月17日"},
			{id: "mouse", date: "2021年8月17日", items: []lineItem{product("B07MOUSE01", "マウス", "￥1,280")}},
			{id: "old", date: "2021年8月1日", items: []lineItem{product("B0OLD00001", "古い注文", "￥100")}},
		},
		[]order{
			{id: "older", date: "2021年7月1日", items: []lineItem{product("B0OLDER001", "もっと古い注文", "￥100")}},
		},
	)
	s, sess := newTestScraper(t, site)

	records, err := s.Extract(context.Background(), mustRange(t, "2021-08-17", "2021-09-18"))
	require.NoError(t, err)

	assert.Equal(t, []models.PurchaseRecord{
		{ProductID: "B08KEYB001", Name: "キーボード", PriceMinorUnits: 4980, PurchasedAt: day(2021, 9, 18)},
		{ProductID: "B07MOUSE01", Name: "マウス", PriceMinorUnits: 1280, PurchasedAt: day(2021, 8, 17)},
	}, records)
	assert.Equal(t, 1, sess.logins)

	assert.Zero(t, site.calls(base+"/orders/recent"), "too recent order opened")
	assert.Zero(t, site.calls(base+"/orders/old"), "too old order opened")
	assert.Zero(t, site.calls(pageURL(2021, 3)), "walk continued past an older order")

	summary := s.Summary()
	assert.NoError(t, summary.Err)
	assert.Equal(t, []int{2021}, summary.Years)
	assert.Equal(t, 2, summary.PageCount)
	assert.Equal(t, 2, summary.RecordCount)
	assert.Equal(t, map[string]int{decisionTooRecent: 1, decisionInWindow: 3, decisionTooOld: 1}, summary.GroupsByOutcome)
}

func TestExtract_GiftOrderOnSingleDay(t *testing.T) {
	site := newOrderSite()
	site.year(2020, []order{
		{id: "later", date: "2020年7月20日", items: []lineItem{product("B0LATER001", "後の注文", "￥800")}},
		{id: "gift", date: "2020年7月17日", items: []lineItem{product("B088KDK163", "テンキー", "￥3,299")}},
		{id: "earlier", date: "2020年7月1日", items: []lineItem{product("B0EARLY001", "前の注文", "￥800")}},
	})
	s, _ := newTestScraper(t, site)

	records, err := s.Extract(context.Background(), mustRange(t, "2020-07-17", "2020-07-17"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "B088KDK163", records[0].ProductID)
	assert.Equal(t, "テンキー", records[0].Name)
	assert.Equal(t, int64(3299), records[0].PriceMinorUnits)
	assert.Equal(t, day(2020, 7, 17), records[0].PurchasedAt)
}

func TestExtract_ExpandsQuantity(t *testing.T) {
	cable := product("B0CABLE001", "USBケーブル", "￥780")
	cable.qty = "2"

	site := newOrderSite()
	site.year(2021, []order{
		{id: "multi", date: "2021年10月19日", items: []lineItem{
			cable,
			product("B0STAND001", "スタンド", "￥2,480"),
			product("B0CASE0001", "ケース", "￥1,200"),
		}},
	})
	s, _ := newTestScraper(t, site)

	records, err := s.Extract(context.Background(), mustRange(t, "2021-10-19", "2021-10-19"))
	require.NoError(t, err)
	require.Len(t, records, 4)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ProductID
		assert.Equal(t, day(2021, 10, 19), r.PurchasedAt)
	}
	assert.Equal(t, []string{"B0CABLE001", "B0CABLE001", "B0STAND001", "B0CASE0001"}, ids)
	assert.Equal(t, records[0], records[1])
}

func TestExtract_MalformedProductLink(t *testing.T) {
	site := newOrderSite()
	site.year(2021, []order{
		{id: "good", date: "2021年5月1日", items: []lineItem{product("B0GOOD0001", "正常", "￥100")}},
		{id: "bad", date: "2021年4月1日", items: []lineItem{{href: "/dp/not-a-product", name: "壊れたリンク", price: "￥100"}}},
	})
	s, _ := newTestScraper(t, site)

	records, err := s.Extract(context.Background(), mustRange(t, "2021-01-01", "2021-12-31"))
	require.Error(t, err)
	assert.Nil(t, records)

	var parseErr ErrParse
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "product link", parseErr.Field)
	assert.Equal(t, "/dp/not-a-product", parseErr.Input)
	assert.Equal(t, "parse", errorTypeLabel(err))

	summary := s.Summary()
	assert.Error(t, summary.Err)
	assert.Zero(t, summary.RecordCount)
}

func TestExtract_SpansYears(t *testing.T) {
	site := newOrderSite()
	site.year(2021, []order{
		{id: "jan5", date: "2021年1月5日", items: []lineItem{product("B0JAN05001", "一月五日", "￥100")}},
		{id: "jan2", date: "2021年1月2日", items: []lineItem{product("B0JAN02001", "一月二日", "￥200")}},
	})
	site.year(2020,
		[]order{{id: "dec31", date: "2020年12月31日", items: []lineItem{product("B0DEC31001", "大晦日", "￥300")}}},
		[]order{{id: "dec29", date: "2020年12月29日", items: []lineItem{product("B0DEC29001", "年末", "￥400")}}},
	)

	var progress []string
	s, _ := newTestScraper(t, site, WithProgress(func(year, done, total int) {
		progress = append(progress, fmt.Sprintf("%d %d/%d", year, done, total))
	}))

	records, err := s.Extract(context.Background(), mustRange(t, "2020-12-30", "2021-01-02"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "B0JAN02001", records[0].ProductID)
	assert.Equal(t, "B0DEC31001", records[1].ProductID)
	assert.Equal(t, []string{"2021 1/2", "2020 2/2"}, progress)
	assert.Equal(t, []int{2021, 2020}, s.Summary().Years)
	assert.Equal(t, 3, s.Summary().PageCount)
}

func TestExtract_Idempotent(t *testing.T) {
	site := newOrderSite()
	site.year(2021,
		[]order{
			{id: "a", date: "2021年6月3日", items: []lineItem{product("B0AAAAAAA1", "A", "￥1")}},
			{id: "b", date: "2021年6月2日", items: []lineItem{product("B0BBBBBBB1", "B", "￥2")}},
		},
		[]order{
			{id: "c", date: "2021年6月1日", items: []lineItem{product("B0CCCCCCC1", "C", "￥3")}},
		},
	)
	s, sess := newTestScraper(t, site)
	r := mustRange(t, "2021-06-01", "2021-06-30")

	first, err := s.Extract(context.Background(), r)
	require.NoError(t, err)
	second, err := s.Extract(context.Background(), r)
	require.NoError(t, err)

	assert.Len(t, first, 3)
	assert.ElementsMatch(t, first, second)
	assert.Equal(t, 2, sess.logins)
}

func TestExtract_SkipsOrderListedTwice(t *testing.T) {
	repeated := order{id: "shifted", date: "2021年3月3日", items: []lineItem{product("B0SHIFT001", "ずれた注文", "￥300")}}

	site := newOrderSite()
	site.year(2021,
		[]order{
			{id: "new", date: "2021年3月4日", items: []lineItem{product("B0NEW00001", "新着", "￥400")}},
			repeated,
		},
		[]order{
			repeated,
			{id: "last", date: "2021年3月1日", items: []lineItem{product("B0LAST0001", "最後", "￥100")}},
		},
	)
	s, _ := newTestScraper(t, site)

	records, err := s.Extract(context.Background(), mustRange(t, "2021-03-01", "2021-03-31"))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "B0SHIFT001", records[1].ProductID)
	assert.Equal(t, "B0LAST0001", records[2].ProductID)
	assert.Equal(t, 1, site.calls(base+"/orders/shifted"))
	assert.Equal(t, 1, s.Summary().DuplicateOrders)
}

func TestExtract_PageLimit(t *testing.T) {
	site := newOrderSite()
	site.year(2021,
		[]order{{id: "p1", date: "2021年6月3日", items: []lineItem{product("B0PAGE0001", "1", "￥1")}}},
		[]order{{id: "p2", date: "2021年6月2日", items: []lineItem{product("B0PAGE0002", "2", "￥1")}}},
		[]order{{id: "p3", date: "2021年6月1日", items: []lineItem{product("B0PAGE0003", "3", "￥1")}}},
	)
	s, _ := newTestScraper(t, site, WithMaxPages(2))

	records, err := s.Extract(context.Background(), mustRange(t, "2021-01-01", "2021-12-31"))
	assert.Nil(t, records)

	var limitErr ErrPageLimit
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ErrPageLimit{Year: 2021, Limit: 2}, limitErr)
	assert.Zero(t, site.calls(pageURL(2021, 3)))
}

func TestExtract_SinglePageWithoutPagination(t *testing.T) {
	site := newOrderSite()
	site.bare = true
	site.year(2019, []order{
		{id: "only", date: "2019年2月1日", items: []lineItem{product("B0ONLY0001", "唯一", "￥10")}},
	})
	s, _ := newTestScraper(t, site)

	records, err := s.Extract(context.Background(), mustRange(t, "2019-01-01", "2019-12-31"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, s.Summary().PageCount)
}

func TestExtract_DetectsYearRedirect(t *testing.T) {
	site := newOrderSite()
	site.prompts[2021] = 2023
	site.year(2021, []order{
		{id: "x", date: "2021年6月1日", items: []lineItem{product("B0XXXXXXX1", "X", "￥1")}},
	})
	s, _ := newTestScraper(t, site)

	records, err := s.Extract(context.Background(), mustRange(t, "2021-01-01", "2021-12-31"))
	assert.Nil(t, records)

	var navErr ErrNavigation
	require.ErrorAs(t, err, &navErr)
	assert.Contains(t, err.Error(), "2023年")
	assert.Zero(t, site.calls(base+"/orders/x"))
}

func TestExtract_Failures(t *testing.T) {
	errBoom := errors.New("credentials rejected")

	tests := []struct {
		name      string
		setup     func(site *orderSite)
		sessErr   error
		wantLabel string
		check     func(t *testing.T, err error)
	}{
		{
			name:      "login fails",
			setup:     func(*orderSite) {},
			sessErr:   errBoom,
			wantLabel: "navigation",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errBoom)
			},
		},
		{
			name: "listing unavailable",
			setup: func(site *orderSite) {
				site.transport.RegisterResponder("GET", pageURL(2021, 1), httpmock.NewStringResponder(http.StatusInternalServerError, "oops"))
			},
			wantLabel: "navigation",
		},
		{
			name: "order without date",
			setup: func(site *orderSite) {
				site.year(2021, []order{{id: "nodate", items: []lineItem{product("B0NODATE01", "日付なし", "￥1")}}})
			},
			wantLabel: "element_not_found",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, browser.ErrNoSuchElement)
			},
		},
		{
			name: "unreadable date",
			setup: func(site *orderSite) {
				site.year(2021, []order{{id: "baddate", date: "2021/06/01", items: []lineItem{product("B0BADDATE1", "日付不正", "￥1")}}})
			},
			wantLabel: "parse",
		},
		{
			name: "line item without price",
			setup: func(site *orderSite) {
				site.year(2021, []order{{id: "noprice", date: "2021年6月1日", items: []lineItem{product("B0NOPRICE1", "価格なし", "")}}})
			},
			wantLabel: "element_not_found",
		},
		{
			name: "product without name",
			setup: func(site *orderSite) {
				site.year(2021, []order{{id: "noname", date: "2021年6月1日", items: []lineItem{product("B0NONAME01", "", "￥1")}}})
			},
			wantLabel: "parse",
			check: func(t *testing.T, err error) {
				var parseErr ErrParse
				require.ErrorAs(t, err, &parseErr)
				assert.Equal(t, "product name", parseErr.Field)
			},
		},
		{
			name: "zero quantity",
			setup: func(site *orderSite) {
				item := product("B0ZEROQTY1", "数量ゼロ", "￥1")
				item.qty = "0"
				site.year(2021, []order{{id: "zeroqty", date: "2021年6月1日", items: []lineItem{item}}})
			},
			wantLabel: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newOrderSite()
			tt.setup(site)
			metrics := NewMetrics()
			s, sess := newTestScraper(t, site, WithMetrics(metrics))
			sess.err = tt.sessErr

			records, err := s.Extract(context.Background(), mustRange(t, "2021-01-01", "2021-12-31"))
			require.Error(t, err)
			assert.Nil(t, records)
			assert.Equal(t, tt.wantLabel, errorTypeLabel(err))
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(tt.wantLabel)))
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExtractionsTotal.WithLabelValues("failure")))
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

// shrinkingListing drops the last order group from every listing lookup
// after the first, as when an order disappears while a detail page is open.
type shrinkingListing struct {
	browser.Browser
	selector string
	lookups  int
}

func (s *shrinkingListing) FindAll(ctx context.Context, scope browser.Element, selector string) ([]browser.Element, error) {
	found, err := s.Browser.FindAll(ctx, scope, selector)
	if err != nil || scope != nil || selector != s.selector {
		return found, err
	}
	s.lookups++
	if s.lookups > 1 && len(found) > 0 {
		found = found[:len(found)-1]
	}
	return found, nil
}

func TestExtract_ListingChangesUnderfoot(t *testing.T) {
	site := newOrderSite()
	site.year(2021, []order{
		{id: "first", date: "2021年6月2日", items: []lineItem{product("B0FIRST001", "一つ目", "￥100")}},
		{id: "second", date: "2021年6月1日", items: []lineItem{product("B0SECOND01", "二つ目", "￥200")}},
	})
	b, err := httpbrowser.New(httpbrowser.Options{Transport: site.transport})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	layout := testLayout()
	listing := &shrinkingListing{Browser: b, selector: layout.GroupSelector}
	s := New(listing, &fakeSession{}, WithLayout(layout))

	records, err := s.Extract(context.Background(), mustRange(t, "2021-01-01", "2021-12-31"))
	require.Error(t, err)
	assert.Nil(t, records)

	var navErr ErrNavigation
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "list order groups", navErr.Op)
	assert.Contains(t, err.Error(), "listing changed from 2 to 1 groups")
	assert.Equal(t, 0, site.calls(base+"/orders/second"))
}

func TestExtract_Metrics(t *testing.T) {
	site := newOrderSite()
	cable := product("B0CABLE001", "USBケーブル", "￥780")
	cable.qty = "3"
	site.year(2021, []order{
		{id: "future", date: "2021年12月1日", items: []lineItem{product("B0FUTURE01", "未来", "￥1")}},
		{id: "cable", date: "2021年6月1日", items: []lineItem{cable}},
		{id: "past", date: "2021年1月1日", items: []lineItem{product("B0PAST0001", "過去", "￥1")}},
	})
	metrics := NewMetrics()
	s, _ := newTestScraper(t, site, WithMetrics(metrics))

	_, err := s.Extract(context.Background(), mustRange(t, "2021-02-01", "2021-11-30"))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PagesTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RecordsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GroupsTotal.WithLabelValues(decisionTooRecent)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GroupsTotal.WithLabelValues(decisionInWindow)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GroupsTotal.WithLabelValues(decisionTooOld)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExtractionsTotal.WithLabelValues("success")))
}

func TestAvailableYears(t *testing.T) {
	site := newOrderSite()
	site.transport.RegisterResponder("GET", base+"/history", htmlResponder(`<html><body>
		<form><select name="orderFilter" id="orderFilter">
			<option value="last30">過去30日間</option>
			<option value="months-3">過去3か月</option>
			<option value="year-2021" selected>2021年</option>
			<option value="year-2019">2019年</option>
			<option value="year-2020">2020年</option>
			<option value="archived">非表示にした注文</option>
		</select></form>
	</body></html>`))
	s, sess := newTestScraper(t, site)

	years, err := s.AvailableYears(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2021, 2020, 2019}, years)
	assert.Equal(t, 1, sess.logins)
}

func TestAvailableYears_NoFilter(t *testing.T) {
	site := newOrderSite()
	site.transport.RegisterResponder("GET", base+"/history", htmlResponder(`<html><body><p>no orders</p></body></html>`))
	s, _ := newTestScraper(t, site)

	_, err := s.AvailableYears(context.Background())
	var notFound ErrElementNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestDefaultLayoutYearURL(t *testing.T) {
	l := DefaultLayout("https://www.amazon.co.jp/")
	assert.Equal(t, "https://www.amazon.co.jp/ref=nav_logo", l.HomeURL)
	assert.Contains(t, l.YearURL(2020), "orderFilter=year-2020")
	assert.Contains(t, l.YearURL(2020), "%E3%82%AB")
	assert.NotContains(t, l.YearURL(2020), yearPlaceholder)
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "navigation", err: ErrNavigation{Op: "open", Err: errors.New("boom")}, expected: "navigation"},
		{name: "element", err: ErrElementNotFound{Selector: ".x", Err: browser.ErrNoSuchElement}, expected: "element_not_found"},
		{name: "parse", err: ErrParse{Field: "price", Input: "abc", Err: errors.New("bad")}, expected: "parse"},
		{name: "wrapped parse", err: fmt.Errorf("walk: %w", ErrParse{Field: "price"}), expected: "parse"},
		{name: "range", err: ErrRange{Err: models.ErrInvertedRange}, expected: "range"},
		{name: "page limit", err: ErrPageLimit{Year: 2021, Limit: 1}, expected: "page_limit"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.expected {
				t.Fatalf("errorTypeLabel(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}
