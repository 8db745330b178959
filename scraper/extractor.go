package scraper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/aluiziolira/go-order-history/models"
	"github.com/aluiziolira/go-order-history/parser"
)

var (
	errMissingHref = errors.New("link has no href")
	errBlankName   = errors.New("product link has no text")
)

// extractor turns one order group into purchase records by opening its
// detail page and reading every line item.
type extractor struct {
	browser browser.Browser
	layout  Layout
}

// detailLink returns the group's order-detail link and its href.
func (x *extractor) detailLink(ctx context.Context, group browser.Element) (browser.Element, string, error) {
	link, err := x.browser.Find(ctx, group, x.layout.DetailLinkSelector)
	if err != nil {
		return nil, "", lookupError("find order detail link", x.layout.DetailLinkSelector, err)
	}
	href, _, err := x.browser.Attribute(ctx, link, "href")
	if err != nil {
		return nil, "", ErrNavigation{Op: "read order detail link", Err: err}
	}
	return link, href, nil
}

// extract opens the detail page behind link, reads its line items and
// returns to the listing. Every handle on the listing is stale afterwards.
func (x *extractor) extract(ctx context.Context, link browser.Element, purchasedAt time.Time) ([]models.PurchaseRecord, error) {
	if err := x.browser.Click(ctx, link); err != nil {
		return nil, ErrNavigation{Op: "open order detail", Err: err}
	}

	items, err := x.browser.FindAll(ctx, nil, x.layout.LineItemSelector)
	if err != nil {
		return nil, ErrNavigation{Op: "list line items", Err: err}
	}

	var records []models.PurchaseRecord
	for _, item := range items {
		recs, err := x.lineItem(ctx, item, purchasedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	if err := x.browser.Back(ctx); err != nil {
		return nil, ErrNavigation{Op: "return to listing", Err: err}
	}
	return records, nil
}

// lineItem reads one line item and expands it to one record per unit.
func (x *extractor) lineItem(ctx context.Context, item browser.Element, purchasedAt time.Time) ([]models.PurchaseRecord, error) {
	link, err := x.browser.Find(ctx, item, x.layout.ProductLinkSelector)
	if err != nil {
		return nil, lookupError("find product link", x.layout.ProductLinkSelector, err)
	}
	href, ok, err := x.browser.Attribute(ctx, link, "href")
	if err != nil {
		return nil, ErrNavigation{Op: "read product link", Err: err}
	}
	if !ok {
		return nil, ErrParse{Field: "product link", Err: errMissingHref}
	}
	productID, err := parser.ProductID(href)
	if err != nil {
		return nil, ErrParse{Field: "product link", Input: href, Err: err}
	}
	name, err := x.browser.Text(ctx, link)
	if err != nil {
		return nil, ErrNavigation{Op: "read product name", Err: err}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrParse{Field: "product name", Input: href, Err: errBlankName}
	}

	priceEl, err := x.browser.Find(ctx, item, x.layout.PriceSelector)
	if err != nil {
		return nil, lookupError("find price", x.layout.PriceSelector, err)
	}
	priceText, err := x.browser.Text(ctx, priceEl)
	if err != nil {
		return nil, ErrNavigation{Op: "read price", Err: err}
	}
	price, err := parser.Price(priceText)
	if err != nil {
		return nil, ErrParse{Field: "price", Input: priceText, Err: err}
	}

	quantity, err := x.quantity(ctx, item)
	if err != nil {
		return nil, err
	}

	record := models.PurchaseRecord{
		ProductID:       productID,
		Name:            name,
		PriceMinorUnits: price,
		PurchasedAt:     purchasedAt,
	}
	records := make([]models.PurchaseRecord, quantity)
	for i := range records {
		records[i] = record
	}
	return records, nil
}

// quantity reads the optional quantity badge; no badge means one unit.
func (x *extractor) quantity(ctx context.Context, item browser.Element) (int, error) {
	if x.layout.QuantitySelector == "" {
		return 1, nil
	}
	badge, err := x.browser.Find(ctx, item, x.layout.QuantitySelector)
	if browser.IsAbsent(err) {
		return 1, nil
	}
	if err != nil {
		return 0, ErrNavigation{Op: "find quantity", Err: err}
	}
	text, err := x.browser.Text(ctx, badge)
	if err != nil {
		return 0, ErrNavigation{Op: "read quantity", Err: err}
	}
	quantity, err := parser.Quantity(text)
	if err != nil {
		return 0, ErrParse{Field: "quantity", Input: text, Err: err}
	}
	return quantity, nil
}
