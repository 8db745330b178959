// Package parser turns the text and attributes read from order pages into
// typed values.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-order-history/models"
)

// ErrSyntax is wrapped by every parse failure in this package.
var ErrSyntax = errors.New("unexpected format")

var yearPattern = regexp.MustCompile(`\d{4}`)

var productIDPattern = regexp.MustCompile(`/gp/product/([A-Za-z0-9]{10})(?:[/?#]|$)`)

var priceReplacer = strings.NewReplacer(
	"￥", "",
	"¥", "",
	" ", "",
	"\u3000", "",
	"\u00a0", "",
	",", "",
)

// ProductID extracts the ten character product identifier from a product
// link such as https://example.com/gp/product/B088KDK163/ref=ppx_yo_dt_b_asin_title.
func ProductID(href string) (string, error) {
	m := productIDPattern.FindStringSubmatch(href)
	if m == nil {
		return "", fmt.Errorf("product link %q: %w", href, ErrSyntax)
	}
	return m[1], nil
}

// NormalizePrice removes the currency symbol, spaces and thousands separators.
func NormalizePrice(price string) string {
	return priceReplacer.Replace(strings.TrimSpace(price))
}

// Price parses a displayed price such as "￥3,299" into minor units.
func Price(text string) (int64, error) {
	digits := NormalizePrice(text)
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, fmt.Errorf("price %q: %w", text, ErrSyntax)
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w: %v", text, ErrSyntax, err)
	}
	return v, nil
}

// Quantity parses a quantity badge. Callers use 1 when no badge exists.
func Quantity(text string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("quantity %q: %w", text, ErrSyntax)
	}
	return v, nil
}

// Date parses a purchase date written in layout and returns its calendar date.
func Date(text, layout string) (time.Time, error) {
	t, err := time.Parse(layout, strings.TrimSpace(text))
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w: %v", text, ErrSyntax, err)
	}
	return models.CivilDate(t), nil
}

// Year extracts the first four digit year from a label such as "2020年".
func Year(text string) (int, error) {
	m := yearPattern.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("year %q: %w", text, ErrSyntax)
	}
	return strconv.Atoi(m)
}

// ValidateRecord ensures a record carries the required fields.
func ValidateRecord(r *models.PurchaseRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if len(r.ProductID) != 10 {
		return fmt.Errorf("record has malformed product id %q", r.ProductID)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("record missing name for %s", r.ProductID)
	}
	if r.PriceMinorUnits < 0 {
		return fmt.Errorf("record has negative price for %s", r.ProductID)
	}
	if r.PurchasedAt.IsZero() {
		return fmt.Errorf("record missing purchase date for %s", r.ProductID)
	}
	return nil
}
