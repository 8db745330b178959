package scraper

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/aluiziolira/go-order-history/models"
)

// ErrNavigation indicates a failed interaction with the browser: loading a
// page, clicking, reading, or landing somewhere unexpected.
type ErrNavigation struct {
	Op  string
	Err error
}

func (e ErrNavigation) Error() string {
	return fmt.Errorf("navigation: %s: %w", e.Op, e.Err).Error()
}

func (e ErrNavigation) Unwrap() error {
	return e.Err
}

// ErrElementNotFound indicates a required element is missing from the page.
type ErrElementNotFound struct {
	Selector string
	Err      error
}

func (e ErrElementNotFound) Error() string {
	return fmt.Errorf("element_not_found: %s: %w", e.Selector, e.Err).Error()
}

func (e ErrElementNotFound) Unwrap() error {
	return e.Err
}

// ErrParse indicates page text that does not match the expected format.
type ErrParse struct {
	Field string
	Input string
	Err   error
}

func (e ErrParse) Error() string {
	return fmt.Errorf("parse: %s %q: %w", e.Field, e.Input, e.Err).Error()
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

// ErrRange indicates an inverted date range.
type ErrRange struct {
	Range models.DateRange
	Err   error
}

func (e ErrRange) Error() string {
	return fmt.Errorf("range: %s: %w", e.Range, e.Err).Error()
}

func (e ErrRange) Unwrap() error {
	return e.Err
}

// ErrPageLimit indicates a year listing with more pages than allowed.
type ErrPageLimit struct {
	Year  int
	Limit int
}

func (e ErrPageLimit) Error() string {
	return fmt.Sprintf("page_limit: year %d has more than %d pages", e.Year, e.Limit)
}

// lookupError classifies a failed Find on a required element.
func lookupError(op, selector string, err error) error {
	if browser.IsAbsent(err) {
		return ErrElementNotFound{Selector: selector, Err: err}
	}
	return ErrNavigation{Op: op, Err: err}
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var parse ErrParse
	if errors.As(err, &parse) {
		return "parse"
	}
	var notFound ErrElementNotFound
	if errors.As(err, &notFound) {
		return "element_not_found"
	}
	var nav ErrNavigation
	if errors.As(err, &nav) {
		return "navigation"
	}
	var rng ErrRange
	if errors.As(err, &rng) {
		return "range"
	}
	var limit ErrPageLimit
	if errors.As(err, &limit) {
		return "page_limit"
	}
	return "other"
}
