// Package browser defines the capability surface the history extractor uses
// to drive a browser session, independent of the automation backend.
//
// A Browser is a single stateful cursor over one tab. Implementations are not
// required to be safe for concurrent navigation; only Text and Attribute reads
// on already resolved elements may be issued concurrently (see TextAll).
package browser

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSuchElement reports that a lookup matched nothing. Callers use it
	// to tell an absent optional element apart from a driver failure.
	ErrNoSuchElement = errors.New("browser: no such element")
	// ErrStaleElement reports use of a handle from a page that has since
	// been navigated away from.
	ErrStaleElement = errors.New("browser: stale element reference")
	// ErrNotClickable reports a click on an element the backend cannot activate.
	ErrNotClickable = errors.New("browser: element not clickable")
	// ErrClosed reports use of a browser after Close.
	ErrClosed = errors.New("browser: closed")
)

// Element is an opaque handle to a node of the currently loaded page. Each
// backend only accepts the handles it produced itself.
type Element interface{}

// Browser is the set of primitives the extractor needs.
type Browser interface {
	// Navigate loads url in the current tab.
	Navigate(ctx context.Context, url string) error
	// FindAll returns every match of selector under scope, or under the
	// document when scope is nil. No match is an empty slice, not an error.
	FindAll(ctx context.Context, scope Element, selector string) ([]Element, error)
	// Find returns the first match of selector under scope, or
	// ErrNoSuchElement.
	Find(ctx context.Context, scope Element, selector string) (Element, error)
	// Text returns the visible text of el.
	Text(ctx context.Context, el Element) (string, error)
	// Attribute returns the named attribute of el and whether it is present.
	Attribute(ctx context.Context, el Element, name string) (string, bool, error)
	// Click activates el, following any navigation it triggers.
	Click(ctx context.Context, el Element) error
	// Type enters text into a form field.
	Type(ctx context.Context, el Element, text string) error
	// Back returns to the previous page in history.
	Back(ctx context.Context) error
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)
	// Close quits the session and releases backend resources.
	Close() error
}

// IsAbsent reports whether err means the looked-up element does not exist.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNoSuchElement)
}

// TextAll reads the text of every element concurrently. The reads do not
// change navigation state, so they may overlap; results keep input order.
func TextAll(ctx context.Context, b Browser, elements []Element) ([]string, error) {
	out := make([]string, len(elements))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, el := range elements {
		g.Go(func() error {
			text, err := b.Text(ctx, el)
			if err != nil {
				return err
			}
			out[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
