// Package rodbrowser implements browser.Browser on a local Chrome driven over
// the DevTools protocol with go-rod. Each profile gets its own user data
// directory so signed-in state survives between runs.
package rodbrowser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Options configures the launched browser.
type Options struct {
	// ProfileRoot and Profile select the user data directory
	// <ProfileRoot>/<Profile>. Both empty means a throwaway profile.
	ProfileRoot string
	Profile     string
	Headless    bool
	// Settle is how long the page must stay quiet after a click.
	Settle time.Duration
}

// Browser is one Chrome tab.
type Browser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	settle   time.Duration
}

var _ browser.Browser = (*Browser)(nil)

// Launch starts Chrome and opens a stealth tab.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}

	l := launcher.New().Context(ctx).Headless(opts.Headless).Leakless(true)
	if opts.Profile != "" {
		l = l.UserDataDir(filepath.Join(opts.ProfileRoot, opts.Profile))
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	rb := rod.New().ControlURL(controlURL)
	if err := rb.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := stealth.Page(rb)
	if err != nil {
		_ = rb.Close()
		l.Cleanup()
		return nil, fmt.Errorf("open stealth page: %w", err)
	}

	return &Browser{launcher: l, browser: rb, page: page, settle: opts.Settle}, nil
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	p := b.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (b *Browser) FindAll(ctx context.Context, scope browser.Element, selector string) ([]browser.Element, error) {
	var (
		found rod.Elements
		err   error
	)
	if scope == nil {
		found, err = b.page.Context(ctx).Elements(selector)
	} else {
		el, herr := handle(scope)
		if herr != nil {
			return nil, herr
		}
		found, err = el.Context(ctx).Elements(selector)
	}
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]browser.Element, 0, len(found))
	for _, el := range found {
		out = append(out, el)
	}
	return out, nil
}

// Find uses FindAll because rod's single-element lookup retries until a
// match appears, which would turn an absent optional element into a hang.
func (b *Browser) Find(ctx context.Context, scope browser.Element, selector string) (browser.Element, error) {
	all, err := b.FindAll(ctx, scope, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%q: %w", selector, browser.ErrNoSuchElement)
	}
	return all[0], nil
}

func (b *Browser) Text(ctx context.Context, el browser.Element) (string, error) {
	e, err := handle(el)
	if err != nil {
		return "", err
	}
	text, err := e.Context(ctx).Text()
	if err != nil {
		return "", wrap(err)
	}
	return text, nil
}

func (b *Browser) Attribute(ctx context.Context, el browser.Element, name string) (string, bool, error) {
	e, err := handle(el)
	if err != nil {
		return "", false, err
	}
	v, err := e.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, wrap(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (b *Browser) Click(ctx context.Context, el browser.Element) error {
	e, err := handle(el)
	if err != nil {
		return err
	}
	if err := e.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return wrap(err)
	}
	if err := b.page.Context(ctx).WaitStable(b.settle); err != nil {
		return fmt.Errorf("wait after click: %w", err)
	}
	return nil
}

func (b *Browser) Type(ctx context.Context, el browser.Element, text string) error {
	e, err := handle(el)
	if err != nil {
		return err
	}
	if err := e.Context(ctx).Input(text); err != nil {
		return wrap(err)
	}
	return nil
}

func (b *Browser) Back(ctx context.Context) error {
	p := b.page.Context(ctx)
	if err := p.NavigateBack(); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load after back: %w", err)
	}
	return nil
}

func (b *Browser) Title(ctx context.Context) (string, error) {
	info, err := b.page.Context(ctx).Info()
	if err != nil {
		return "", wrap(err)
	}
	return info.Title, nil
}

// Close quits Chrome and removes the launcher's temporary state. The
// profile directory itself is kept.
func (b *Browser) Close() error {
	err := b.browser.Close()
	b.launcher.Cleanup()
	return err
}

func handle(el browser.Element) (*rod.Element, error) {
	e, ok := el.(*rod.Element)
	if !ok || e == nil {
		return nil, fmt.Errorf("foreign element handle %T", el)
	}
	return e, nil
}

// wrap maps rod's typed errors onto the browser sentinels.
func wrap(err error) error {
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", browser.ErrNoSuchElement, err)
	}
	var invisible *rod.InvisibleShapeError
	if errors.As(err, &invisible) {
		return fmt.Errorf("%w: %v", browser.ErrNotClickable, err)
	}
	var covered *rod.CoveredError
	if errors.As(err, &covered) {
		return fmt.Errorf("%w: %v", browser.ErrNotClickable, err)
	}
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) && cdpErr.Code == -32000 {
		return fmt.Errorf("%w: %v", browser.ErrStaleElement, err)
	}
	return err
}
