// Package session signs a browser into the shop account before history
// extraction. Credentials are passed in by the caller; this package never
// reads the environment.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-order-history/browser"
)

var (
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("session: missing credentials")
	// ErrLoginFailed is returned when the site still greets an anonymous
	// visitor after the credential form was submitted.
	ErrLoginFailed = errors.New("session: login failed")
)

// Credentials identify the account.
type Credentials struct {
	Email    string
	Password string
}

// Layout holds the sign-in pages and form controls.
type Layout struct {
	HomeURL           string
	LoginURL          string
	LogoutURL         string
	EmailSelector     string
	ContinueSelector  string
	PasswordSelector  string
	SubmitSelector    string
	GreetingSelector  string
	SignedOutGreeting string
}

// DefaultLayout returns the sign-in layout of the Japanese storefront rooted
// at baseURL.
func DefaultLayout(baseURL string) Layout {
	base := strings.TrimSuffix(baseURL, "/")
	return Layout{
		HomeURL:           base + "/ref=nav_logo",
		LoginURL:          base + "/ap/signin?" + signInQuery(base),
		LogoutURL:         base + "/gp/flex/sign-out.html?path=%2Fgp%2Fyourstore%2Fhome&signIn=1&useRedirectOnSuccess=1&action=sign-out",
		EmailSelector:     "#ap_email",
		ContinueSelector:  "#continue",
		PasswordSelector:  "#ap_password",
		SubmitSelector:    "#signInSubmit",
		GreetingSelector:  "#glow-ingress-line1",
		SignedOutGreeting: "こんにちは",
	}
}

// Session owns the sign-in state of one browser.
type Session struct {
	browser browser.Browser
	creds   Credentials
	layout  Layout
}

// New binds credentials to a browser.
func New(b browser.Browser, creds Credentials, layout Layout) *Session {
	return &Session{browser: b, creds: creds, layout: layout}
}

// Login signs out first so residue from an earlier run cannot leak into
// this one, then submits the credential form and lands on the home page.
func (s *Session) Login(ctx context.Context) error {
	if s.creds.Email == "" || s.creds.Password == "" {
		return ErrMissingCredentials
	}
	if err := s.Logout(ctx); err != nil {
		return err
	}
	if err := s.browser.Navigate(ctx, s.layout.LoginURL); err != nil {
		return fmt.Errorf("open sign-in page: %w", err)
	}

	if err := s.fill(ctx, s.layout.EmailSelector, s.creds.Email); err != nil {
		return err
	}
	// Some sign-in pages ask for email and password on one form.
	if s.layout.ContinueSelector != "" {
		cont, err := s.browser.Find(ctx, nil, s.layout.ContinueSelector)
		switch {
		case err == nil:
			if err := s.browser.Click(ctx, cont); err != nil {
				return fmt.Errorf("submit email: %w", err)
			}
		case !browser.IsAbsent(err):
			return fmt.Errorf("find continue button: %w", err)
		}
	}

	if err := s.fill(ctx, s.layout.PasswordSelector, s.creds.Password); err != nil {
		return err
	}
	submit, err := s.browser.Find(ctx, nil, s.layout.SubmitSelector)
	if err != nil {
		return fmt.Errorf("find sign-in button: %w", err)
	}
	if err := s.browser.Click(ctx, submit); err != nil {
		return fmt.Errorf("submit password: %w", err)
	}

	if err := s.browser.Navigate(ctx, s.layout.HomeURL); err != nil {
		return fmt.Errorf("open home page: %w", err)
	}
	signedIn, err := s.SignedIn(ctx)
	if err != nil {
		return err
	}
	if !signedIn {
		return ErrLoginFailed
	}
	slog.Debug("signed in", slog.String("email", maskEmail(s.creds.Email)))
	return nil
}

// Logout visits the sign-out page.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.browser.Navigate(ctx, s.layout.LogoutURL); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// SignedIn inspects the greeting on the current page. A page without a
// greeting is assumed signed in.
func (s *Session) SignedIn(ctx context.Context) (bool, error) {
	if s.layout.GreetingSelector == "" {
		return true, nil
	}
	el, err := s.browser.Find(ctx, nil, s.layout.GreetingSelector)
	if browser.IsAbsent(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("find greeting: %w", err)
	}
	text, err := s.browser.Text(ctx, el)
	if err != nil {
		return false, fmt.Errorf("read greeting: %w", err)
	}
	return strings.TrimSpace(text) != s.layout.SignedOutGreeting, nil
}

// Greeting returns the greeting text of the current page.
func (s *Session) Greeting(ctx context.Context) (string, error) {
	el, err := s.browser.Find(ctx, nil, s.layout.GreetingSelector)
	if err != nil {
		return "", fmt.Errorf("find greeting: %w", err)
	}
	return s.browser.Text(ctx, el)
}

func (s *Session) fill(ctx context.Context, selector, value string) error {
	field, err := s.browser.Find(ctx, nil, selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	if err := s.browser.Type(ctx, field, value); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

func signInQuery(base string) string {
	const identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"
	q := url.Values{}
	q.Set("openid.pape.max_auth_age", "0")
	q.Set("openid.return_to", base+"/gp/css/homepage.html")
	q.Set("openid.identity", identifierSelect)
	q.Set("openid.claimed_id", identifierSelect)
	q.Set("openid.assoc_handle", "jpflex")
	q.Set("openid.mode", "checkid_setup")
	q.Set("openid.ns", "http://specs.openid.net/auth/2.0")
	q.Set("ignoreAuthState", "1")
	return q.Encode()
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
