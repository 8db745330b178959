// Package webdriver implements browser.Browser as a client of a W3C
// WebDriver endpoint such as Selenium or chromedriver.
package webdriver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/go-resty/resty/v2"
)

// elementKey is the W3C web element identifier.
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

// Options configures a session.
type Options struct {
	// Endpoint is the WebDriver server, e.g. http://localhost:4444.
	Endpoint string
	// UserDataDir points Chrome at a persistent profile directory.
	UserDataDir string
	Headless    bool
	Timeout     time.Duration
}

// Browser is one WebDriver session.
type Browser struct {
	http      *resty.Client
	sessionID string
}

type element struct {
	id string
}

var _ browser.Browser = (*Browser)(nil)

// Error is a WebDriver error response.
type Error struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("webdriver %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps WebDriver error codes onto the browser sentinels.
func (e *Error) Unwrap() error {
	switch e.Code {
	case "no such element":
		return browser.ErrNoSuchElement
	case "stale element reference":
		return browser.ErrStaleElement
	case "element not interactable", "element click intercepted":
		return browser.ErrNotClickable
	case "invalid session id":
		return browser.ErrClosed
	}
	return nil
}

type envelope struct {
	Value any `json:"value"`
}

// New opens a session on the WebDriver server.
func New(ctx context.Context, opts Options) (*Browser, error) {
	client := resty.New()
	return newWithClient(ctx, client, opts)
}

func newWithClient(ctx context.Context, client *resty.Client, opts Options) (*Browser, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("webdriver endpoint cannot be empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	client.SetBaseURL(strings.TrimSuffix(opts.Endpoint, "/"))
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Content-Type", "application/json")

	b := &Browser{http: client}

	var args []string
	if opts.UserDataDir != "" {
		args = append(args, "--user-data-dir="+opts.UserDataDir)
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	caps := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName":        "chrome",
				"goog:chromeOptions": map[string]any{"args": args},
			},
		},
	}

	var created struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := b.do(ctx, http.MethodPost, "/session", caps, &created); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created.Value.SessionID == "" {
		return nil, errors.New("create session: empty session id")
	}
	b.sessionID = created.Value.SessionID
	return b, nil
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.do(ctx, http.MethodPost, b.path("/url"), map[string]string{"url": url}, nil)
}

func (b *Browser) FindAll(ctx context.Context, scope browser.Element, selector string) ([]browser.Element, error) {
	path, err := b.findPath(scope, "/elements")
	if err != nil {
		return nil, err
	}
	var res struct {
		Value []map[string]string `json:"value"`
	}
	if err := b.do(ctx, http.MethodPost, path, locator(selector), &res); err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(res.Value))
	for _, ref := range res.Value {
		out = append(out, &element{id: ref[elementKey]})
	}
	return out, nil
}

func (b *Browser) Find(ctx context.Context, scope browser.Element, selector string) (browser.Element, error) {
	path, err := b.findPath(scope, "/element")
	if err != nil {
		return nil, err
	}
	var res struct {
		Value map[string]string `json:"value"`
	}
	if err := b.do(ctx, http.MethodPost, path, locator(selector), &res); err != nil {
		return nil, fmt.Errorf("%q: %w", selector, err)
	}
	return &element{id: res.Value[elementKey]}, nil
}

func (b *Browser) Text(ctx context.Context, el browser.Element) (string, error) {
	e, err := handle(el)
	if err != nil {
		return "", err
	}
	var res struct {
		Value string `json:"value"`
	}
	if err := b.do(ctx, http.MethodGet, b.path("/element/"+e.id+"/text"), nil, &res); err != nil {
		return "", err
	}
	return res.Value, nil
}

func (b *Browser) Attribute(ctx context.Context, el browser.Element, name string) (string, bool, error) {
	e, err := handle(el)
	if err != nil {
		return "", false, err
	}
	var res struct {
		Value *string `json:"value"`
	}
	if err := b.do(ctx, http.MethodGet, b.path("/element/"+e.id+"/attribute/"+name), nil, &res); err != nil {
		return "", false, err
	}
	if res.Value == nil {
		return "", false, nil
	}
	return *res.Value, true, nil
}

func (b *Browser) Click(ctx context.Context, el browser.Element) error {
	e, err := handle(el)
	if err != nil {
		return err
	}
	return b.do(ctx, http.MethodPost, b.path("/element/"+e.id+"/click"), map[string]any{}, nil)
}

func (b *Browser) Type(ctx context.Context, el browser.Element, text string) error {
	e, err := handle(el)
	if err != nil {
		return err
	}
	return b.do(ctx, http.MethodPost, b.path("/element/"+e.id+"/value"), map[string]string{"text": text}, nil)
}

func (b *Browser) Back(ctx context.Context) error {
	return b.do(ctx, http.MethodPost, b.path("/back"), map[string]any{}, nil)
}

func (b *Browser) Title(ctx context.Context) (string, error) {
	var res struct {
		Value string `json:"value"`
	}
	if err := b.do(ctx, http.MethodGet, b.path("/title"), nil, &res); err != nil {
		return "", err
	}
	return res.Value, nil
}

// Close deletes the session, which quits the browser process.
func (b *Browser) Close() error {
	if b.sessionID == "" {
		return nil
	}
	err := b.do(context.Background(), http.MethodDelete, b.path(""), nil, nil)
	b.sessionID = ""
	return err
}

func (b *Browser) path(suffix string) string {
	return "/session/" + b.sessionID + suffix
}

func (b *Browser) findPath(scope browser.Element, suffix string) (string, error) {
	if scope == nil {
		return b.path(suffix), nil
	}
	e, err := handle(scope)
	if err != nil {
		return "", err
	}
	return b.path("/element/" + e.id + suffix), nil
}

func (b *Browser) do(ctx context.Context, method, path string, body, out any) error {
	if b.sessionID == "" && path != "/session" {
		return browser.ErrClosed
	}

	req := b.http.R().SetContext(ctx).SetError(&envelope{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.IsError() {
		return decodeError(res)
	}
	return nil
}

func decodeError(res *resty.Response) error {
	wdErr := &Error{Status: res.StatusCode()}
	if env, ok := res.Error().(*envelope); ok {
		if fields, ok := env.Value.(map[string]any); ok {
			wdErr.Code, _ = fields["error"].(string)
			wdErr.Message, _ = fields["message"].(string)
		}
	}
	if wdErr.Code == "" {
		wdErr.Code = "unknown error"
		wdErr.Message = strings.TrimSpace(res.String())
	}
	return wdErr
}

func locator(selector string) map[string]string {
	return map[string]string{"using": "css selector", "value": selector}
}

func handle(el browser.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e == nil || e.id == "" {
		return nil, fmt.Errorf("foreign element handle %T", el)
	}
	return e, nil
}
