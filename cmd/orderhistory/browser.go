package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aluiziolira/go-order-history/browser"
	"github.com/aluiziolira/go-order-history/browser/httpbrowser"
	"github.com/aluiziolira/go-order-history/browser/rodbrowser"
	"github.com/aluiziolira/go-order-history/browser/webdriver"
	"github.com/aluiziolira/go-order-history/config"
)

// openBrowser starts the configured backend. Tests replace it to serve
// fixture pages.
var openBrowser = func(ctx context.Context, cfg *config.Config) (browser.Browser, error) {
	switch cfg.Driver {
	case config.DriverHTTP:
		return httpbrowser.New(httpbrowser.Options{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
		})
	case config.DriverWebDriver:
		dir, err := profileDir(cfg)
		if err != nil {
			return nil, err
		}
		return webdriver.New(ctx, webdriver.Options{
			Endpoint:    cfg.WebDriverURL,
			UserDataDir: dir,
			Headless:    cfg.Headless,
			Timeout:     cfg.Timeout,
		})
	case config.DriverRod:
		root := cfg.ProfileRoot
		if cfg.Profile != "" {
			abs, err := filepath.Abs(root)
			if err != nil {
				return nil, fmt.Errorf("resolve profile root: %w", err)
			}
			root = abs
		}
		return rodbrowser.Launch(ctx, rodbrowser.Options{
			ProfileRoot: root,
			Profile:     cfg.Profile,
			Headless:    cfg.Headless,
		})
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// profileDir returns the absolute user data directory of the profile, or ""
// for a throwaway profile. Chrome resolves relative paths against its own
// working directory, not ours.
func profileDir(cfg *config.Config) (string, error) {
	if cfg.Profile == "" {
		return "", nil
	}
	dir, err := filepath.Abs(filepath.Join(cfg.ProfileRoot, cfg.Profile))
	if err != nil {
		return "", fmt.Errorf("resolve profile directory: %w", err)
	}
	return dir, nil
}
