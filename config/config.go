package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-order-history/models"
)

// Browser drivers.
const (
	DriverHTTP      = "http"
	DriverWebDriver = "webdriver"
	DriverRod       = "rod"
)

// Config holds extractor configuration.
type Config struct {
	BaseURL      string
	Driver       string // http, webdriver, or rod
	WebDriverURL string
	ProfileRoot  string
	Profile      string
	Headless     bool
	Timeout      time.Duration
	UserAgent    string

	Email    string
	Password string

	Start      string // YYYY-MM-DD
	End        string // YYYY-MM-DD
	DateLayout string

	MaxPages        int // per year; 0 means unlimited
	DedupeMaxSize   int
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	PipelineBufferSize int
	BatchSize          int
	OutputFile         string
	OutputFormat       string // csv, json, dual, or sqlite

	Verbose     bool
	MetricsAddr string
}

// DefaultConfig returns defaults for the Japanese storefront.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.amazon.co.jp",
		Driver:             DriverWebDriver,
		WebDriverURL:       "http://localhost:4444",
		ProfileRoot:        "profiles",
		Profile:            "default",
		Headless:           true,
		Timeout:            30 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		DateLayout:         "2006年1月2日",
		MaxPages:           0,
		DedupeMaxSize:      4096,
		MaxRetries:         0,
		RetryBackoff:       5 * time.Second,
		RetryBackoffMax:    time.Minute,
		PipelineBufferSize: 512,
		BatchSize:          64,
		OutputFile:         "output/purchases.csv",
		OutputFormat:       "csv",
		Verbose:            false,
		MetricsAddr:        "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	switch c.Driver {
	case DriverHTTP, DriverRod:
	case DriverWebDriver:
		if c.WebDriverURL == "" {
			return fmt.Errorf("webdriver URL cannot be empty")
		}
	default:
		return fmt.Errorf("driver must be http, webdriver, or rod")
	}
	if c.Driver != DriverHTTP && strings.ContainsAny(c.Profile, `/\`) {
		return fmt.Errorf("profile must be a plain directory name")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DateLayout == "" {
		return fmt.Errorf("date layout cannot be empty")
	}
	if c.Start != "" || c.End != "" {
		if _, err := c.DateRange(); err != nil {
			return err
		}
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// DateRange parses Start and End into a range.
func (c *Config) DateRange() (models.DateRange, error) {
	if c.Start == "" || c.End == "" {
		return models.DateRange{}, fmt.Errorf("start and end dates are both required")
	}
	r, err := models.ParseDateRange(c.Start, c.End)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("invalid date range: %w", err)
	}
	return r, nil
}

// Backoff returns the wait before retry attempt n (1-based), doubling from
// RetryBackoff and capped at RetryBackoffMax.
func (c *Config) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := c.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := c.RetryBackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}
