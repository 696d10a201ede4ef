package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Crawl modes.
const (
	ModeFollow   = "follow"
	ModeTemplate = "template"
)

// Fetch failure policies.
const (
	OnFetchErrorStop = "stop"
	OnFetchErrorSkip = "skip"
)

// NoPageLimit disables the page ceiling.
const NoPageLimit = -1

// RetryPolicy controls how the fetcher retries a failed GET.
type RetryPolicy struct {
	MaxRetries        int
	BackoffFactor     time.Duration
	BackoffMax        time.Duration
	RetryableStatuses []int
}

// DefaultRetryPolicy retries three times on throttling and gateway errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		BackoffFactor: 300 * time.Millisecond,
		BackoffMax:    120 * time.Second,
		RetryableStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Config holds crawler configuration.
type Config struct {
	BaseURL          string
	Mode             string // follow or template
	FirstPagePath    string
	PageTemplate     string // printf pattern taking the page number
	MaxPages         int
	OnFetchError     string // stop or skip
	DelayMin         time.Duration
	DelayMax         time.Duration
	Timeout          time.Duration
	Retry            RetryPolicy
	CurrencyPrefixes []string
	OutputFile       string
	OutputFormat     string // csv, json, or dual
	DetailedColumns  bool
	BatchSize        int
	VisitedCacheSize int
	UserAgent        string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string
}

// DefaultConfig returns the follow-the-next-link preset: whole site, stop on
// the first failed page.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://books.toscrape.com",
		Mode:             ModeFollow,
		FirstPagePath:    "index.html",
		PageTemplate:     "catalogue/page-%d.html",
		MaxPages:         NoPageLimit,
		OnFetchError:     OnFetchErrorStop,
		DelayMin:         400 * time.Millisecond,
		DelayMax:         1200 * time.Millisecond,
		Timeout:          10 * time.Second,
		Retry:            DefaultRetryPolicy(),
		CurrencyPrefixes: []string{"Â£", "£"},
		OutputFile:       "books_titles_prices.csv",
		OutputFormat:     "csv",
		BatchSize:        64,
		VisitedCacheSize: 1024,
		UserAgent:        "Mozilla/5.0 (compatible; Bot/0.1)",
	}
}

// TemplateConfig returns the page-numbered preset: a fixed number of pages,
// failed pages skipped, numeric rating and page columns in the output.
func TemplateConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeTemplate
	cfg.MaxPages = 50
	cfg.OnFetchError = OnFetchErrorSkip
	cfg.DelayMin = 500 * time.Millisecond
	cfg.DelayMax = 1500 * time.Millisecond
	cfg.OutputFile = "books.csv"
	cfg.DetailedColumns = true
	return cfg
}

// Preset returns the defaults for a crawl mode. Unknown modes fall back to
// DefaultConfig with the mode recorded so Validate can reject it.
func Preset(mode string) *Config {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeFollow:
		return DefaultConfig()
	case ModeTemplate:
		return TemplateConfig()
	default:
		cfg := DefaultConfig()
		cfg.Mode = mode
		return cfg
	}
}

// Limited reports whether a page ceiling is configured.
func (c *Config) Limited() bool {
	return c.MaxPages >= 0
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
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https")
	}

	if c.Mode != ModeFollow && c.Mode != ModeTemplate {
		return fmt.Errorf("mode must be follow or template")
	}
	if c.FirstPagePath == "" {
		return fmt.Errorf("first page path cannot be empty")
	}
	if c.Mode == ModeTemplate && !strings.Contains(c.PageTemplate, "%d") {
		return fmt.Errorf("page template must contain %%d")
	}
	if c.OnFetchError != OnFetchErrorStop && c.OnFetchError != OnFetchErrorSkip {
		return fmt.Errorf("on-fetch-error must be stop or skip")
	}
	if c.Mode == ModeTemplate && c.OnFetchError == OnFetchErrorSkip && !c.Limited() {
		return fmt.Errorf("max pages is required when template mode skips failed pages")
	}
	if c.DelayMin < 0 || c.DelayMax < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.DelayMin > c.DelayMax {
		return fmt.Errorf("delay min (%s) cannot exceed delay max (%s)", c.DelayMin, c.DelayMax)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Retry.BackoffFactor < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.Retry.BackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.Retry.BackoffMax > 0 && c.Retry.BackoffFactor > c.Retry.BackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.Retry.BackoffFactor, c.Retry.BackoffMax)
	}
	for _, code := range c.Retry.RetryableStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("retryable status %d is not an HTTP status", code)
		}
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.VisitedCacheSize <= 0 {
		return fmt.Errorf("visited cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// FirstPageURL is where every crawl starts.
func (c *Config) FirstPageURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(c.FirstPagePath, "/")
}

// PageURL builds the templated URL for a 1-based page number. Page 1 is
// always the first page URL.
func (c *Config) PageURL(page int) string {
	if page <= 1 {
		return c.FirstPageURL()
	}
	path := fmt.Sprintf(c.PageTemplate, page)
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
