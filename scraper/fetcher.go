package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/bookcrawl/config"
	"github.com/gocolly/colly/v2"
)

const (
	ctxStart    = "start"
	ctxBody     = "body"
	ctxStatus   = "status"
	ctxHeader   = "header"
	ctxFinalURL = "final_url"
)

// PageContent is the raw body of one fetched page.
type PageContent struct {
	URL        *url.URL
	StatusCode int
	Body       []byte
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher issues GET requests through one colly collector, retrying transient
// failures according to a RetryPolicy. It is not safe for concurrent use.
type Fetcher struct {
	collector *colly.Collector
	transport http.RoundTripper
	policy    config.RetryPolicy
	metrics   *Metrics
	sleep     sleepFunc

	requests int
	retries  int
}

// NewFetcher builds a fetcher restricted to the configured host.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	collector.WithTransport(transport)

	f := &Fetcher{
		collector: collector,
		transport: transport,
		policy:    cfg.Retry,
		metrics:   metrics,
		sleep:     sleepContext,
	}
	f.registerCallbacks()
	return f, nil
}

// WithTransport swaps the HTTP round tripper, e.g. for a mock.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
	f.transport = rt
}

// Fetch GETs rawURL, retrying retryable failures. A returned error is a
// *FetchError unless ctx ended first.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, status, header, err := f.do(rawURL)
		if err == nil {
			return page, nil
		}

		classified := classifyError(err, status)
		f.metrics.IncError(errorTypeLabel(classified))

		if attempt > f.policy.MaxRetries || !f.retryable(classified, status) {
			return nil, &FetchError{URL: rawURL, StatusCode: status, Attempts: attempt, Err: classified}
		}

		delay := f.backoff(attempt)
		if wait, ok := retryAfter(header, status); ok && wait > delay {
			delay = wait
			if max := f.policy.BackoffMax; max > 0 && delay > max {
				delay = max
			}
		}

		f.retries++
		f.metrics.IncRetries()
		slog.Warn("retrying page",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Int("status", status),
			slog.Duration("delay", delay),
			slog.Any("error", classified),
		)

		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Requests is the number of HTTP attempts made so far, retries included.
func (f *Fetcher) Requests() int {
	return f.requests
}

// Retries is the number of retries scheduled so far.
func (f *Fetcher) Retries() int {
	return f.retries
}

// Close releases idle connections held by the transport.
func (f *Fetcher) Close() {
	if closer, ok := f.transport.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

func (f *Fetcher) registerCallbacks() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.PutAny(ctxStart, time.Now())
		f.metrics.IncRequest("started")
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.PutAny(ctxBody, r.Body)
		r.Ctx.PutAny(ctxStatus, r.StatusCode)
		if r.Request != nil && r.Request.URL != nil {
			r.Ctx.PutAny(ctxFinalURL, r.Request.URL)
		}
		f.observe(r.Ctx)
		f.metrics.IncRequest("succeeded")
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.PutAny(ctxStatus, r.StatusCode)
		if r.Headers != nil {
			r.Ctx.PutAny(ctxHeader, r.Headers.Clone())
		}
		f.observe(r.Ctx)
		f.metrics.IncRequest("failed")
	})
}

func (f *Fetcher) observe(ctx *colly.Context) {
	if start, ok := ctx.GetAny(ctxStart).(time.Time); ok {
		f.metrics.ObserveDuration(time.Since(start))
	}
}

func (f *Fetcher) do(rawURL string) (*PageContent, int, http.Header, error) {
	f.requests++

	reqCtx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, rawURL, nil, reqCtx, nil)
	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if err != nil {
		header, _ := reqCtx.GetAny(ctxHeader).(http.Header)
		return nil, status, header, err
	}

	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	final, _ := reqCtx.GetAny(ctxFinalURL).(*url.URL)
	if final == nil {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return nil, status, nil, fmt.Errorf("parse url: %w", err)
		}
		final = parsed
	}
	return &PageContent{URL: final, StatusCode: status, Body: body}, status, nil, nil
}

func (f *Fetcher) retryable(err error, status int) bool {
	if status != 0 {
		return slices.Contains(f.policy.RetryableStatuses, status)
	}
	return connectionLevel(err)
}

// backoff returns the wait before the given 1-based retry. The first retry
// is immediate, later ones wait BackoffFactor * 2^(retry-1), capped at
// BackoffMax.
func (f *Fetcher) backoff(retry int) time.Duration {
	if retry <= 1 {
		return 0
	}

	base := f.policy.BackoffFactor
	if base <= 0 {
		return 0
	}

	max := f.policy.BackoffMax
	delay := base
	for i := 1; i < retry; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// retryAfter reads a Retry-After header on throttling responses. Both the
// delta-seconds and HTTP-date forms are accepted.
func retryAfter(header http.Header, status int) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable && status != http.StatusRequestEntityTooLarge {
		return 0, false
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		wait := time.Until(when)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
