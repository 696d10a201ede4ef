package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/aluiziolira/bookcrawl/config"
	"github.com/aluiziolira/bookcrawl/models"
	"github.com/aluiziolira/bookcrawl/parser"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// RecordSink receives the records of each page.
type RecordSink interface {
	Process(books ...models.Book) error
}

// Crawler walks the catalogue one page at a time: fetch, extract, hand the
// records to the sink, pause, then move to the next page.
type Crawler struct {
	cfg       *config.Config
	fetcher   *Fetcher
	extractor *parser.Extractor
	Metrics   *Metrics

	sleep  sleepFunc
	jitter func(min, max time.Duration) time.Duration

	skipped      int
	failedURLs   []string
	errorsByType map[string]int
}

// NewCrawler builds a crawler configured from cfg.
func NewCrawler(cfg *config.Config) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}

	c := &Crawler{
		cfg:          cfg,
		fetcher:      fetcher,
		Metrics:      metrics,
		sleep:        sleepContext,
		jitter:       uniformDelay,
		errorsByType: make(map[string]int),
	}
	c.extractor = parser.NewExtractor(cfg.CurrencyPrefixes, c.recordSkip)
	return c, nil
}

// crawlState is owned by a single Run.
type crawlState struct {
	url     string
	page    int
	visited int
	seen    *lru.Cache[string, int]
}

// Run crawls until a stop condition and returns the summary. The error is
// non-nil only when the sink rejects records or ctx ends; the result is
// returned either way.
func (c *Crawler) Run(ctx context.Context, sink RecordSink) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer c.fetcher.Close()

	c.skipped = 0
	c.failedURLs = nil
	c.errorsByType = make(map[string]int)
	requestsBefore, retriesBefore := c.fetcher.Requests(), c.fetcher.Retries()

	seen, err := lru.New[string, int](c.cfg.VisitedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("visited cache: %w", err)
	}

	result := &models.CrawlResult{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	logger := slog.With(slog.String("run_id", result.RunID))
	logger.Info("crawl started",
		slog.String("mode", c.cfg.Mode),
		slog.String("start_url", c.cfg.FirstPageURL()),
		slog.Int("max_pages", c.cfg.MaxPages),
		slog.String("on_fetch_error", c.cfg.OnFetchError),
	)

	state := &crawlState{url: c.cfg.FirstPageURL(), page: 1, seen: seen}
	reason, runErr := c.loop(ctx, logger, state, sink, result)

	result.EndTime = time.Now()
	result.StopReason = reason
	result.PagesAttempted = state.visited
	result.RequestCount = c.fetcher.Requests() - requestsBefore
	result.RetryCount = c.fetcher.Retries() - retriesBefore
	result.SkippedCount = c.skipped
	result.FailedURLs = append([]string(nil), c.failedURLs...)
	result.ErrorsByType = make(map[string]int, len(c.errorsByType))
	for k, v := range c.errorsByType {
		result.ErrorsByType[k] = v
		result.ErrorCount += v
	}

	logger.Info("crawl finished",
		slog.String("stop_reason", string(reason)),
		slog.Int("pages", result.PageCount),
		slog.Int("records", result.RecordCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Duration("duration", result.Duration()),
	)
	return result, runErr
}

func (c *Crawler) loop(ctx context.Context, logger *slog.Logger, state *crawlState, sink RecordSink, result *models.CrawlResult) (models.StopReason, error) {
	for {
		if c.limitReached(state) {
			return models.StopPageLimit, nil
		}
		if err := ctx.Err(); err != nil {
			return models.StopCancelled, err
		}
		if first, ok := state.seen.Get(state.url); ok {
			logger.Warn("pagination cycle detected",
				slog.String("url", state.url),
				slog.Int("first_seen_page", first),
			)
			return models.StopCycle, nil
		}
		state.seen.Add(state.url, state.page)

		logger.Debug("fetching page", slog.Int("page", state.page), slog.String("url", state.url))
		state.visited++
		content, err := c.fetcher.Fetch(ctx, state.url)
		if err != nil {
			if ctx.Err() != nil {
				return models.StopCancelled, ctx.Err()
			}
			c.recordFailure(state.url, err)
			c.Metrics.IncPage("failed")
			logger.Error("page fetch failed",
				slog.Int("page", state.page),
				slog.String("url", state.url),
				slog.Any("error", err),
			)
			// A failed page in follow mode has no next link to go on with.
			if c.cfg.OnFetchError == config.OnFetchErrorStop || c.cfg.Mode == config.ModeFollow {
				return models.StopFetchFailed, nil
			}
			if c.limitReached(state) {
				return models.StopPageLimit, nil
			}
			c.advanceTemplate(state)
			if err := c.pause(ctx); err != nil {
				return models.StopCancelled, err
			}
			continue
		}

		page, books, err := c.extract(content, state.page)
		if err != nil {
			c.Metrics.IncPage("unparseable")
			logger.Error("page parse failed", slog.String("url", state.url), slog.Any("error", err))
			return models.StopNoRecords, nil
		}
		result.PageCount++
		if len(books) == 0 {
			c.Metrics.IncPage("empty")
			logger.Info("no books found, stopping", slog.Int("page", state.page), slog.String("url", state.url))
			return models.StopNoRecords, nil
		}
		c.Metrics.IncPage("fetched")

		if err := sink.Process(books...); err != nil {
			return models.StopSinkFailed, fmt.Errorf("sink: %w", err)
		}
		result.RecordCount += len(books)
		c.Metrics.AddItems(len(books))
		logger.Info("page scraped",
			slog.Int("page", state.page),
			slog.Int("books", len(books)),
			slog.Int("total", result.RecordCount),
		)

		if c.limitReached(state) {
			return models.StopPageLimit, nil
		}

		if c.cfg.Mode == config.ModeTemplate {
			c.advanceTemplate(state)
		} else {
			next, ok := nextLink(page, content.URL)
			if !ok {
				return models.StopNoNextLink, nil
			}
			state.url = next
			state.page++
		}

		if err := c.pause(ctx); err != nil {
			return models.StopCancelled, err
		}
	}
}

// extract parses one page and stamps its records with the page number.
func (c *Crawler) extract(content *PageContent, pageNum int) (*parser.Page, []models.Book, error) {
	page, err := c.extractor.Parse(content.Body)
	if err != nil {
		return nil, nil, err
	}

	var books []models.Book
	for book := range page.Books() {
		book.Page = pageNum
		books = append(books, book)
	}
	return page, books, nil
}

// nextLink resolves the page's "next" href against the URL it was served from.
func nextLink(page *parser.Page, base *url.URL) (string, bool) {
	href, ok := page.NextLink()
	if !ok {
		return "", false
	}
	ref, err := base.Parse(href)
	if err != nil {
		slog.Warn("unusable next link", slog.String("href", href), slog.Any("error", err))
		return "", false
	}
	return ref.String(), true
}

func (c *Crawler) limitReached(state *crawlState) bool {
	return c.cfg.Limited() && state.visited >= c.cfg.MaxPages
}

func (c *Crawler) advanceTemplate(state *crawlState) {
	state.page++
	state.url = c.cfg.PageURL(state.page)
}

// pause is the politeness delay between two page fetches.
func (c *Crawler) pause(ctx context.Context) error {
	delay := c.jitter(c.cfg.DelayMin, c.cfg.DelayMax)
	slog.Debug("politeness delay", slog.Duration("delay", delay))
	return c.sleep(ctx, delay)
}

func (c *Crawler) recordSkip(err error) {
	c.skipped++
	reason := parser.SkipReason(err)
	c.Metrics.IncSkipped(reason)
	slog.Warn("skipping listing", slog.String("reason", reason), slog.Any("error", err))
}

func (c *Crawler) recordFailure(url string, err error) {
	label := "other"
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		label = errorTypeLabel(fetchErr.Err)
	}
	c.errorsByType[label]++
	c.failedURLs = append(c.failedURLs, url)
}

func uniformDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}
