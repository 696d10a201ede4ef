// Package models defines data structures for the crawler.
package models

import "time"

// RatingLabels lists the star-rating class words used by the catalogue, in
// ascending order.
var RatingLabels = [...]string{"One", "Two", "Three", "Four", "Five"}

// Book represents one listing card extracted from a catalogue page.
type Book struct {
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Rating      string  `json:"rating"`
	RatingValue int     `json:"rating_value,omitempty"`
	Page        int     `json:"page"`
}

// StopReason records why a crawl ended.
type StopReason string

const (
	StopNoRecords   StopReason = "no_records"
	StopNoNextLink  StopReason = "no_next_link"
	StopPageLimit   StopReason = "page_limit"
	StopFetchFailed StopReason = "fetch_failed"
	StopCycle       StopReason = "cycle"
	StopCancelled   StopReason = "cancelled"
	StopSinkFailed  StopReason = "sink_failed"
)

// CrawlResult holds the overall result of a crawl.
type CrawlResult struct {
	RunID          string
	StartTime      time.Time
	EndTime        time.Time
	PagesAttempted int
	PageCount      int
	RequestCount   int
	RetryCount     int
	RecordCount    int
	SkippedCount   int
	ErrorCount     int
	FailedURLs     []string
	ErrorsByType   map[string]int
	StopReason     StopReason
}

// Duration is the wall time spent crawling.
func (r *CrawlResult) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
