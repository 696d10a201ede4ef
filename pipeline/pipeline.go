package pipeline

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/aluiziolira/bookcrawl/models"
	"github.com/aluiziolira/bookcrawl/parser"
)

var (
	// ErrSinkClosed is returned when Process is called after Close.
	ErrSinkClosed = errors.New("pipeline: sink closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(books []models.Book) error
	Close() error
	Validate() error
}

// Sink collects records across pages, drops those that break the output
// invariants and writes the rest to an OutputWriter in batches.
type Sink struct {
	writer    OutputWriter
	batch     []models.Book
	batchSize int

	written int
	metrics metrics

	closed bool
	err    error
}

// NewSink builds a sink flushing every batchSize records.
func NewSink(writer OutputWriter, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Sink{
		writer:    writer,
		batch:     make([]models.Book, 0, batchSize),
		batchSize: batchSize,
		metrics:   newMetrics(),
	}
}

// Process accepts records in order. Once a write fails the sink keeps
// returning that error.
func (s *Sink) Process(books ...models.Book) error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return ErrSinkClosed
	}

	for _, book := range books {
		if err := parser.ValidateBook(&book); err != nil {
			s.metrics.addValidation(parser.SkipReason(err))
			slog.Warn("dropping invalid record", slog.String("title", book.Title), slog.Any("error", err))
			continue
		}
		s.batch = append(s.batch, book)
		if len(s.batch) >= s.batchSize {
			if err := s.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes any buffered records.
func (s *Sink) Flush() error {
	if s.err != nil {
		return s.err
	}
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.writer.Write(s.batch); err != nil {
		s.err = fmt.Errorf("write batch: %w", err)
		return s.err
	}
	s.written += len(s.batch)
	s.metrics.addProcessed(len(s.batch))
	s.batch = s.batch[:0]
	return nil
}

// Close flushes what is left and closes the writer. The writer is closed
// even when the final flush fails.
func (s *Sink) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true

	flushErr := s.Flush()
	closeErr := s.writer.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		s.err = fmt.Errorf("close writer: %w", closeErr)
		return s.err
	}
	return nil
}

// Count is the number of rows written so far.
func (s *Sink) Count() int {
	return s.written
}

// Err returns the first write error.
func (s *Sink) Err() error {
	return s.err
}

// GetMetrics returns a snapshot of the internal counters.
func (s *Sink) GetMetrics() map[string]interface{} {
	return s.metrics.snapshot()
}

// WriteAll drains books into writer, closes it and returns the number of
// rows written.
func WriteAll(writer OutputWriter, books iter.Seq[models.Book], batchSize int) (int, error) {
	sink := NewSink(writer, batchSize)
	for book := range books {
		if err := sink.Process(book); err != nil {
			sink.Close()
			return sink.Count(), err
		}
	}
	if err := sink.Close(); err != nil {
		return sink.Count(), err
	}
	return sink.Count(), nil
}

type metrics struct {
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addProcessed(n int) {
	m.processed += int64(n)
}

func (m *metrics) addValidation(kind string) {
	m.validation[kind]++
}

func (m *metrics) snapshot() map[string]interface{} {
	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_books":   m.processed,
		"validation_errors": copyValidation,
	}
}
