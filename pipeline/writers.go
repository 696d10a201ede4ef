package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aluiziolira/bookcrawl/models"
	"github.com/aluiziolira/bookcrawl/parser"
)

var (
	// BasicHeader is the default CSV layout.
	BasicHeader = []string{"title", "price", "rating"}
	// DetailedHeader adds the numeric rating and the page number.
	DetailedHeader = []string{"title", "price", "rating", "rating_value", "page"}
)

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file     *os.File
	writer   *csv.Writer
	detailed bool
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string, detailed bool) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := BasicHeader
	if detailed {
		header = DetailedHeader
	}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:     f,
		writer:   writer,
		detailed: detailed,
	}, nil
}

// Write appends books to the CSV output.
func (cw *CSVWriter) Write(books []models.Book) error {
	for _, book := range books {
		if err := cw.writer.Write(cw.record(book)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func (cw *CSVWriter) record(book models.Book) []string {
	record := []string{
		book.Title,
		parser.FormatPrice(book.Price),
		book.Rating,
	}
	if !cw.detailed {
		return record
	}

	ratingValue := ""
	if book.RatingValue > 0 {
		ratingValue = strconv.Itoa(book.RatingValue)
	}
	return append(record, ratingValue, strconv.Itoa(book.Page))
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file at least holds the header.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends books in JSONL format.
func (jw *JSONWriter) Write(books []models.Book) error {
	for _, book := range books {
		if err := jw.encoder.Encode(jsonRecord(book)); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file exists. An empty file is a valid crawl of
// zero records.
func (jw *JSONWriter) Validate() error {
	if _, err := os.Stat(jw.file.Name()); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

// jsonRecord keeps the two-decimal price of the CSV output.
func jsonRecord(book models.Book) any {
	return struct {
		models.Book
		Price json.Number `json:"price"`
	}{
		Book:  book,
		Price: json.Number(parser.FormatPrice(book.Price)),
	}
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
