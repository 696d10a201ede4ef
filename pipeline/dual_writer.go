// Package pipeline buffers extracted records and writes them as CSV or JSONL.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/bookcrawl/models"
)

// DualWriter writes the same rows to a CSV file and a JSONL file.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
}

// NewDualWriter creates both outputs. The CSV handle is closed again if the
// JSON file cannot be created.
func NewDualWriter(csvFilename, jsonFilename string, detailed bool) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename, detailed)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write sends books to both outputs, CSV first.
func (dw *DualWriter) Write(books []models.Book) error {
	if err := dw.csvWriter.Write(books); err != nil {
		return fmt.Errorf("csv write failed: %w", err)
	}
	if err := dw.jsonWriter.Write(books); err != nil {
		return fmt.Errorf("json write failed: %w", err)
	}
	return nil
}

// Close closes both writers and joins their errors.
func (dw *DualWriter) Close() error {
	var errs []error
	if err := dw.csvWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv close failed: %w", err))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("json close failed: %w", err))
	}
	return errors.Join(errs...)
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csvWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("csv validation failed: %w", err))
	}
	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("json validation failed: %w", err))
	}
	return errors.Join(errs...)
}

// JSONPath derives the JSONL sibling of a CSV path: books.csv becomes
// books.jsonl.
func JSONPath(csvPath string) string {
	ext := filepath.Ext(csvPath)
	if strings.EqualFold(ext, ".csv") {
		return strings.TrimSuffix(csvPath, ext) + ".jsonl"
	}
	return csvPath + ".jsonl"
}

// OutputPath is the file the primary writer of format creates. JSON output
// aimed at a .csv path goes to its .jsonl sibling instead.
func OutputPath(format, path string) string {
	if format == "json" && strings.EqualFold(filepath.Ext(path), ".csv") {
		return JSONPath(path)
	}
	return path
}

// NewWriter opens the writer for the requested format: "csv", "json" or
// "dual".
func NewWriter(format, path string, detailed bool) (OutputWriter, error) {
	switch format {
	case "", "csv":
		return NewCSVWriter(path, detailed)
	case "json":
		return NewJSONWriter(OutputPath(format, path))
	case "dual":
		return NewDualWriter(path, JSONPath(path), detailed)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
