package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/bookcrawl/models"
	"github.com/google/go-cmp/cmp"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestCSVWriterHeaderOnlyForEmptyCrawl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.csv")

	writer, err := NewCSVWriter(path, false)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	got := readCSV(t, path)
	want := [][]string{{"title", "price", "rating"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "books.csv")

	writer, err := NewCSVWriter(path, false)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	books := []models.Book{
		{Title: "A Light in the Attic", Price: 51.77, Rating: "Three", Page: 1},
		{Title: `Quoted "Title", with comma`, Price: 7, Rating: "", Page: 1},
		{Title: "Sapiens", Price: 54.2, Rating: "Five", Page: 2},
	}
	if err := writer.Write(books[:2]); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Write(books[2:]); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	want := [][]string{
		{"title", "price", "rating"},
		{"A Light in the Attic", "51.77", "Three"},
		{`Quoted "Title", with comma`, "7.00", ""},
		{"Sapiens", "54.20", "Five"},
	}
	if diff := cmp.Diff(want, readCSV(t, path)); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVWriterDetailedColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.csv")

	writer, err := NewCSVWriter(path, true)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	books := []models.Book{
		{Title: "Rated", Price: 10, Rating: "Four", RatingValue: 4, Page: 3},
		{Title: "Unrated", Price: 11.5, Page: 3},
	}
	if err := writer.Write(books); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	want := [][]string{
		{"title", "price", "rating", "rating_value", "page"},
		{"Rated", "10.00", "Four", "4", "3"},
		{"Unrated", "11.50", "", "", "3"},
	}
	if diff := cmp.Diff(want, readCSV(t, path)); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVWriterManyRowsKeepOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.csv")

	writer, err := NewCSVWriter(path, false)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	sink := NewSink(writer, 7)
	for i := 0; i < 40; i++ {
		if err := sink.Process(models.Book{Title: fmt.Sprintf("Book %02d", i), Price: float64(i) / 4}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records := readCSV(t, path)
	if len(records) != 41 {
		t.Fatalf("records = %d, want 41", len(records))
	}
	for i, record := range records[1:] {
		wantTitle := fmt.Sprintf("Book %02d", i)
		wantPrice := fmt.Sprintf("%.2f", float64(i)/4)
		if record[0] != wantTitle || record[1] != wantPrice {
			t.Fatalf("row %d = %v, want [%s %s]", i, record, wantTitle, wantPrice)
		}
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	books := []models.Book{
		{Title: "Test Book", Price: 10, Rating: "Two", RatingValue: 2, Page: 1},
		{Title: "Other", Price: 3.1, Page: 2},
	}
	if err := writer.Write(books); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	var lines []string
	var decoded []models.Book
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		var b models.Book
		if err := json.Unmarshal(scanner.Bytes(), &b); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		decoded = append(decoded, b)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}

	if diff := cmp.Diff(books, decoded); diff != "" {
		t.Fatalf("json mismatch (-want +got):\n%s", diff)
	}
	wantFirst := `{"title":"Test Book","rating":"Two","rating_value":2,"page":1,"price":10.00}`
	if lines[0] != wantFirst {
		t.Fatalf("first line = %s, want %s", lines[0], wantFirst)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	jsonPath := JSONPath(csvPath)
	if jsonPath != filepath.Join(dir, "books.jsonl") {
		t.Fatalf("json path = %s", jsonPath)
	}

	writer, err := NewDualWriter(csvPath, jsonPath, false)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	book := models.Book{Title: "Test Book", Price: 10, Rating: "Two", Page: 1}
	if err := writer.Write([]models.Book{book}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}

	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
	if got := len(readCSV(t, csvPath)); got != 2 {
		t.Fatalf("csv records = %d, want 2", got)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		format string
		path   string
		want   string
	}{
		{format: "csv", path: "out/books.csv", want: "out/books.csv"},
		{format: "json", path: "out/books.csv", want: "out/books.jsonl"},
		{format: "json", path: "out/books.CSV", want: "out/books.jsonl"},
		{format: "json", path: "out/books.jsonl", want: "out/books.jsonl"},
		{format: "dual", path: "out/books.csv", want: "out/books.csv"},
	}

	for _, tt := range tests {
		if got := OutputPath(tt.format, tt.path); got != tt.want {
			t.Errorf("OutputPath(%q, %q) = %q, want %q", tt.format, tt.path, got, tt.want)
		}
	}
}

func TestNewWriterJSONAvoidsCSVPath(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter("json", filepath.Join(dir, "books.csv"), false)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "books.jsonl")); err != nil {
		t.Fatalf("jsonl file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "books.csv")); !os.IsNotExist(err) {
		t.Fatalf("csv path should stay unused, stat err = %v", err)
	}
}

func TestNewWriterRejectsUnknownFormat(t *testing.T) {
	if _, err := NewWriter("xml", filepath.Join(t.TempDir(), "books.xml"), false); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
