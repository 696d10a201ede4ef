package parser

import (
	"errors"
	"math"
	"testing"

	"github.com/aluiziolira/bookcrawl/models"
)

var defaultPrefixes = []string{"Â£", "£"}

func TestValidateBook(t *testing.T) {
	tests := []struct {
		name    string
		book    *models.Book
		wantErr error
	}{
		{
			name: "valid book",
			book: &models.Book{Title: "Test Book", Price: 10, Rating: "Five", RatingValue: 5},
		},
		{
			name: "valid without rating",
			book: &models.Book{Title: "Test Book", Price: 0},
		},
		{
			name:    "missing title",
			book:    &models.Book{Title: "  ", Price: 10, Rating: "Five"},
			wantErr: ErrMissingTitle,
		},
		{
			name:    "negative price",
			book:    &models.Book{Title: "Test Book", Price: -1},
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "nan price",
			book:    &models.Book{Title: "Test Book", Price: math.NaN()},
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "unknown rating",
			book:    &models.Book{Title: "Test Book", Price: 1, Rating: "Zero"},
			wantErr: ErrInvalidRating,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBook(tt.book)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateBook() unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateBook() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateBook(nil); err == nil {
		t.Errorf("ValidateBook(nil) should fail")
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "pound sign", input: "£51.77", expected: "51.77"},
		{name: "mis-decoded pound sign", input: "Â£51.77", expected: "51.77"},
		{name: "with whitespace", input: "  £10.50  ", expected: "10.50"},
		{name: "already clean", input: "25.99", expected: "25.99"},
		{name: "prefix only stripped once", input: "££1.00", expected: "£1.00"},
		{name: "suffix is kept", input: "99.99 £", expected: "99.99 £"},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizePrice(tt.input, defaultPrefixes)
			if result != tt.expected {
				t.Errorf("NormalizePrice(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		prefixes []string
		expected float64
		wantErr  bool
	}{
		{name: "pound", input: "£51.77", prefixes: defaultPrefixes, expected: 51.77},
		{name: "custom prefix", input: "$3.5", prefixes: []string{"$"}, expected: 3.5},
		{name: "integer", input: "£7", prefixes: defaultPrefixes, expected: 7},
		{name: "no prefix configured", input: "£7", prefixes: nil, wantErr: true},
		{name: "non numeric", input: "£free", prefixes: defaultPrefixes, wantErr: true},
		{name: "negative", input: "£-2.00", prefixes: defaultPrefixes, wantErr: true},
		{name: "infinity", input: "£Inf", prefixes: defaultPrefixes, wantErr: true},
		{name: "nan", input: "NaN", prefixes: defaultPrefixes, wantErr: true},
		{name: "empty", input: "", prefixes: defaultPrefixes, wantErr: true},
		{name: "hex float", input: "£0x1p3", prefixes: defaultPrefixes, wantErr: true},
		{name: "upper hex float", input: "£0X1.8p1", prefixes: defaultPrefixes, wantErr: true},
		{name: "underscore digits", input: "£1_000", prefixes: defaultPrefixes, wantErr: true},
		{name: "exponent", input: "£1.5e1", prefixes: defaultPrefixes, expected: 15},
		{name: "leading dot", input: "£.5", prefixes: defaultPrefixes, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.input, tt.prefixes)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPrice) {
					t.Fatalf("ParsePrice(%q) error = %v, want ErrInvalidPrice", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrice(%q) unexpected error %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParsePrice(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatPrice(t *testing.T) {
	tests := map[float64]string{
		51.77: "51.77",
		7:     "7.00",
		3.5:   "3.50",
		0:     "0.00",
	}
	for in, want := range tests {
		if got := FormatPrice(in); got != want {
			t.Errorf("FormatPrice(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestRatingToNumeric(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{input: "One", expected: 1},
		{input: "Two", expected: 2},
		{input: "Three", expected: 3},
		{input: "Four", expected: 4},
		{input: "Five", expected: 5},
		{input: "Zero", expected: 0},
		{input: "Invalid", expected: 0},
		{input: "", expected: 0},
		{input: "three", expected: 0},
	}

	for _, tt := range tests {
		t.Run("rating_"+tt.input, func(t *testing.T) {
			result := RatingToNumeric(tt.input)
			if result != tt.expected {
				t.Errorf("RatingToNumeric(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}

	for i, label := range models.RatingLabels {
		if got := RatingToNumeric(label); got != i+1 {
			t.Errorf("RatingToNumeric(%q) = %d, want %d", label, got, i+1)
		}
	}
}

func TestRatingFromClass(t *testing.T) {
	tests := []struct {
		class    string
		expected string
	}{
		{class: "star-rating Three", expected: "Three"},
		{class: "  star-rating   One ", expected: "One"},
		{class: "star-rating", expected: ""},
		{class: "star-rating Zero", expected: ""},
		{class: "", expected: ""},
	}

	for _, tt := range tests {
		if got := RatingFromClass(tt.class); got != tt.expected {
			t.Errorf("RatingFromClass(%q) = %q, want %q", tt.class, got, tt.expected)
		}
	}
}

func TestSkipReason(t *testing.T) {
	if got := SkipReason(ErrMissingTitle); got != "missing_title" {
		t.Errorf("SkipReason(missing title) = %q", got)
	}
	if _, err := ParsePrice("£x", defaultPrefixes); SkipReason(err) != "invalid_price" {
		t.Errorf("SkipReason(parse error) = %q", SkipReason(err))
	}
	if got := SkipReason(errors.New("boom")); got != "other" {
		t.Errorf("SkipReason(other) = %q", got)
	}
}
