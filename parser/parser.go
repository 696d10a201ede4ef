package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aluiziolira/bookcrawl/models"
)

var (
	// ErrMissingTitle marks a listing card without a usable title attribute.
	ErrMissingTitle = errors.New("missing title")
	// ErrMissingPrice marks a listing card without a price element.
	ErrMissingPrice = errors.New("missing price")
	// ErrInvalidPrice marks a price that is not a non-negative finite number.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidRating marks a rating outside the five known labels.
	ErrInvalidRating = errors.New("invalid rating")
)

// ValidateBook ensures a record satisfies the output invariants.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return ErrMissingTitle
	}
	if math.IsNaN(b.Price) || math.IsInf(b.Price, 0) || b.Price < 0 {
		return fmt.Errorf("%w for %s: %v", ErrInvalidPrice, b.Title, b.Price)
	}
	if b.Rating != "" && RatingToNumeric(b.Rating) == 0 {
		return fmt.Errorf("%w for %s: %q", ErrInvalidRating, b.Title, b.Rating)
	}
	return nil
}

// decimalPrice accepts plain base-10 numbers only. strconv.ParseFloat would
// also take hex floats and underscores.
var decimalPrice = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// NormalizePrice removes one leading currency prefix and surrounding
// whitespace. Longer prefixes are tried first so "Â£" wins over "£".
func NormalizePrice(price string, prefixes []string) string {
	price = strings.TrimSpace(price)

	ordered := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i]) > len(ordered[j])
	})

	for _, p := range ordered {
		if strings.HasPrefix(price, p) {
			price = strings.TrimPrefix(price, p)
			break
		}
	}
	return strings.TrimSpace(price)
}

// ParsePrice strips the currency prefix and parses the remainder as a
// base-10 float.
func ParsePrice(text string, prefixes []string) (float64, error) {
	cleaned := NormalizePrice(text, prefixes)
	if !decimalPrice.MatchString(cleaned) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	return value, nil
}

// FormatPrice renders a price with exactly two fractional digits.
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// RatingFromClass reads the rating word from a class attribute such as
// "star-rating Three". Unknown or absent words yield "".
func RatingFromClass(class string) string {
	parts := strings.Fields(class)
	if len(parts) < 2 {
		return ""
	}
	if RatingToNumeric(parts[1]) == 0 {
		return ""
	}
	return parts[1]
}

// RatingToNumeric converts the textual rating to a numeric scale, 0 when the
// label is unknown.
func RatingToNumeric(rating string) int {
	switch strings.TrimSpace(rating) {
	case "One":
		return 1
	case "Two":
		return 2
	case "Three":
		return 3
	case "Four":
		return 4
	case "Five":
		return 5
	default:
		return 0
	}
}

// SkipReason turns an extraction error into a metrics label.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingTitle):
		return "missing_title"
	case errors.Is(err, ErrMissingPrice):
		return "missing_price"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrInvalidRating):
		return "invalid_rating"
	default:
		return "other"
	}
}
