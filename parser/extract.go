package parser

import (
	"bytes"
	"fmt"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/bookcrawl/models"
)

const (
	cardSelector   = "article.product_pod"
	titleSelector  = "h3 a"
	priceSelector  = "p.price_color"
	ratingSelector = "p.star-rating"
	nextSelector   = "li.next a"
)

// Extractor turns catalogue HTML into book records.
type Extractor struct {
	currencyPrefixes []string
	onSkip           func(err error)
}

// NewExtractor builds an extractor. onSkip, when non-nil, is called once for
// every listing card that had to be dropped.
func NewExtractor(currencyPrefixes []string, onSkip func(err error)) *Extractor {
	prefixes := make([]string, len(currencyPrefixes))
	copy(prefixes, currencyPrefixes)
	return &Extractor{
		currencyPrefixes: prefixes,
		onSkip:           onSkip,
	}
}

// Page is one parsed catalogue page.
type Page struct {
	doc *goquery.Document
	ex  *Extractor
}

// Parse reads content as HTML.
func (e *Extractor) Parse(content []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: doc, ex: e}, nil
}

// Extract parses content and returns its records.
func (e *Extractor) Extract(content []byte) (iter.Seq[models.Book], error) {
	page, err := e.Parse(content)
	if err != nil {
		return nil, err
	}
	return page.Books(), nil
}

// Cards reports how many listing cards the page holds, valid or not.
func (p *Page) Cards() int {
	return p.doc.Find(cardSelector).Length()
}

// Books yields one record per well-formed listing card, in document order.
func (p *Page) Books() iter.Seq[models.Book] {
	return func(yield func(models.Book) bool) {
		cards := p.doc.Find(cardSelector)
		for i := range cards.Nodes {
			book, err := p.ex.book(cards.Eq(i))
			if err != nil {
				if p.ex.onSkip != nil {
					p.ex.onSkip(err)
				}
				continue
			}
			if !yield(book) {
				return
			}
		}
	}
}

// NextLink returns the raw href of the "next page" link.
func (p *Page) NextLink() (string, bool) {
	href, ok := p.doc.Find(nextSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", false
	}
	return href, true
}

func (e *Extractor) book(card *goquery.Selection) (models.Book, error) {
	title, ok := card.Find(titleSelector).First().Attr("title")
	title = strings.TrimSpace(title)
	if !ok || title == "" {
		return models.Book{}, ErrMissingTitle
	}

	priceNode := card.Find(priceSelector).First()
	if priceNode.Length() == 0 {
		return models.Book{}, fmt.Errorf("%w for %s", ErrMissingPrice, title)
	}
	price, err := ParsePrice(priceNode.Text(), e.currencyPrefixes)
	if err != nil {
		return models.Book{}, fmt.Errorf("%s: %w", title, err)
	}

	rating := ""
	if class, ok := card.Find(ratingSelector).First().Attr("class"); ok {
		rating = RatingFromClass(class)
	}

	return models.Book{
		Title:       title,
		Price:       price,
		Rating:      rating,
		RatingValue: RatingToNumeric(rating),
	}, nil
}
