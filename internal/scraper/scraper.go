// Package scraper walks the product category pages of an eyewear shop and
// extracts one record per product detail page.
package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"productelt/internal/store"
)

// Logger matches the stdlib log.Logger surface the pipeline passes around.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Site scrapes one shop. BaseURL is the category listing URL; page numbers
// are appended to it ("...?page=" + n).
type Site struct {
	client  *resty.Client
	baseURL string
	pages   int
	log     Logger
}

type Option func(*Site)

func WithLogger(l Logger) Option {
	return func(s *Site) { s.log = l }
}

func WithClient(c *resty.Client) Option {
	return func(s *Site) { s.client = c }
}

// WithPages sets how many listing pages to walk. Defaults to 1.
func WithPages(n int) Option {
	return func(s *Site) {
		if n > 0 {
			s.pages = n
		}
	}
}

func New(baseURL string, opts ...Option) *Site {
	s := &Site{
		client:  resty.New(),
		baseURL: baseURL,
		pages:   1,
		log:     nopLogger{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scrape walks every listing page, follows each product link and returns the
// parsed records. A product page that fails to fetch fails the whole scrape;
// a partial extract file would silently shrink the warehouse's view of the
// catalog.
func (s *Site) Scrape(ctx context.Context) ([]store.ExtractRecord, error) {
	var out []store.ExtractRecord

	for page := 1; page <= s.pages; page++ {
		pageURL := fmt.Sprintf("%s%d", s.baseURL, page)
		s.log.Printf("scrape listing %s", pageURL)

		doc, err := s.fetchDoc(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("scraper: listing page %d: %w", page, err)
		}

		links := productLinks(doc)
		if len(links) == 0 {
			s.log.Printf("scrape listing %s: no product links", pageURL)
		}

		for _, link := range links {
			detail, err := s.fetchDoc(ctx, link)
			if err != nil {
				return nil, fmt.Errorf("scraper: product %s: %w", link, err)
			}
			out = append(out, parseProduct(detail, link))
		}
	}

	return out, nil
}

func (s *Site) fetchDoc(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := s.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return nil, err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status())
	}
	return goquery.NewDocumentFromReader(body)
}

// productLinks collects the product detail URLs on a listing page.
func productLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a.ps-product__title").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
			links = append(links, strings.TrimSpace(href))
		}
	})
	return links
}
