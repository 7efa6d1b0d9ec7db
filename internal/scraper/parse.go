package scraper

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"productelt/internal/store"
)

// parseProduct extracts one record from a product detail page. Every field
// is optional: a missing element yields a nil pointer, and the staging
// transform downstream decides what missing means.
func parseProduct(doc *goquery.Document, url string) store.ExtractRecord {
	rec := store.ExtractRecord{}

	if name := text(doc, "h1"); name != "" {
		rec.ProductName = &name
	}
	if p, ok := parsePriceText(text(doc, "h4.ps-product__price")); ok {
		rec.Price = &p
	}

	// The brand link is the only anchor pointing into /brands/.
	doc.Find(`a[href*="brands"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if b := strings.TrimSpace(sel.Text()); b != "" {
			rec.Brand = &b
			return false
		}
		return true
	})

	// The description block is a bullet list of "Label: value" runs.
	desc := normalizeDesc(doc.Find("div.ps-product__desc").Text())
	rec.SKU = descField(desc, "Mã sản phẩm")
	rec.Material = descField(desc, "Chất liệu")
	rec.Shape = descField(desc, "Hình dạng")
	rec.Dimension = descField(desc, "Thông số")
	if origin := descField(desc, "Xuất xứ"); origin != nil {
		// Keep only the country name, the site appends distributor notes.
		if first := strings.Fields(*origin); len(first) > 0 {
			rec.Origin = &first[0]
		}
	}

	if q, ok := parseQuantityText(text(doc, "div.number-items-available")); ok {
		rec.QuantityAvailable = &q
	}

	if url != "" {
		rec.ProductURL = &url
	}
	return rec
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// parsePriceText handles the rendered price form, e.g. "1,250,000₫ / 1 chiếc".
func parsePriceText(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	s = strings.NewReplacer("₫", "", "đ", "", " ", "").Replace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	// Grouped thousands: strip separators and retry.
	s = strings.NewReplacer(",", "", ".", "").Replace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseQuantityText keeps only the digits, e.g. "Còn 4 sản phẩm" -> 4.
func parseQuantityText(s string) (int64, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// normalizeDesc makes sure every "Thông tin..." run starts its own bullet,
// the site sometimes omits the marker there.
func normalizeDesc(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "• Thông tin", "Thông tin")
	return strings.ReplaceAll(s, "Thông tin", "• Thông tin")
}

// descField extracts the value after "label:" up to the next bullet.
func descField(desc, label string) *string {
	_, rest, found := strings.Cut(desc, label+":")
	if !found {
		return nil
	}
	if i := strings.Index(rest, "•"); i >= 0 {
		rest = rest[:i]
	}
	v := strings.TrimSpace(rest)
	if v == "" {
		return nil
	}
	return &v
}
