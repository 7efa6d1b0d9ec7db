package store

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKeyPart converts one natural-key component to canonical form:
// surrounding whitespace trimmed, interior whitespace runs collapsed to a
// single space, and Unicode composed to NFC.
//
// The NFC step matters for the Vietnamese product names this pipeline
// scrapes: the same name can arrive precomposed on one crawl and decomposed
// on the next, and without normalization the merge would see a "changed"
// key on every load.
func NormalizeKeyPart(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return norm.NFC.String(s)
}

// NaturalKey derives the warehouse business key from a product name and SKU.
func NaturalKey(productName, sku string) string {
	return NormalizeKeyPart(productName) + "-" + NormalizeKeyPart(sku)
}
