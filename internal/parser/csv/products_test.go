package csv

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadProducts_HeaderMappingAndNils(t *testing.T) {
	t.Parallel()

	in := "\ufeffProduct Name,Price,Brand,SKU,Material,Shape,Dimension,Origin,Quantity Available,Product URL\n" +
		"Gọng kính Titan,1250000,Titan,GK-120,Titanium,Oval,140-18,Japan,4,https://kinhmatviettin.vn/gong-kinh-titan\n" +
		"Tròng kính,,,TK-01,,,,,,\n"

	recs, err := ReadProducts(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadProducts: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records=%d want 2", len(recs))
	}

	full := recs[0]
	if full.ProductName == nil || *full.ProductName != "Gọng kính Titan" {
		t.Fatalf("BOM not stripped from first header: %+v", full)
	}
	if full.Price == nil || *full.Price != 1250000 {
		t.Fatalf("price=%v", full.Price)
	}
	if full.QuantityAvailable == nil || *full.QuantityAvailable != 4 {
		t.Fatalf("quantity=%v", full.QuantityAvailable)
	}

	sparse := recs[1]
	if sparse.Price != nil || sparse.Brand != nil || sparse.QuantityAvailable != nil {
		t.Fatalf("empty cells must be nil: %+v", sparse)
	}
	if sparse.SKU == nil || *sparse.SKU != "TK-01" {
		t.Fatalf("sku=%v", sparse.SKU)
	}
}

func TestReadProducts_RejectsBadNumbers(t *testing.T) {
	t.Parallel()

	in := "product_name,price\nGọng kính,abc\n"
	if _, err := ReadProducts(strings.NewReader(in)); err == nil {
		t.Fatalf("expected price parse error")
	}
	if _, err := ReadProducts(strings.NewReader(in)); err != nil &&
		!strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error must carry the line number, got %v", err)
	}

	in = "product_name,quantity_available\nGọng kính,4.5\n"
	if _, err := ReadProducts(strings.NewReader(in)); err == nil {
		t.Fatalf("expected quantity parse error")
	}
}

func TestReadProducts_RequiresProductName(t *testing.T) {
	t.Parallel()

	if _, err := ReadProducts(strings.NewReader("sku,price\nA,1\n")); err == nil {
		t.Fatalf("expected missing product_name error")
	}
	if _, err := ReadProducts(strings.NewReader("")); err == nil {
		t.Fatalf("expected empty file error")
	}
}

func TestParsePrice_GroupedVietnameseForm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"1250000", 1250000},
		{"1250000.5", 1250000.5},
		{"1.250.000 ₫", 1250000},
		{"1,250,000", 1250000},
	}
	for _, tt := range tests {
		got, err := parsePrice(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("parsePrice(%q)=%v err=%v want %v", tt.in, got, err, tt.want)
		}
	}

	if _, err := parsePrice("Liên hệ"); err == nil {
		t.Fatalf("expected error for non-numeric price")
	}
}

func TestWriteTable_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteTable(&buf, []string{"a", "b"}, [][]string{{"1", "x,y"}, {"2", ""}})
	if err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	want := "a,b\n1,\"x,y\"\n2,\n"
	if buf.String() != want {
		t.Fatalf("output=%q want %q", buf.String(), want)
	}
}
