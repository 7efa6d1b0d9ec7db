// Package csv reads raw extract files and writes table exports.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"productelt/internal/store"
)

// headerAliases maps the header spellings seen in extract files to canonical
// column names. Lookup happens after lowercasing and replacing spaces with
// underscores, so "Product Name" and "product_name" both resolve.
var headerAliases = map[string]string{
	"product_name":       "product_name",
	"name":               "product_name",
	"price":              "price",
	"brand":              "brand",
	"sku":                "sku",
	"ma_san_pham":        "sku",
	"material":           "material",
	"shape":              "shape",
	"dimension":          "dimension",
	"origin":             "origin",
	"quantity_available": "quantity_available",
	"quantity":           "quantity_available",
	"product_url":        "product_url",
	"url":                "product_url",
}

func canonicalHeader(raw string) string {
	s := strings.TrimPrefix(raw, "\ufeff")
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return headerAliases[s]
}

// ReadProducts parses one raw extract file. The header row drives column
// positions; unrecognized columns are ignored so the scraper can add fields
// without breaking old readers. Empty cells become nil pointers. A cell that
// fails numeric parsing aborts the read with its line number, matching the
// all-or-nothing semantics of the staging load that follows.
func ReadProducts(r io.Reader) ([]store.ExtractRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("extract file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	pos := map[string]int{}
	for i, h := range header {
		if c := canonicalHeader(h); c != "" {
			pos[c] = i
		}
	}
	if _, ok := pos["product_name"]; !ok {
		return nil, fmt.Errorf("extract file has no product_name column (header: %v)", header)
	}

	cell := func(row []string, col string) *string {
		i, ok := pos[col]
		if !ok || i >= len(row) {
			return nil
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			return nil
		}
		return &v
	}

	var out []store.ExtractRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := store.ExtractRecord{
			ProductName: cell(row, "product_name"),
			Brand:       cell(row, "brand"),
			SKU:         cell(row, "sku"),
			Material:    cell(row, "material"),
			Shape:       cell(row, "shape"),
			Dimension:   cell(row, "dimension"),
			Origin:      cell(row, "origin"),
			ProductURL:  cell(row, "product_url"),
		}

		if raw := cell(row, "price"); raw != nil {
			p, err := parsePrice(*raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: price %q: %w", line, *raw, err)
			}
			rec.Price = &p
		}
		if raw := cell(row, "quantity_available"); raw != nil {
			q, err := strconv.ParseInt(strings.TrimSpace(*raw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: quantity_available %q: %w", line, *raw, err)
			}
			rec.QuantityAvailable = &q
		}

		out = append(out, rec)
	}
	return out, nil
}

// parsePrice accepts both plain floats and the grouped form the site
// renders, e.g. "1.250.000" or "1,250,000 ₫".
func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "₫")
	s = strings.TrimSuffix(s, "đ")
	s = strings.TrimSpace(s)

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}

	// Grouped thousands: strip separators and retry.
	stripped := strings.NewReplacer(".", "", ",", "", " ", "").Replace(s)
	return strconv.ParseFloat(stripped, 64)
}

// WriteTable writes an exported table as CSV.
func WriteTable(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
