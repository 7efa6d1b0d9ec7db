// Package datedim loads the calendar dimension from a pre-generated CSV.
// The file is produced once per deployment (usually a decade of rows) and
// loaded with the load-date-dim command.
package datedim

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"productelt/internal/store"
)

// ReadCSV parses a date_dim CSV into the header/rows shape that
// WarehouseStore.InsertDateDim accepts. The header must contain full_date
// and only known date_dim columns; cell values stay strings, typed binding
// happens in the backend.
func ReadCSV(r io.Reader) (header []string, rows [][]string, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	raw, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("datedim: read header: %w", err)
	}

	header = make([]string, len(raw))
	seen := map[string]bool{}
	for i, h := range raw {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if !store.ValidDateDimColumn(h) {
			return nil, nil, fmt.Errorf("datedim: unknown column %q (known: %s)",
				h, strings.Join(store.DateDimColumns(), ", "))
		}
		if seen[h] {
			return nil, nil, fmt.Errorf("datedim: duplicate column %q", h)
		}
		seen[h] = true
		header[i] = h
	}
	if !seen["full_date"] {
		return nil, nil, fmt.Errorf("datedim: header must contain full_date")
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("datedim: line %d: %w", line+1, err)
		}
		line++
		if len(rec) != len(header) {
			return nil, nil, fmt.Errorf("datedim: line %d: %d cells, want %d", line, len(rec), len(header))
		}

		// Fail on bad cells here so the load never dies halfway through.
		for i, cell := range rec {
			if _, err := store.ParseDateDimValue(header[i], cell); err != nil {
				return nil, nil, fmt.Errorf("datedim: line %d: %w", line, err)
			}
		}
		if strings.TrimSpace(rec[indexOf(header, "full_date")]) == "" {
			return nil, nil, fmt.Errorf("datedim: line %d: empty full_date", line)
		}
		rows = append(rows, rec)
	}

	return header, rows, nil
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
