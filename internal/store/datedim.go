package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Date dimension column categories. The CSV loader hands every value over
// as a string; backends use ParseDateDimValue to bind a properly typed
// value so drivers with strict parameter typing (pgx in particular) accept
// the insert.
var (
	dateDimDateColumns = map[string]bool{
		"full_date":         true,
		"start_of_week":     true,
		"start_of_iso_week": true,
		"start_of_iso_alt":  true,
	}
	dateDimIntColumns = map[string]bool{
		"day_of_month":      true,
		"month":             true,
		"year":              true,
		"day_of_week":       true,
		"day_of_year":       true,
		"iso_week":          true,
		"iso_week_year":     true,
		"iso_week_alt":      true,
		"iso_week_year_alt": true,
		"quarter_num":       true,
	}
	dateDimBoolColumns = map[string]bool{
		"holiday_flag": true,
		"is_weekend":   true,
	}
	dateDimTextColumns = map[string]bool{
		"day_name":   true,
		"month_name": true,
		"quarter":    true,
	}
)

// DateDimColumns returns every loadable date_dim column, sorted.
func DateDimColumns() []string {
	out := make([]string, 0, 19)
	for c := range dateDimDateColumns {
		out = append(out, c)
	}
	for c := range dateDimIntColumns {
		out = append(out, c)
	}
	for c := range dateDimBoolColumns {
		out = append(out, c)
	}
	for c := range dateDimTextColumns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ValidDateDimColumn reports whether col may appear in a date_dim load.
func ValidDateDimColumn(col string) bool {
	return dateDimDateColumns[col] || dateDimIntColumns[col] ||
		dateDimBoolColumns[col] || dateDimTextColumns[col]
}

// ParseDateDimValue converts one CSV cell to the bind value for its column.
// Empty cells become NULL.
func ParseDateDimValue(col, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	switch {
	case dateDimDateColumns[col]:
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("date_dim.%s: %w", col, err)
		}
		return t, nil

	case dateDimIntColumns[col]:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("date_dim.%s: %w", col, err)
		}
		return n, nil

	case dateDimBoolColumns[col]:
		switch strings.ToLower(raw) {
		case "1", "t", "true", "y", "yes":
			return true, nil
		case "0", "f", "false", "n", "no":
			return false, nil
		}
		return nil, fmt.Errorf("date_dim.%s: unrecognized boolean %q", col, raw)

	case dateDimTextColumns[col]:
		return raw, nil
	}

	return nil, fmt.Errorf("date_dim: unknown column %q", col)
}
