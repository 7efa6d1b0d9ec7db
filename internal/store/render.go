package store

import (
	"fmt"
	"strconv"
	"time"
)

// RenderValue formats one scanned database value for CSV export. NULL renders
// as the empty string. DATE columns (midnight UTC time.Time values) render as
// YYYY-MM-DD; any other timestamp renders as RFC 3339.
func RenderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// RenderRows scans every row of a generic column set through RenderValue.
// Helper shared by the backend Export* implementations.
func RenderRow(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = RenderValue(v)
	}
	return out
}
