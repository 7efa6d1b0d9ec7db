package pipeline

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Domain extracts the site identifier used in artifact file names from a
// pipeline's source URL, e.g. "https://www.kinhmatviettin.vn/gong-kinh" ->
// "kinhmatviettin.vn". Falls back to "unknown" on unparseable input so a
// bad config never produces an unnamable file.
func Domain(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// ExtractFileName names the raw extract artifact for one run date.
func ExtractFileName(date time.Time, domain string) string {
	return fmt.Sprintf("daily_data_%s_%s.csv", date.Format(dateLayout), domain)
}

// StagingExportName names the post-load staging export (the "lr" artifact,
// written right after the staging table is loaded).
func StagingExportName(table string, date time.Time, domain string) string {
	return fmt.Sprintf("lr_%s_%s_%s.csv", table, date.Format(dateLayout), domain)
}

// StagingSnapshotName names the staging export taken by the warehouse stage
// just before the staging table is truncated.
func StagingSnapshotName(table string, date time.Time, domain string) string {
	return fmt.Sprintf("l_%s_%s_%s.csv", table, date.Format(dateLayout), domain)
}

// WarehouseSnapshotName names the merged warehouse export.
func WarehouseSnapshotName(table string, date time.Time, domain string) string {
	return fmt.Sprintf("lws_%s_%s_%s.csv", table, date.Format(dateLayout), domain)
}
