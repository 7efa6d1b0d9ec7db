package store

import "time"

// OpenEndDate is the sentinel "still current" end date on warehouse rows.
// Exactly one row per natural key carries it at any time.
var OpenEndDate = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Sentinel replacements applied by the staging transform step. String-typed
// columns get NullText, numeric columns get NullNumber.
const (
	NullText   = "N/A"
	NullNumber = -1
)

// PipelineConfig is one row of file_config: the immutable definition of an
// extraction pipeline. Created once via config import, read-only afterwards.
type PipelineConfig struct {
	ID                      int64
	Name                    string
	Source                  string // origin URL, e.g. https://kinhmatviettin.vn/...
	SourceFileLocation      string // storage path/prefix for extract files
	DestinationTableStaging string
	DestinationTableDW      string
	BucketName              string
	FolderB2Name            string
	BucketID                string
}

// RunLog is one row of file_logs. The id column is a monotonically
// increasing sequence, so "the authoritative state for (id_config, time)" is
// always the row with the highest id; LatestRun relies on that ordering.
//
// A row is created by the extract stage and then mutated in place as the run
// advances. The warehouse stage additionally appends a separate row tagging
// the exported warehouse snapshot.
type RunLog struct {
	ID         int64
	IDConfig   int64
	FileName   string
	Time       time.Time // logical run date, the partition key
	Status     Status
	Count      int64
	FileSizeKB int64
	DTUpdate   time.Time // wall clock of the last transition
}

// RunMeta carries the optional file_logs fields a transition may update.
// Nil pointers leave the stored value untouched.
type RunMeta struct {
	FileName   *string
	Count      *int64
	FileSizeKB *int64
}

// ExtractRecord is one parsed row of a raw extract file. Nil pointers are
// missing values; the staging transform later replaces them with the
// NullText / NullNumber sentinels.
type ExtractRecord struct {
	ProductName       *string
	Price             *float64
	Brand             *string
	SKU               *string
	Material          *string
	Shape             *string
	Dimension         *string
	Origin            *string
	QuantityAvailable *int64
	ProductURL        *string
}

// NaturalKey derives the business key used to match warehouse rows across
// loads. Missing parts contribute an empty string, matching the raw-file
// behavior of the staging loader.
func (r ExtractRecord) NaturalKey() string {
	name, sku := "", ""
	if r.ProductName != nil {
		name = *r.ProductName
	}
	if r.SKU != nil {
		sku = *r.SKU
	}
	return NaturalKey(name, sku)
}

// StagedProduct is one fully transformed staging row: sentinels applied,
// natural key computed, run tags attached. This is the unit the warehouse
// merge buffer is built from.
type StagedProduct struct {
	NaturalKey        string
	SKU               string
	ProductName       string
	Price             float64
	Brand             string
	Material          string
	Shape             string
	Dimension         string
	Origin            string
	QuantityAvailable int64
	ProductURL        string
	IDConfig          int64
	DTExtract         time.Time
	DTLoad            time.Time
}

// MergeStats summarizes one warehouse merge pass.
type MergeStats struct {
	BufferRows  int64
	NewKeys     int64
	ChangedKeys int64
	Backfilled  int64
}

// businessColumns are the attribute columns compared field-by-field during
// change detection, in schema order. Shared by all backends so the dialects
// cannot drift.
var businessColumns = []string{
	"sku",
	"product_name",
	"price",
	"brand",
	"material",
	"shape",
	"dimension",
	"origin",
	"quantity_available",
	"product_url",
}

// BusinessColumns returns a copy of the compared attribute column names.
func BusinessColumns() []string {
	out := make([]string, len(businessColumns))
	copy(out, businessColumns)
	return out
}
