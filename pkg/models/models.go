package models

import "time"

// RawCoverRecord is what a detail page yields before normalization.
// A nil field means the selector matched nothing on the page.
type RawCoverRecord struct {
	DetailURL string
	Name      *string
	ImageLink *string
}

// CoverRecord is the canonical, normalized description of one issue
type CoverRecord struct {
	Name          string
	Year          int
	StartMonthNum int
	EndMonthNum   int
	StartMonthStr string
	EndMonthStr   string
	ImageLink     string // As served, possibly a cropped rendition
	CleanedLink   string // Crop segment stripped
	IsBlankCover  bool
	Filename      string // year_start_end; join key across records, images and palettes
}

// NonBlank returns the records that carry real cover art, preserving order
func NonBlank(records []CoverRecord) []CoverRecord {
	out := make([]CoverRecord, 0, len(records))
	for _, r := range records {
		if !r.IsBlankCover {
			out = append(out, r)
		}
	}
	return out
}

// RGB is one colour in 8-bit sRGB
type RGB [3]uint8

// PaletteResult is the clustering outcome for one cover image
type PaletteResult struct {
	Filepath       string
	Filename       string
	Width          int
	Height         int
	Pixels         []RGB // Row-major source pixels, alpha dropped
	ClusterCenters []RGB // len == k
	ClusterLabels  []int // len == Width*Height, each in [0, k)
	ClusterCounts  []int // Pixels per centre
	SwatchIndices  [4]int
	Swatches       [4]RGB
}

// DetailDBEntry caches a parsed detail page so resumed crawls skip the request
type DetailDBEntry struct {
	Status      PageStatus `json:"status"`
	Name        *string    `json:"name,omitempty"`
	ImageLink   *string    `json:"image_link,omitempty"`
	ErrorType   string     `json:"error_type,omitempty"`   // Error category (on failure)
	ProcessedAt time.Time  `json:"processed_at,omitempty"` // Timestamp of successful parse
	LastAttempt time.Time  `json:"last_attempt"`
}

// ImageDBEntry stores the result of downloading one cover
type ImageDBEntry struct {
	Status      ImageStatus `json:"status"`
	SourceURL   string      `json:"source_url"`
	LocalPath   string      `json:"local_path,omitempty"`
	SHA256      string      `json:"sha256,omitempty"`
	Bytes       int64       `json:"bytes,omitempty"`
	ErrorType   string      `json:"error_type,omitempty"`
	LastAttempt time.Time   `json:"last_attempt"`
}

// PaletteDBEntry stores the swatches computed for one cover
type PaletteDBEntry struct {
	Status       ImageStatus `json:"status"`
	ArtifactPath string      `json:"artifact_path,omitempty"`
	Swatches     []RGB       `json:"swatches,omitempty"`
	ErrorType    string      `json:"error_type,omitempty"`
	LastAttempt  time.Time   `json:"last_attempt"`
}

// CrawlMetadata describes one crawl run; written next to the records table.
type CrawlMetadata struct {
	RunID                string    `yaml:"run_id"`
	BaseURL              string    `yaml:"base_url"`
	FirstPage            int       `yaml:"first_page"`
	LastPage             int       `yaml:"last_page"`
	StartedAt            time.Time `yaml:"started_at"`
	FinishedAt           time.Time `yaml:"finished_at"`
	ListingPagesFetched  int       `yaml:"listing_pages_fetched"`
	ListingPagesFailed   int       `yaml:"listing_pages_failed"`
	DetailPagesParsed    int       `yaml:"detail_pages_parsed"`
	DetailPagesFailed    int       `yaml:"detail_pages_failed"`
	Records              int       `yaml:"records"`
	BlankCovers          int       `yaml:"blank_covers"`
	NormalizeFailures    int       `yaml:"normalize_failures"`
	SanitizeRulesVersion int       `yaml:"sanitize_rules_version"`
	RecordsFile          string    `yaml:"records_file"`
}
