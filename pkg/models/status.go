package models

// PageStatus is the ledger state of one detail page
type PageStatus string

const (
	PageStatusUnset    PageStatus = ""
	PageStatusParsed   PageStatus = "parsed"    // Fetched and parsed; fields cached
	PageStatusFailure  PageStatus = "failure"   // Fetch failed; retried on the next crawl
	PageStatusNotFound PageStatus = "not_found" // No ledger entry
	PageStatusDBError  PageStatus = "db_error"
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status can be stored in the ledger
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusParsed, PageStatusFailure:
		return true
	}
	return false
}

// ImageStatus is the ledger state of one cover file (download or palette stage)
type ImageStatus string

const (
	ImageStatusUnset    ImageStatus = ""
	ImageStatusSuccess  ImageStatus = "success"
	ImageStatusFailure  ImageStatus = "failure"
	ImageStatusSkipped  ImageStatus = "skipped" // Output already on disk
	ImageStatusNotFound ImageStatus = "not_found"
	ImageStatusDBError  ImageStatus = "db_error"
)

// String implements fmt.Stringer for logging
func (s ImageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status can be stored in the ledger
func (s ImageStatus) IsValid() bool {
	switch s {
	case ImageStatusSuccess, ImageStatusFailure, ImageStatusSkipped:
		return true
	}
	return false
}

// Done reports whether the stage produced (or found) its output
func (s ImageStatus) Done() bool {
	return s == ImageStatusSuccess || s == ImageStatusSkipped
}
