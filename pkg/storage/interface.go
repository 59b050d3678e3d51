package storage

import (
	"context"
	"time"

	"cover-palette/pkg/models"
)

// DetailStore caches parsed detail pages so a resumed crawl skips the throttled request
type DetailStore interface {
	// CheckDetail returns PageStatusNotFound (and a nil entry) for unseen URLs
	CheckDetail(detailURL string) (models.PageStatus, *models.DetailDBEntry, error)
	UpdateDetail(detailURL string, entry *models.DetailDBEntry) error
	// ResetDetails forgets every cached detail page
	ResetDetails() error
}

// ImageStore is the download ledger, keyed by record filename
type ImageStore interface {
	CheckImage(filename string) (models.ImageStatus, *models.ImageDBEntry, error)
	UpdateImage(filename string, entry *models.ImageDBEntry) error
}

// PaletteStore is the palette ledger, keyed by record filename
type PaletteStore interface {
	CheckPalette(filename string) (models.ImageStatus, *models.PaletteDBEntry, error)
	UpdatePalette(filename string, entry *models.PaletteDBEntry) error
}

// StoreAdmin handles lifecycle and reporting
type StoreAdmin interface {
	// Failures lists every ledger entry whose last attempt failed
	Failures(ctx context.Context) ([]Failure, error)
	// RunGC runs value log GC until ctx is done. Run it in a goroutine.
	RunGC(ctx context.Context, interval time.Duration)
	Close() error
}

// Ledger combines all store interfaces
type Ledger interface {
	DetailStore
	ImageStore
	PaletteStore
	StoreAdmin
}

// Failure is one failed item found in the ledger
type Failure struct {
	Stage     string // "detail", "download" or "palette"
	Key       string // Detail URL or record filename
	ErrorType string
}
