package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"cover-palette/pkg/config"
	"cover-palette/pkg/crawler"
	"cover-palette/pkg/download"
	"cover-palette/pkg/export"
	"cover-palette/pkg/fetch"
	"cover-palette/pkg/models"
	"cover-palette/pkg/parse"
	"cover-palette/pkg/palette"
	"cover-palette/pkg/report"
	"cover-palette/pkg/storage"
)

var (
	// ErrLocked means another process holds the data directory
	ErrLocked = errors.New("data directory is locked by another process")
	// ErrEmptyCrawl means the crawl found nothing; the previous records table is kept
	ErrEmptyCrawl = errors.New("crawl produced no records")
)

const ledgerGCInterval = 10 * time.Minute

// Pipeline runs the crawl, download and palette stages over one data directory.
// Stages can run alone (reading the records table) or chained by Run.
type Pipeline struct {
	cfg    *config.AppConfig
	base   *logrus.Entry // Stage loggers derive from this
	log    *logrus.Entry
	resume bool

	pageFetcher  *fetch.Fetcher // Listing and detail pages
	imageFetcher *fetch.Fetcher // Covers, paced per host by image_delay
	ledger       storage.Ledger
	lock         *flock.Flock

	summary report.Summary
	started time.Time
}

// NewPipeline locks the data directory and opens the state ledger. Call Close when done.
func NewPipeline(cfg *config.AppConfig, resume bool, baseLogger *logrus.Entry) (*Pipeline, error) {
	log := baseLogger.WithField("component", "pipeline")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.LockPath())
	}

	ledger, err := storage.NewBadgerStore(cfg.StateDir, baseLogger)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	client := fetch.NewClient(cfg.HTTPClientSettings, baseLogger)
	pageFetcher := fetch.NewFetcher(client, cfg, baseLogger)
	if cfg.Source.RespectRobots {
		pageFetcher.WithRobots(fetch.NewRobotsHandler(pageFetcher, cfg.UserAgent, baseLogger))
	}
	imageFetcher := fetch.NewFetcher(client, cfg, baseLogger).
		WithRateLimiter(fetch.NewRateLimiter(cfg.ImageDelay, baseLogger))

	return &Pipeline{
		cfg:          cfg,
		base:         baseLogger,
		log:          log,
		resume:       resume,
		pageFetcher:  pageFetcher,
		imageFetcher: imageFetcher,
		ledger:       ledger,
		lock:         lock,
		started:      time.Now(),
	}, nil
}

// Close releases the ledger and the data directory lock
func (p *Pipeline) Close() error {
	err := p.ledger.Close()
	if unlockErr := p.lock.Unlock(); unlockErr != nil {
		p.log.Warnf("failed to release data dir lock: %v", unlockErr)
	}
	return err
}

// Summary holds the stats of every stage run so far
func (p *Pipeline) Summary() *report.Summary {
	p.summary.Duration = time.Since(p.started)
	return &p.summary
}

// Crawl walks the archive and writes the records table and crawl metadata.
// A crawl that reached no listing page, or found nothing while a table exists,
// returns ErrEmptyCrawl and leaves the table and metadata untouched.
func (p *Pipeline) Crawl(ctx context.Context) ([]models.CoverRecord, error) {
	c, err := crawler.NewCrawler(p.cfg, p.pageFetcher, p.ledger, p.resume, p.base.WithField("stage", "crawl"))
	if err != nil {
		return nil, err
	}
	res, err := c.Run(ctx)
	p.summary.Add(res.Stats.Stages()...)
	if err != nil {
		return nil, fmt.Errorf("crawl interrupted: %w", err)
	}
	if err := p.checkCrawl(res); err != nil {
		return nil, err
	}

	if err := export.WriteRecords(p.cfg.RecordsPath(), res.Records); err != nil {
		return nil, fmt.Errorf("writing records table: %w", err)
	}
	p.log.Infof("Wrote %d records to %s", len(res.Records), p.cfg.RecordsPath())

	if err := export.WriteCrawlMetadata(p.cfg.MetadataPath(), res.Metadata(p.cfg)); err != nil {
		p.log.Errorf("Failed to write crawl metadata: %v", err)
	}
	return res.Records, nil
}

func (p *Pipeline) checkCrawl(res crawler.CrawlResult) error {
	listings := res.Stats.ListingPages
	if listings.Succeeded == 0 {
		return fmt.Errorf("%w: all %d listing pages failed (%s)", ErrEmptyCrawl, listings.Failed, strings.Join(listings.TopErrors(), ", "))
	}
	if len(res.Records) > 0 {
		return nil
	}
	if _, err := os.Stat(p.cfg.RecordsPath()); err == nil {
		return fmt.Errorf("%w: keeping existing %s", ErrEmptyCrawl, p.cfg.RecordsPath())
	}
	return nil
}

// Download ensures a local cover for every non-blank record.
// With nil records the table written by a previous crawl is read.
func (p *Pipeline) Download(ctx context.Context, records []models.CoverRecord) error {
	records, err := p.loadRecords(records)
	if err != nil {
		return err
	}
	cache := download.NewCache(p.cfg, p.imageFetcher, p.ledger, p.base.WithField("stage", "download"))
	p.summary.Add(cache.Ensure(ctx, models.NonBlank(records)))
	return ctx.Err()
}

// Palette extracts swatches for every non-blank record whose cover is on disk
func (p *Pipeline) Palette(ctx context.Context, records []models.CoverRecord) error {
	records, err := p.loadRecords(records)
	if err != nil {
		return err
	}
	extractor, err := palette.NewExtractor(p.cfg.Palette)
	if err != nil {
		return err
	}
	stage := &paletteStage{
		cfg:       p.cfg,
		extractor: extractor,
		writer:    export.PaletteWriter{Dir: p.cfg.InterimDir()},
		images:    download.NewCache(p.cfg, nil, nil, p.base),
		ledger:    p.ledger,
		log:       p.base.WithFields(logrus.Fields{"stage": "palette", "component": "palette"}),
	}
	p.summary.Add(stage.run(ctx, models.NonBlank(records)))
	return ctx.Err()
}

// Run chains crawl, download and palette. The ledger is garbage collected in the background.
func (p *Pipeline) Run(ctx context.Context) error {
	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go p.ledger.RunGC(gcCtx, ledgerGCInterval)

	records, err := p.Crawl(ctx)
	if err != nil {
		return err
	}
	if err := p.Download(ctx, records); err != nil {
		return err
	}
	return p.Palette(ctx, records)
}

// ReportFailures logs every item whose last attempt failed, across all runs
func (p *Pipeline) ReportFailures(ctx context.Context) {
	failures, err := p.ledger.Failures(ctx)
	if err != nil {
		p.log.Warnf("Could not scan ledger for failures: %v", err)
		return
	}
	for _, f := range failures {
		p.log.WithFields(logrus.Fields{"stage": f.Stage, "key": f.Key, "error_type": f.ErrorType}).Warn("Outstanding failure")
	}
	if len(failures) > 0 {
		p.log.Warnf("%d outstanding failures recorded in the ledger", len(failures))
	}
}

func (p *Pipeline) loadRecords(records []models.CoverRecord) ([]models.CoverRecord, error) {
	if records == nil {
		var err error
		records, err = export.ReadRecords(p.cfg.RecordsPath())
		if err != nil {
			return nil, fmt.Errorf("reading records table (run the crawl first): %w", err)
		}
		p.log.Infof("Loaded %d records from %s", len(records), p.cfg.RecordsPath())
	}
	if err := parse.CheckUniqueFilenames(records); err != nil {
		return nil, err
	}
	return records, nil
}
