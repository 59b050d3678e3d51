package crawler

import (
	"context"
	"fmt"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cover-palette/pkg/config"
	"cover-palette/pkg/fetch"
	"cover-palette/pkg/models"
	"cover-palette/pkg/parse"
	"cover-palette/pkg/report"
	"cover-palette/pkg/storage"
	"cover-palette/pkg/utils"
)

// PageFetcher is the part of fetch.Fetcher the crawler needs
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string, minDelay time.Duration) fetch.PageResult
}

// Stats counts each crawl phase
type Stats struct {
	ListingPages report.StageStats
	DetailPages  report.StageStats
	Normalize    report.StageStats
}

// Stages returns the phases in pipeline order for the summary table
func (s Stats) Stages() []report.StageStats {
	return []report.StageStats{s.ListingPages, s.DetailPages, s.Normalize}
}

// CrawlResult is everything one crawl produced
type CrawlResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Raw        []models.RawCoverRecord // Every parsed detail page, in crawl order
	Records    []models.CoverRecord    // Raw records that normalized, same order
	Stats      Stats
}

// Metadata summarizes the run for crawl_metadata.yaml
func (r CrawlResult) Metadata(cfg *config.AppConfig) models.CrawlMetadata {
	return models.CrawlMetadata{
		RunID:                r.RunID,
		BaseURL:              cfg.Source.BaseURL,
		FirstPage:            cfg.Source.FirstPage,
		LastPage:             cfg.Source.LastPage,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
		ListingPagesFetched:  r.Stats.ListingPages.Succeeded,
		ListingPagesFailed:   r.Stats.ListingPages.Failed,
		DetailPagesParsed:    r.Stats.DetailPages.Succeeded + r.Stats.DetailPages.Skipped,
		DetailPagesFailed:    r.Stats.DetailPages.Failed,
		Records:              len(r.Records),
		BlankCovers:          len(r.Records) - len(models.NonBlank(r.Records)),
		NormalizeFailures:    r.Stats.Normalize.Failed,
		SanitizeRulesVersion: cfg.SanitizeRulesVersion,
		RecordsFile:          cfg.RecordsFile,
	}
}

// Crawler walks the listing pages, then every detail page they link to
type Crawler struct {
	cfg        *config.AppConfig
	fetcher    PageFetcher
	paginator  *Paginator
	listing    parse.ListingParser
	detail     parse.DetailParser
	normalizer parse.Normalizer
	details    storage.DetailStore // nil disables the detail cache
	resume     bool
	log        *logrus.Entry
}

// NewCrawler wires a crawler from validated configuration.
// details may be nil. With resume set, detail pages already parsed in details are not fetched again.
func NewCrawler(cfg *config.AppConfig, fetcher PageFetcher, details storage.DetailStore, resume bool, baseLogger *logrus.Entry) (*Crawler, error) {
	src := cfg.Source
	paginator, err := NewPaginator(src.BaseURL, src.FirstPage, src.LastPage)
	if err != nil {
		return nil, err
	}
	return &Crawler{
		cfg:        cfg,
		fetcher:    fetcher,
		paginator:  paginator,
		listing:    parse.ListingParser{ItemSelector: src.ListingItemSelector, LinkSelector: src.ListingLinkSelector},
		detail:     parse.DetailParser{NameSelector: src.DetailNameSelector, ImageSelector: src.DetailImageSelector},
		normalizer: parse.Normalizer{BlankCoverURL: src.BlankCoverURL},
		details:    details,
		resume:     resume,
		log:        baseLogger.WithField("component", "crawler"),
	}, nil
}

// Run performs one crawl. Per-page failures are counted, never returned.
// The error is non-nil only when ctx ends; the partial result is still returned.
func (c *Crawler) Run(ctx context.Context) (CrawlResult, error) {
	res := CrawlResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Stats: Stats{
			ListingPages: report.NewStageStats("listing pages"),
			DetailPages:  report.NewStageStats("detail pages"),
			Normalize:    report.NewStageStats("normalize"),
		},
	}
	runLog := c.log.WithFields(logrus.Fields{"run_id": res.RunID, "resume": c.resume})
	pages := c.paginator.Pages()
	runLog.Infof("Crawl starting: %d listing pages (%d..%d)", len(pages), c.cfg.Source.FirstPage, c.cfg.Source.LastPage)

	if !c.resume && c.details != nil {
		if err := c.details.ResetDetails(); err != nil {
			runLog.Warnf("Could not clear detail cache: %v", err)
		}
	}

	listings := c.fetchListings(ctx, pages)
	if err := ctx.Err(); err != nil {
		res.FinishedAt = time.Now()
		return res, err
	}

	links := c.collectDetailLinks(listings, &res.Stats.ListingPages)
	runLog.Infof("Found %d unique detail pages on %d listing pages", len(links), res.Stats.ListingPages.Succeeded)

	raw, err := c.crawlDetails(ctx, links, &res.Stats.DetailPages)
	res.Raw = raw
	if err != nil {
		res.FinishedAt = time.Now()
		return res, err
	}

	res.Records = c.normalizeAll(raw, &res.Stats.Normalize)
	res.FinishedAt = time.Now()

	runLog.WithFields(logrus.Fields{
		"records":         len(res.Records),
		"blank_covers":    len(res.Records) - len(models.NonBlank(res.Records)),
		"normalize_fails": res.Stats.Normalize.Failed,
		"duration":        res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	}).Info("Crawl finished")
	return res, nil
}

// fetchListings GETs every listing page at once. Slot i belongs to pages[i].
func (c *Crawler) fetchListings(ctx context.Context, pages []ListingPage) []fetch.PageResult {
	results := make([]fetch.PageResult, len(pages))
	var g errgroup.Group
	for i, page := range pages {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.log.WithField("url", page.URL).Errorf("PANIC fetching listing page: %v\n%s", r, string(debug.Stack()))
					results[i] = fetch.Failed(page.URL, fmt.Errorf("panic: %v", r))
				}
			}()
			results[i] = c.fetcher.FetchPage(ctx, page.URL, 0)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// collectDetailLinks parses listings in page order and drops repeated links
func (c *Crawler) collectDetailLinks(listings []fetch.PageResult, stats *report.StageStats) []string {
	seen := make(map[string]bool)
	var links []string
	for _, page := range listings {
		pageLog := c.log.WithField("url", page.URL)
		if !page.OK() {
			pageLog.WithField("error_type", utils.CategorizeError(page.Reason)).Warnf("Skipping listing page: %v", page.Reason)
			stats.Fail(utils.CategorizeError(page.Reason))
			continue
		}
		pageURL, err := url.Parse(page.URL)
		if err != nil {
			stats.Fail(utils.CategorizeError(err))
			continue
		}
		pageLinks, skipped := c.listing.Links(page.Doc, pageURL)
		for _, s := range skipped {
			pageLog.Debugf("Listing item skipped: %v", s)
		}
		if len(pageLinks) == 0 {
			pageLog.Warn("Listing page has no detail links")
		}
		stats.Succeeded++

		for _, link := range pageLinks {
			u, err := url.Parse(link)
			if err != nil {
				continue
			}
			key := parse.NormalizeURL(u)
			if seen[key] {
				pageLog.Debugf("Duplicate detail link %s", link)
				continue
			}
			seen[key] = true
			links = append(links, link)
		}
	}
	return links
}

// crawlDetails fetches detail pages one at a time, detail_delay apart
func (c *Crawler) crawlDetails(ctx context.Context, links []string, stats *report.StageStats) ([]models.RawCoverRecord, error) {
	raw := make([]models.RawCoverRecord, 0, len(links))
	fetched := 0
	for i, link := range links {
		detailLog := c.log.WithFields(logrus.Fields{"url": link, "n": i + 1, "of": len(links)})

		if cached, ok := c.cachedDetail(link, detailLog); ok {
			raw = append(raw, cached)
			stats.Skipped++
			continue
		}

		if fetched > 0 {
			if err := fetch.Sleep(ctx, c.cfg.Source.DetailDelay); err != nil {
				return raw, err
			}
		}
		fetched++

		page := c.fetcher.FetchPage(ctx, link, 0)
		if err := ctx.Err(); err != nil {
			return raw, err
		}
		if !page.OK() {
			category := utils.CategorizeError(page.Reason)
			detailLog.WithField("error_type", category).Warnf("Skipping detail page: %v", page.Reason)
			stats.Fail(category)
			c.storeDetail(link, &models.DetailDBEntry{Status: models.PageStatusFailure, ErrorType: category, LastAttempt: time.Now()}, detailLog)
			continue
		}

		pageURL, err := url.Parse(page.URL)
		if err != nil {
			stats.Fail(utils.CategorizeError(err))
			continue
		}
		rec, missing := c.detail.Parse(page.Doc, pageURL)
		for _, m := range missing {
			detailLog.WithField("error_type", utils.CategorizeError(m)).Warn(m)
		}
		raw = append(raw, rec)
		stats.Succeeded++

		now := time.Now()
		c.storeDetail(link, &models.DetailDBEntry{
			Status:      models.PageStatusParsed,
			Name:        rec.Name,
			ImageLink:   rec.ImageLink,
			ProcessedAt: now,
			LastAttempt: now,
		}, detailLog)
		detailLog.Debug("Detail page parsed")
	}
	return raw, nil
}

func (c *Crawler) cachedDetail(link string, detailLog *logrus.Entry) (models.RawCoverRecord, bool) {
	if !c.resume || c.details == nil {
		return models.RawCoverRecord{}, false
	}
	status, entry, err := c.details.CheckDetail(link)
	if err != nil {
		detailLog.Warnf("Detail cache lookup failed, fetching: %v", err)
		return models.RawCoverRecord{}, false
	}
	if status != models.PageStatusParsed || entry == nil {
		return models.RawCoverRecord{}, false
	}
	detailLog.Debug("Detail page served from cache")
	return models.RawCoverRecord{DetailURL: link, Name: entry.Name, ImageLink: entry.ImageLink}, true
}

func (c *Crawler) storeDetail(link string, entry *models.DetailDBEntry, detailLog *logrus.Entry) {
	if c.details == nil {
		return
	}
	if err := c.details.UpdateDetail(link, entry); err != nil {
		detailLog.Warnf("Could not record detail page: %v", err)
	}
}

// normalizeAll keeps records that normalize; the first record wins a filename collision
func (c *Crawler) normalizeAll(raw []models.RawCoverRecord, stats *report.StageStats) []models.CoverRecord {
	records := make([]models.CoverRecord, 0, len(raw))
	owner := make(map[string]string)
	for _, r := range raw {
		recLog := c.log.WithField("url", r.DetailURL)
		rec, err := c.normalizer.Normalize(r)
		if err != nil {
			category := utils.CategorizeError(err)
			recLog.WithField("error_type", category).Warnf("Record dropped: %v", err)
			stats.Fail(category)
			continue
		}
		if prev, dup := owner[rec.Filename]; dup {
			recLog.WithField("filename", rec.Filename).Warnf("Record dropped: %q maps to the same file as %q", rec.Name, prev)
			stats.Fail("Content_DuplicateFilename")
			continue
		}
		owner[rec.Filename] = rec.Name
		records = append(records, rec)
		stats.Succeeded++
	}
	return records
}
