package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"cover-palette/pkg/utils"
)

// PageResult is the outcome of fetching one HTML page: exactly one of Doc or Reason is set.
type PageResult struct {
	URL    string
	Doc    *goquery.Document
	Reason error
}

// Ok wraps a parsed document
func Ok(url string, doc *goquery.Document) PageResult {
	return PageResult{URL: url, Doc: doc}
}

// Failed records why a page could not be obtained
func Failed(url string, reason error) PageResult {
	if reason == nil {
		reason = fmt.Errorf("%w: no reason given", utils.ErrOtherHTTPError)
	}
	return PageResult{URL: url, Reason: reason}
}

// OK reports whether the page was fetched and parsed
func (p PageResult) OK() bool {
	return p.Reason == nil && p.Doc != nil
}

// FetchPage GETs rawURL and parses the body as HTML.
// It never returns an error: fetch and parse failures become Failed results for the caller to skip.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string, minDelay time.Duration) PageResult {
	pageLog := f.log.WithField("url", rawURL)

	resp, err := f.Get(ctx, rawURL, minDelay)
	if err != nil {
		pageLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Page fetch failed: %v", err)
		return Failed(rawURL, err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		err = fmt.Errorf("%w: HTML body of %s: %w", utils.ErrParsing, rawURL, err)
		pageLog.Warn(err)
		return Failed(rawURL, err)
	}
	return Ok(rawURL, doc)
}
