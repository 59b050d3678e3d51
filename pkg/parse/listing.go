package parse

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// ListingParser pulls detail-page links out of one listing page
type ListingParser struct {
	ItemSelector string // One element per issue, e.g. "li.indexable-book.listing"
	LinkSelector string // First match inside an item carries the href
}

// Links returns detail URLs in markup order, resolved against pageURL.
// Items without a usable href are reported in skipped, never fatal.
func (p ListingParser) Links(doc *goquery.Document, pageURL *url.URL) (links []string, skipped []error) {
	doc.Find(p.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Find(p.LinkSelector).First().Attr("href")
		if !ok {
			skipped = append(skipped, errMissing(p.LinkSelector+"[href]", pageURL.String()))
			return
		}
		abs, err := ResolveLink(pageURL, href)
		if err != nil {
			skipped = append(skipped, err)
			return
		}
		links = append(links, abs)
	})
	return links, skipped
}
