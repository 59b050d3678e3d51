package parse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

// DetailParser reads the issue name and cover image from a detail page
type DetailParser struct {
	NameSelector  string // e.g. "h1"
	ImageSelector string // e.g. "img.img-maxwidth"; its src is the cover
}

// Parse never fails the record: an absent element yields a nil field plus an entry in missing.
func (p DetailParser) Parse(doc *goquery.Document, pageURL *url.URL) (raw models.RawCoverRecord, missing []error) {
	raw.DetailURL = pageURL.String()

	if heading := doc.Find(p.NameSelector).First(); heading.Length() > 0 {
		if name := strings.TrimSpace(heading.Text()); name != "" {
			raw.Name = &name
		}
	}
	if raw.Name == nil {
		missing = append(missing, errMissing(p.NameSelector, raw.DetailURL))
	}

	src, ok := doc.Find(p.ImageSelector).First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		missing = append(missing, errMissing(p.ImageSelector+"[src]", raw.DetailURL))
		return raw, missing
	}
	link, err := ResolveLink(pageURL, src)
	if err != nil {
		missing = append(missing, err)
		return raw, missing
	}
	raw.ImageLink = &link
	return raw, missing
}

func errMissing(selector, pageURL string) error {
	return fmt.Errorf("%w: %q on %s", utils.ErrSelectorNotFound, selector, pageURL)
}
