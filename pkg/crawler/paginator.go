package crawler

import (
	"fmt"
	"net/url"
	"strconv"

	"cover-palette/pkg/utils"
)

// ListingPage is one numbered page of the archive index
type ListingPage struct {
	Page int
	URL  string
}

// Paginator enumerates listing pages between two configured bounds.
// The archive answers 200 for any page number, so the bounds always come from configuration.
type Paginator struct {
	base  *url.URL
	first int
	last  int
}

// NewPaginator validates the base URL; first may be greater than last to walk backwards
func NewPaginator(baseURL string, first, last int) (*Paginator, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("%w: base_url %q is not an absolute URL", utils.ErrConfigValidation, baseURL)
	}
	if first < 1 || last < 1 {
		return nil, fmt.Errorf("%w: page bounds must be >= 1 (got %d..%d)", utils.ErrConfigValidation, first, last)
	}
	return &Paginator{base: base, first: first, last: last}, nil
}

// PageURL resolves the page number against the base, the way a relative link "7" would be
func (p *Paginator) PageURL(page int) string {
	return p.base.ResolveReference(&url.URL{Path: strconv.Itoa(page)}).String()
}

// Pages lists every page in configured order, bounds inclusive
func (p *Paginator) Pages() []ListingPage {
	step := 1
	if p.first > p.last {
		step = -1
	}
	pages := make([]ListingPage, 0, abs(p.last-p.first)+1)
	for n := p.first; ; n += step {
		pages = append(pages, ListingPage{Page: n, URL: p.PageURL(n)})
		if n == p.last {
			break
		}
	}
	return pages
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
