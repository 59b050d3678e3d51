package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"time"

	"cover-palette/pkg/utils"
)

// Defaults for the archive markup
const (
	DefaultListingItemSelector = "li.indexable-book.listing"
	DefaultListingLinkSelector = "a[href]"
	DefaultDetailNameSelector  = "h1"
	DefaultDetailImageSelector = "img.img-maxwidth"
)

// DefaultSwatchPattern picks the 2nd, 1st, 3rd and 7th most common clusters
var DefaultSwatchPattern = []int{1, 0, 2, 6}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Required: DataDir
	if c.DataDir == "" {
		return nil, fmt.Errorf("%w: data_dir is required", utils.ErrConfigValidation)
	}

	srcWarnings, err := c.Source.Validate()
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, srcWarnings...)

	palWarnings, err := c.Palette.Validate()
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, palWarnings...)

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	// Collection
	if c.Collection == "" {
		warnings = append(warnings, "collection is empty, defaulting to 'covers'")
		c.Collection = "covers"
	}

	// RecordsFile
	if c.RecordsFile == "" {
		c.RecordsFile = "covers.csv"
	}

	// StateDir
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.DataDir, "state")
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// Workers
	if c.NumImageWorkers <= 0 {
		warnings = append(warnings, "num_image_workers should be > 0, defaulting to 4")
		c.NumImageWorkers = 4
	}
	if c.NumPaletteWorkers <= 0 {
		c.NumPaletteWorkers = runtime.NumCPU()
		warnings = append(warnings, fmt.Sprintf(
			"num_palette_workers not specified or invalid, defaulting to NumCPU (%d)", c.NumPaletteWorkers))
	}

	// DownloadChunkSize
	if c.DownloadChunkSize <= 0 {
		c.DownloadChunkSize = 4096
	}

	if c.ImageDelay < 0 {
		warnings = append(warnings, "image_delay cannot be negative, setting to 0")
		c.ImageDelay = 0
	}

	if c.GlobalTimeout < 0 {
		warnings = append(warnings, "global_timeout cannot be negative, disabling timeout")
		c.GlobalTimeout = 0
	}

	// Sanitize rules
	switch {
	case len(c.SanitizeRules) == 0:
		if c.SanitizeRulesVersion != 0 && c.SanitizeRulesVersion != utils.DefaultRulesVersion {
			warnings = append(warnings, fmt.Sprintf(
				"sanitize_rules_version %d has no rules attached, using built-in version %d",
				c.SanitizeRulesVersion, utils.DefaultRulesVersion))
		}
		c.SanitizeRules = utils.DefaultReplaceRules()
		c.SanitizeRulesVersion = utils.DefaultRulesVersion
	case c.SanitizeRulesVersion == 0:
		warnings = append(warnings, "sanitize_rules given without sanitize_rules_version; names may not match earlier runs")
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 16
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}

// Validate checks SourceConfig fields and applies defaults.
// The page range is never inferred: the archive answers 200 past its last page.
func (s *SourceConfig) Validate() (warnings []string, err error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("%w: source.base_url is required", utils.ErrConfigValidation)
	}
	u, perr := url.Parse(s.BaseURL)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: source.base_url %q must be an absolute http(s) URL", utils.ErrConfigValidation, s.BaseURL)
	}

	if s.FirstPage < 1 || s.LastPage < 1 {
		return nil, fmt.Errorf("%w: source.first_page and source.last_page must both be >= 1 (got %d, %d)",
			utils.ErrConfigValidation, s.FirstPage, s.LastPage)
	}

	if s.ListingItemSelector == "" {
		s.ListingItemSelector = DefaultListingItemSelector
	}
	if s.ListingLinkSelector == "" {
		s.ListingLinkSelector = DefaultListingLinkSelector
	}
	if s.DetailNameSelector == "" {
		s.DetailNameSelector = DefaultDetailNameSelector
	}
	if s.DetailImageSelector == "" {
		s.DetailImageSelector = DefaultDetailImageSelector
	}

	if s.BlankCoverURL == "" {
		warnings = append(warnings, "source.blank_cover_url is empty, crawl and run will refuse to start")
	}

	if s.DetailDelay < 0 {
		warnings = append(warnings, "source.detail_delay cannot be negative, defaulting to 1s")
		s.DetailDelay = time.Second
	} else if s.DetailDelay == 0 {
		s.DetailDelay = time.Second
	}

	return warnings, nil
}

// Validate checks PaletteConfig fields and applies defaults.
// A zero seed selects the default seed 42.
func (p *PaletteConfig) Validate() (warnings []string, err error) {
	if p.Clusters < 0 {
		return nil, fmt.Errorf("%w: palette.clusters must be >= 1", utils.ErrConfigValidation)
	}
	if p.Clusters == 0 {
		p.Clusters = 10
	}

	if len(p.SwatchPattern) == 0 {
		p.SwatchPattern = append([]int(nil), DefaultSwatchPattern...)
	}
	if len(p.SwatchPattern) != 4 {
		return nil, fmt.Errorf("%w: palette.swatch_pattern needs exactly 4 positions, got %d",
			utils.ErrConfigValidation, len(p.SwatchPattern))
	}
	for _, pos := range p.SwatchPattern {
		if pos < 0 {
			return nil, fmt.Errorf("%w: palette.swatch_pattern positions must be >= 0", utils.ErrConfigValidation)
		}
		if pos >= p.Clusters {
			warnings = append(warnings, fmt.Sprintf(
				"palette.swatch_pattern position %d >= clusters (%d), it will clamp to the least common cluster",
				pos, p.Clusters))
		}
	}

	if p.Seed == 0 {
		p.Seed = 42
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 300
	}
	if p.Tolerance < 0 {
		warnings = append(warnings, "palette.tolerance cannot be negative, defaulting to 1e-4")
		p.Tolerance = 1e-4
	} else if p.Tolerance == 0 {
		p.Tolerance = 1e-4
	}

	return warnings, nil
}
