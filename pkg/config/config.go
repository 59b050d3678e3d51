package config

import (
	"path/filepath"
	"time"

	"cover-palette/pkg/utils"
)

// DefaultUserAgent is a standard desktop browser string; the archive rejects obvious bots
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// SourceConfig describes the paginated archive being crawled
type SourceConfig struct {
	BaseURL             string        `yaml:"base_url"`
	FirstPage           int           `yaml:"first_page"`
	LastPage            int           `yaml:"last_page"`
	ListingItemSelector string        `yaml:"listing_item_selector,omitempty"`
	ListingLinkSelector string        `yaml:"listing_link_selector,omitempty"`
	DetailNameSelector  string        `yaml:"detail_name_selector,omitempty"`
	DetailImageSelector string        `yaml:"detail_image_selector,omitempty"`
	BlankCoverURL       string        `yaml:"blank_cover_url,omitempty"`
	DetailDelay         time.Duration `yaml:"detail_delay,omitempty"`
	RespectRobots       bool          `yaml:"respect_robots,omitempty"`
}

// PaletteConfig holds the clustering and swatch selection parameters
type PaletteConfig struct {
	Clusters       int     `yaml:"clusters,omitempty"`
	SwatchPattern  []int   `yaml:"swatch_pattern,omitempty"` // Ranked positions (0 = most common) picked as swatches
	Seed           int64   `yaml:"seed,omitempty"`
	MaxIterations  int     `yaml:"max_iterations,omitempty"`
	Tolerance      float64 `yaml:"tolerance,omitempty"`
	WriteArtifacts *bool   `yaml:"write_artifacts,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent            string              `yaml:"user_agent,omitempty"`
	DataDir              string              `yaml:"data_dir"`
	Collection           string              `yaml:"collection,omitempty"` // Label of the archive; sanitized into the image folder name
	RecordsFile          string              `yaml:"records_file,omitempty"`
	StateDir             string              `yaml:"state_dir,omitempty"`
	MaxRetries           int                 `yaml:"max_retries,omitempty"`
	InitialRetryDelay    time.Duration       `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay        time.Duration       `yaml:"max_retry_delay,omitempty"`
	NumImageWorkers      int                 `yaml:"num_image_workers,omitempty"`
	NumPaletteWorkers    int                 `yaml:"num_palette_workers,omitempty"`
	DownloadChunkSize    int                 `yaml:"download_chunk_size,omitempty"`
	ImageDelay           time.Duration       `yaml:"image_delay,omitempty"` // Minimum gap between image requests to one host
	GlobalTimeout        time.Duration       `yaml:"global_timeout,omitempty"`
	HTTPClientSettings   HTTPClientConfig    `yaml:"http_client_settings,omitempty"`
	Source               SourceConfig        `yaml:"source"`
	Palette              PaletteConfig       `yaml:"palette,omitempty"`
	SanitizeRulesVersion int                 `yaml:"sanitize_rules_version,omitempty"`
	SanitizeRules        []utils.ReplaceRule `yaml:"sanitize_rules,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// ImageDir is where cover images live: <data_dir>/raw/<collection folder>
func (c *AppConfig) ImageDir() string {
	return filepath.Join(c.DataDir, "raw", utils.FolderName(c.Collection, c.SanitizeRules))
}

// RecordsPath is the canonical records table
func (c *AppConfig) RecordsPath() string {
	return filepath.Join(c.DataDir, "raw", c.RecordsFile)
}

// MetadataPath sits next to the records table
func (c *AppConfig) MetadataPath() string {
	return filepath.Join(c.DataDir, "raw", "crawl_metadata.yaml")
}

// InterimDir holds per-image palette artifacts
func (c *AppConfig) InterimDir() string {
	return filepath.Join(c.DataDir, "interim")
}

// LockPath guards the data dir against concurrent pipeline processes
func (c *AppConfig) LockPath() string {
	return filepath.Join(c.DataDir, ".cover-palette.lock")
}

// EffectiveWriteArtifacts reports whether palette artifacts are persisted (default true)
func (p PaletteConfig) EffectiveWriteArtifacts() bool {
	if p.WriteArtifacts != nil {
		return *p.WriteArtifacts
	}
	return true
}
