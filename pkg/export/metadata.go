package export

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

// WriteCrawlMetadata writes meta as YAML to path
func WriteCrawlMetadata(path string, meta models.CrawlMetadata) error {
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal crawl metadata to YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write metadata YAML file '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// ReadCrawlMetadata loads a file written by WriteCrawlMetadata
func ReadCrawlMetadata(path string) (models.CrawlMetadata, error) {
	var meta models.CrawlMetadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: crawl metadata %s: %w", utils.ErrParsing, path, err)
	}
	return meta, nil
}
