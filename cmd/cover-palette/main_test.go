package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cover-palette/pkg/config"
	"cover-palette/pkg/utils"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
data_dir: "./data"
collection: "Cook's Illustrated"
num_image_workers: 6
source:
  base_url: "https://example.com/magazines/ci/"
  first_page: 26
  last_page: 1
  detail_delay: 2s
palette:
  clusters: 8
  swatch_pattern: [1, 0, 2, 6]
`)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 6, cfg.NumImageWorkers)
	assert.Equal(t, 26, cfg.Source.FirstPage)
	assert.Equal(t, "2s", cfg.Source.DetailDelay.String())
	assert.Equal(t, 8, cfg.Palette.Clusters)
	assert.Equal(t, []int{1, 0, 2, 6}, cfg.Palette.SwatchPattern)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_Valid(t *testing.T) {
	cfgPath := writeConfig(t, `
data_dir: "/tmp/covers"
collection: "Cook's Illustrated"
source:
  base_url: "https://example.com/magazines/ci/"
  first_page: 3
  last_page: 1
  blank_cover_url: "https://example.com/placeholder"
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: https://example.com/magazines/ci/ pages 3..1")
	assert.Contains(t, stdout.String(), filepath.Join("raw", "Cooks-Illustrated"))
	assert.Contains(t, stdout.String(), "Configuration valid")
	assert.Empty(t, stderr.String())
}

func TestDoValidate_Warnings(t *testing.T) {
	cfgPath := writeConfig(t, `
data_dir: "/tmp/covers"
source:
  base_url: "https://example.com/magazines/ci/"
  first_page: 1
  last_page: 1
palette:
  clusters: 3
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "WARN: source.blank_cover_url is empty")
	assert.Contains(t, stdout.String(), "WARN: palette.swatch_pattern position 6")
}

func TestDoValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no data dir", "source:\n  base_url: \"https://example.com/\"\n  first_page: 1\n  last_page: 1\n"},
		{"relative base url", "data_dir: d\nsource:\n  base_url: \"/magazines\"\n  first_page: 1\n  last_page: 1\n"},
		{"page zero", "data_dir: d\nsource:\n  base_url: \"https://example.com/\"\n  first_page: 0\n  last_page: 1\n"},
		{"short pattern", "data_dir: d\nsource:\n  base_url: \"https://example.com/\"\n  first_page: 1\n  last_page: 1\npalette:\n  swatch_pattern: [0, 1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			exitCode := doValidate(writeConfig(t, tt.content), &stdout, &stderr)

			assert.Equal(t, 1, exitCode)
			assert.Contains(t, stderr.String(), "ERROR")
		})
	}
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestCheckStage_BlankCoverURL(t *testing.T) {
	empty := &config.AppConfig{}
	set := &config.AppConfig{Source: config.SourceConfig{BlankCoverURL: "/img/placeholder"}}

	for _, stage := range []string{"crawl", "run"} {
		err := checkStage(stage, empty)
		assert.ErrorIs(t, err, utils.ErrConfigValidation, stage)
		assert.Contains(t, err.Error(), "blank_cover_url", stage)
		assert.NoError(t, checkStage(stage, set), stage)
	}
	// Later stages read the records table and never look at the placeholder
	for _, stage := range []string{"download", "palette"} {
		assert.NoError(t, checkStage(stage, empty), stage)
	}
}

func TestExecuteStage_RunRefusesMissingBlankCoverURL(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
data_dir: %q
source:
  base_url: "http://127.0.0.1:1/ci/"
  first_page: 1
  last_page: 1
`, dataDir))

	assert.Equal(t, 1, executeStage("run", cfgPath, "error", "", false))
	_, err := os.Stat(filepath.Join(dataDir, "raw"))
	assert.True(t, os.IsNotExist(err), "nothing crawled")
}

func TestExitCode(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	assert.Equal(t, 0, exitCode(nil, log))
	assert.Equal(t, 0, exitCode(fmt.Errorf("crawl interrupted: %w", context.Canceled), log))
	assert.Equal(t, 1, exitCode(fmt.Errorf("crawl interrupted: %w", context.DeadlineExceeded), log))
	assert.Equal(t, 1, exitCode(errors.New("records table missing"), log))
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"crawl", "download", "palette", "run", "validate", "version"} {
		assert.Contains(t, out, cmd)
	}
}
