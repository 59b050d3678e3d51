package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

// ArtifactSuffix follows the record filename in artifact names
const ArtifactSuffix = "_cover.json.zst"

// PaletteArtifact is the persisted, column-oriented form of a models.PaletteResult
type PaletteArtifact struct {
	Filepath       string        `json:"filepath"`
	Filename       string        `json:"filename"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	OgImage        []models.RGB  `json:"og_image"`        // Source pixels, row-major
	SegmentedImage []models.RGB  `json:"segmented_image"` // Each pixel replaced by its centre
	ImageLabels    []models.RGB  `json:"image_labels"`    // Cluster centres
	ClusterCounts  []int         `json:"cluster_counts"`
	Swatches       [4]models.RGB `json:"swatches"`
}

// NewPaletteArtifact flattens res into artifact columns
func NewPaletteArtifact(res models.PaletteResult) PaletteArtifact {
	segmented := make([]models.RGB, len(res.ClusterLabels))
	for i, label := range res.ClusterLabels {
		segmented[i] = res.ClusterCenters[label]
	}
	return PaletteArtifact{
		Filepath:       res.Filepath,
		Filename:       res.Filename,
		Width:          res.Width,
		Height:         res.Height,
		OgImage:        res.Pixels,
		SegmentedImage: segmented,
		ImageLabels:    res.ClusterCenters,
		ClusterCounts:  res.ClusterCounts,
		Swatches:       res.Swatches,
	}
}

// PaletteWriter stores one zstd-compressed artifact per cover under Dir
type PaletteWriter struct {
	Dir string
}

// Path is where the artifact for filename lives
func (w PaletteWriter) Path(filename string) string {
	return filepath.Join(w.Dir, filename+ArtifactSuffix)
}

// Exists reports whether an artifact for filename is already on disk
func (w PaletteWriter) Exists(filename string) bool {
	_, err := os.Stat(w.Path(filename))
	return err == nil
}

// Write persists res and returns the artifact path. An existing artifact is replaced.
func (w PaletteWriter) Write(res models.PaletteResult) (string, error) {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return "", fmt.Errorf("%w: creating %s: %w", utils.ErrFilesystem, w.Dir, err)
	}
	target := w.Path(res.Filename)

	tmp, err := os.CreateTemp(w.Dir, "."+res.Filename+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("creating zstd encoder: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(NewPaletteArtifact(res)); err != nil {
		enc.Close()
		tmp.Close()
		return "", fmt.Errorf("encoding artifact for %s: %w", res.Filename, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: compressing artifact for %s: %w", utils.ErrFilesystem, res.Filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("%w: publishing %s: %w", utils.ErrFilesystem, target, err)
	}
	return target, nil
}

// ReadPaletteArtifact decodes an artifact written by PaletteWriter
func ReadPaletteArtifact(path string) (PaletteArtifact, error) {
	var art PaletteArtifact
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return art, fmt.Errorf("%w: no artifact at %s: %w", utils.ErrFilesystem, path, err)
		}
		return art, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return art, fmt.Errorf("%w: zstd stream %s: %w", utils.ErrParsing, path, err)
	}
	defer dec.Close()

	if err := json.NewDecoder(dec).Decode(&art); err != nil {
		return art, fmt.Errorf("%w: artifact %s: %w", utils.ErrParsing, path, err)
	}
	return art, nil
}
