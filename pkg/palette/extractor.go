package palette

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp" // Register WebP decoder

	"cover-palette/pkg/config"
	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

// ErrEmptyImage is returned for images with no pixels
var ErrEmptyImage = utils.ErrEmptyImage

// DecodeError reports a cover that could not be opened or decoded
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s: %v", utils.ErrImageDecode, e.Path, e.Err)
}

// Unwrap exposes both utils.ErrImageDecode and the underlying cause
func (e *DecodeError) Unwrap() []error {
	return []error{utils.ErrImageDecode, e.Err}
}

// Extractor clusters cover pixels and picks four swatches
type Extractor struct {
	opts    Options
	pattern [4]int
}

// NewExtractor builds an Extractor from validated palette settings
func NewExtractor(cfg config.PaletteConfig) (*Extractor, error) {
	if cfg.Clusters < 1 {
		return nil, fmt.Errorf("%w: palette.clusters must be >= 1, got %d", utils.ErrConfigValidation, cfg.Clusters)
	}
	pattern := DefaultPattern
	if len(cfg.SwatchPattern) > 0 {
		if len(cfg.SwatchPattern) != len(pattern) {
			return nil, fmt.Errorf("%w: palette.swatch_pattern needs %d positions, got %d", utils.ErrConfigValidation, len(pattern), len(cfg.SwatchPattern))
		}
		copy(pattern[:], cfg.SwatchPattern)
	}
	return &Extractor{
		opts: Options{
			K:             cfg.Clusters,
			Seed:          cfg.Seed,
			MaxIterations: cfg.MaxIterations,
			Tolerance:     cfg.Tolerance,
		},
		pattern: pattern,
	}, nil
}

// Extract decodes the image at path and clusters it. Filename is the path's base without extension.
func (e *Extractor) Extract(path string) (models.PaletteResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.PaletteResult{}, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return models.PaletteResult{}, &DecodeError{Path: path, Err: err}
	}
	res, err := e.ExtractFromImage(img)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	res.Filepath = path
	res.Filename = stem(path)
	return res, nil
}

// ExtractFromImage clusters an already decoded image
func (e *Extractor) ExtractFromImage(img image.Image) (models.PaletteResult, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return models.PaletteResult{}, ErrEmptyImage
	}

	pixels := rgbPixels(img)
	points := make([]Point, len(pixels))
	for i, p := range pixels {
		points[i] = Point{float64(p[0]), float64(p[1]), float64(p[2])}
	}

	cl, err := KMeans(points, e.opts)
	if err != nil {
		return models.PaletteResult{}, err
	}

	centers := make([]models.RGB, len(cl.Centers))
	for i, c := range cl.Centers {
		centers[i] = toRGB(c)
	}
	idx := SelectSwatches(cl.Counts, e.pattern)
	var swatches [4]models.RGB
	for i, j := range idx {
		swatches[i] = centers[j]
	}

	return models.PaletteResult{
		Width:          w,
		Height:         h,
		Pixels:         pixels,
		ClusterCenters: centers,
		ClusterLabels:  cl.Labels,
		ClusterCounts:  cl.Counts,
		SwatchIndices:  idx,
		Swatches:       swatches,
	}, nil
}

// rgbPixels flattens img row-major into 8-bit RGB. Alpha is dropped from the
// non-premultiplied colour, so a translucent pixel keeps its stored hue.
func rgbPixels(img image.Image) []models.RGB {
	b := img.Bounds()
	out := make([]models.RGB, 0, b.Dx()*b.Dy())

	switch src := img.(type) {
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := src.YCbCrAt(x, y)
				r, g, bl := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				out = append(out, models.RGB{r, g, bl})
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := src.NRGBAAt(x, y)
				out = append(out, models.RGB{c.R, c.G, c.B})
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out = append(out, models.RGB{c.R, c.G, c.B})
			}
		}
	}
	return out
}

func toRGB(p Point) models.RGB {
	var c models.RGB
	for i, v := range p {
		c[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
	return c
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
