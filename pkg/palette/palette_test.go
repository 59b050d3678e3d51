package palette

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cover-palette/pkg/config"
	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

func paletteConfig(k int) config.PaletteConfig {
	return config.PaletteConfig{
		Clusters:      k,
		SwatchPattern: []int{1, 0, 2, 6},
		Seed:          42,
		MaxIterations: 300,
		Tolerance:     1e-4,
	}
}

func mustExtractor(t *testing.T, k int) *Extractor {
	t.Helper()
	e, err := NewExtractor(paletteConfig(k))
	require.NoError(t, err)
	return e
}

// stripes draws vertical bands of the given colours, band i being widths[i] pixels wide
func stripes(h int, colors []color.NRGBA, widths []int) *image.NRGBA {
	w := 0
	for _, bw := range widths {
		w += bw
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	x := 0
	for i, c := range colors {
		for dx := 0; dx < widths[i]; dx++ {
			for y := 0; y < h; y++ {
				img.SetNRGBA(x+dx, y, c)
			}
		}
		x += widths[i]
	}
	return img
}

func TestExtract_TwoByTwoTwoColours(t *testing.T) {
	red := color.NRGBA{255, 0, 0, 255}
	blue := color.NRGBA{0, 0, 255, 255}
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, red)
	img.SetNRGBA(1, 0, blue)
	img.SetNRGBA(0, 1, blue)
	img.SetNRGBA(1, 1, red)

	res, err := mustExtractor(t, 2).ExtractFromImage(img)
	require.NoError(t, err)

	require.Len(t, res.ClusterCenters, 2)
	require.Len(t, res.ClusterLabels, 4)
	assert.Equal(t, []int{2, 2}, res.ClusterCounts, "both centres populated")

	// Each pixel labelled with the centre equal to its colour
	for i, px := range res.Pixels {
		assert.Equal(t, px, res.ClusterCenters[res.ClusterLabels[i]], "pixel %d", i)
	}
	assert.Equal(t, res.ClusterLabels[0], res.ClusterLabels[3])
	assert.Equal(t, res.ClusterLabels[1], res.ClusterLabels[2])
	assert.NotEqual(t, res.ClusterLabels[0], res.ClusterLabels[1])
	assert.ElementsMatch(t, []models.RGB{{255, 0, 0}, {0, 0, 255}}, res.ClusterCenters)
}

func TestExtract_ShapeInvariants(t *testing.T) {
	colors := []color.NRGBA{
		{200, 30, 30, 255}, {30, 200, 30, 255}, {30, 30, 200, 255},
		{240, 240, 240, 255}, {10, 10, 10, 255}, {200, 200, 30, 255},
	}
	img := stripes(7, colors, []int{6, 5, 4, 3, 2, 1})

	for _, k := range []int{1, 2, 3, 4, 6, 10} {
		res, err := mustExtractor(t, k).ExtractFromImage(img)
		require.NoError(t, err, "k=%d", k)

		assert.Equal(t, 21, res.Width)
		assert.Equal(t, 7, res.Height)
		assert.Len(t, res.Pixels, 21*7)
		assert.Len(t, res.ClusterCenters, k)
		assert.Len(t, res.ClusterLabels, 21*7)
		total := 0
		for _, c := range res.ClusterCounts {
			total += c
		}
		assert.Equal(t, 21*7, total)
		for _, l := range res.ClusterLabels {
			assert.True(t, l >= 0 && l < k)
		}
		for i, idx := range res.SwatchIndices {
			require.True(t, idx >= 0 && idx < k, "k=%d swatch %d index %d", k, i, idx)
			assert.Equal(t, res.ClusterCenters[idx], res.Swatches[i])
		}
	}
}

func TestExtract_SwatchesFollowRankPattern(t *testing.T) {
	// Seven distinct colours with distinct frequencies, k=7: every colour is its own cluster
	colors := []color.NRGBA{
		{10, 10, 10, 255}, {250, 250, 250, 255}, {250, 10, 10, 255}, {10, 250, 10, 255},
		{10, 10, 250, 255}, {250, 250, 10, 255}, {10, 250, 250, 255},
	}
	img := stripes(1, colors, []int{7, 6, 5, 4, 3, 2, 1})

	res, err := mustExtractor(t, 7).ExtractFromImage(img)
	require.NoError(t, err)

	// Ranked by frequency the colours are in declaration order; pattern picks 2nd, 1st, 3rd, 7th
	want := [4]models.RGB{{250, 250, 250}, {10, 10, 10}, {250, 10, 10}, {10, 250, 250}}
	assert.Equal(t, want, res.Swatches)
}

func TestExtract_FewerColoursThanClusters(t *testing.T) {
	img := stripes(2, []color.NRGBA{{0, 0, 0, 255}, {255, 255, 255, 255}}, []int{3, 1})

	res, err := mustExtractor(t, 10).ExtractFromImage(img)
	require.NoError(t, err)

	nonEmpty := 0
	for _, c := range res.ClusterCounts {
		if c > 0 {
			nonEmpty++
		}
	}
	assert.Equal(t, 2, nonEmpty)
	// Position 6 clamps to the least common cluster, an empty duplicate
	assert.Len(t, res.ClusterCenters, 10)
	assert.Equal(t, models.RGB{255, 255, 255}, res.Swatches[0])
	assert.Equal(t, models.RGB{0, 0, 0}, res.Swatches[1])
}

func TestExtract_Deterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 16), uint8(y * 16), uint8((x + y) * 8), 255})
		}
	}
	e := mustExtractor(t, 5)
	first, err := e.ExtractFromImage(img)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := e.ExtractFromImage(img)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExtract_AlphaDropped(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{100, 150, 200, 0})
	img.SetNRGBA(1, 0, color.NRGBA{100, 150, 200, 128})

	res, err := mustExtractor(t, 1).ExtractFromImage(img)
	require.NoError(t, err)
	assert.Equal(t, []models.RGB{{100, 150, 200}, {100, 150, 200}}, res.Pixels)
	assert.Equal(t, models.RGB{100, 150, 200}, res.ClusterCenters[0])
}

func TestExtract_RGBAImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 2))
	img.SetRGBA(0, 0, color.RGBA{10, 20, 30, 255})
	img.SetRGBA(0, 1, color.RGBA{10, 20, 30, 255})

	res, err := mustExtractor(t, 2).ExtractFromImage(img)
	require.NoError(t, err)
	assert.Equal(t, models.RGB{10, 20, 30}, res.Pixels[0])
	assert.Len(t, res.ClusterCenters, 2)
}

func TestExtract_EmptyImage(t *testing.T) {
	_, err := mustExtractor(t, 2).ExtractFromImage(image.NewNRGBA(image.Rect(0, 0, 0, 5)))
	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.Equal(t, "Image_Empty", utils.CategorizeError(err))
}

func TestExtract_Files(t *testing.T) {
	dir := t.TempDir()
	img := stripes(4, []color.NRGBA{{255, 0, 0, 255}, {0, 0, 255, 255}}, []int{4, 4})

	pngPath := filepath.Join(dir, "2004_1_2.png")
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	jpgPath := filepath.Join(dir, "2004_3_4.jpg")
	f, err = os.Create(jpgPath)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 95}))
	require.NoError(t, f.Close())

	e := mustExtractor(t, 2)
	res, err := e.Extract(pngPath)
	require.NoError(t, err)
	assert.Equal(t, "2004_1_2", res.Filename)
	assert.Equal(t, pngPath, res.Filepath)
	assert.Equal(t, []int{16, 16}, res.ClusterCounts)

	res, err = e.Extract(jpgPath)
	require.NoError(t, err)
	assert.Equal(t, "2004_3_4", res.Filename)
	assert.Len(t, res.ClusterLabels, 32)
}

func TestExtract_DecodeErrors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.jpg")
	require.NoError(t, os.WriteFile(junk, []byte("<html>not an image</html>"), 0644))

	e := mustExtractor(t, 2)
	for _, path := range []string{junk, filepath.Join(dir, "missing.jpg")} {
		_, err := e.Extract(path)
		require.Error(t, err)
		var de *DecodeError
		require.True(t, errors.As(err, &de), "path %s", path)
		assert.Equal(t, path, de.Path)
		assert.ErrorIs(t, err, utils.ErrImageDecode)
		assert.Equal(t, "Image_Decode", utils.CategorizeError(err))
	}
}

func TestNewExtractor_Validation(t *testing.T) {
	_, err := NewExtractor(paletteConfig(0))
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	cfg := paletteConfig(4)
	cfg.SwatchPattern = []int{0, 1}
	_, err = NewExtractor(cfg)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	cfg.SwatchPattern = nil
	e, err := NewExtractor(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultPattern, e.pattern)
}

func TestKMeans_Errors(t *testing.T) {
	_, err := KMeans([]Point{{1, 2, 3}}, Options{K: 0})
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	_, err = KMeans(nil, Options{K: 2})
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestKMeans_EmptyClusterReseeded(t *testing.T) {
	// Two tight groups far apart; whatever the seeding, both end up populated
	points := []Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {250, 250, 250}, {251, 250, 250}, {250, 251, 250}}
	for seed := int64(0); seed < 20; seed++ {
		cl, err := KMeans(points, Options{K: 2, Seed: seed, MaxIterations: 50, Tolerance: 1e-4})
		require.NoError(t, err)
		assert.Equal(t, []int{3, 3}, sortedCounts(cl.Counts), "seed %d", seed)
	}
}

func TestRankAndSelectSwatches(t *testing.T) {
	counts := []int{5, 9, 9, 1, 7}
	assert.Equal(t, []int{1, 2, 4, 0, 3}, Rank(counts))

	assert.Equal(t, [4]int{2, 1, 4, 3}, SelectSwatches(counts, [4]int{1, 0, 2, 6}))
	assert.Equal(t, [4]int{0, 0, 0, 0}, SelectSwatches([]int{12}, DefaultPattern))
	assert.Equal(t, [4]int{}, SelectSwatches(nil, DefaultPattern))
}

func sortedCounts(c []int) []int {
	out := append([]int(nil), c...)
	if len(out) == 2 && out[0] > out[1] {
		out[0], out[1] = out[1], out[0]
	}
	return out
}
