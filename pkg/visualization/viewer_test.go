package visualization

import (
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"ctsim/internal/models"
)

func gradient(width, height int) *models.Image {
	img := models.NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, float64(x))
		}
	}
	return img
}

// TestDataWindow verifies that the window ignores non-finite values
func TestDataWindow(t *testing.T) {
	w := DataWindow([]float64{3, math.NaN(), -2, math.Inf(1), 7})
	assert.Equal(t, Window{Low: -2, High: 7}, w)

	assert.Equal(t, Window{Low: 0, High: 1}, DataWindow(nil))
	assert.Equal(t, Window{Low: 0, High: 1}, DataWindow([]float64{math.NaN()}))
}

// TestGray16 verifies the value mapping of the 16-bit export
func TestGray16(t *testing.T) {
	data := []float64{-5, 0, 5, 10, 20, math.NaN()}
	img, err := Gray16(data, 3, 2, Window{Low: 0, High: 10})
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	assert.Equal(t, uint16(0), img.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(0), img.Gray16At(1, 0).Y)
	assert.Equal(t, uint16(32768), img.Gray16At(2, 0).Y)
	assert.Equal(t, uint16(65535), img.Gray16At(0, 1).Y)
	assert.Equal(t, uint16(65535), img.Gray16At(1, 1).Y)
	assert.Equal(t, uint16(0), img.Gray16At(2, 1).Y)

	flat, err := Gray16([]float64{4, 4}, 2, 1, Window{Low: 4, High: 4})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), flat.Gray16At(1, 0).Y)

	_, err = Gray16(data, 4, 2, Window{Low: 0, High: 1})
	assert.ErrorIs(t, err, models.ErrShape)
}

// TestPreviewCaption verifies the caption strip is added and drawn into
func TestPreviewCaption(t *testing.T) {
	img := gradient(64, 16)

	plain, err := Preview(img.Data, 64, 16, DataWindow(img.Data), "")
	require.NoError(t, err)
	assert.Equal(t, 16, plain.Bounds().Dy())
	assert.Equal(t, uint8(0), plain.RGBAAt(0, 5).R)
	assert.Equal(t, uint8(255), plain.RGBAAt(63, 5).R)

	captioned, err := Preview(img.Data, 64, 16, DataWindow(img.Data), "Water")
	require.NoError(t, err)
	assert.Equal(t, 16+captionHeight, captioned.Bounds().Dy())

	lit := 0
	for y := 16; y < 16+captionHeight; y++ {
		for x := 0; x < 64; x++ {
			if captioned.RGBAAt(x, y).R > 0 {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 0, "caption text should be drawn")

	_, err = Preview(img.Data, 10, 10, DataWindow(img.Data), "")
	assert.ErrorIs(t, err, models.ErrShape)
}

// TestViewerSaveImage verifies that both formats are written and decodable
func TestViewerSaveImage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	viewer := NewViewer(dir, true, true)

	img := gradient(20, 10)
	written, err := viewer.SaveImage("recon", img, "recon", false)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "recon.tiff"), filepath.Join(dir, "recon.png")}, written)

	f, err := os.Open(written[0])
	require.NoError(t, err)
	defer f.Close()
	decoded, err := tiff.Decode(f)
	require.NoError(t, err)
	gray, ok := decoded.(*image.Gray16)
	require.True(t, ok, "expected a 16-bit grey TIFF, got %T", decoded)
	assert.Equal(t, 20, gray.Bounds().Dx())
	assert.Equal(t, 10, gray.Bounds().Dy())
	assert.Equal(t, uint16(65535), gray.Gray16At(19, 3).Y)

	p, err := os.Open(written[1])
	require.NoError(t, err)
	defer p.Close()
	preview, err := png.Decode(p)
	require.NoError(t, err)
	assert.Equal(t, 10+captionHeight, preview.Bounds().Dy())
}

// TestViewerSaveHUImage verifies HU images use the fixed HU window
func TestViewerSaveHUImage(t *testing.T) {
	dir := t.TempDir()
	viewer := NewViewer(dir, false, true)

	img := models.NewImage(2, 1)
	img.Data[0] = -1024
	img.Data[1] = 0
	written, err := viewer.SaveImage("hu", img, "", true)
	require.NoError(t, err)
	require.Len(t, written, 1)

	f, err := os.Open(written[0])
	require.NoError(t, err)
	defer f.Close()
	decoded, err := tiff.Decode(f)
	require.NoError(t, err)
	gray := decoded.(*image.Gray16)
	assert.Equal(t, uint16(0), gray.Gray16At(0, 0).Y)
	assert.InDelta(t, 65535*1024.0/4095.0, float64(gray.Gray16At(1, 0).Y), 1)
}

// TestViewerSaveSinogram verifies sinograms are laid out angles by samples
func TestViewerSaveSinogram(t *testing.T) {
	dir := t.TempDir()
	viewer := NewViewer(dir, true, false)

	s := models.NewSinogram(6, 9, models.UnitCounts)
	for i := range s.Data {
		s.Data[i] = float64(i)
	}
	written, err := viewer.SaveSinogram("sino", s, "")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "sino.png")}, written)

	f, err := os.Open(written[0])
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 9, 6), decoded.Bounds())

	_, err = viewer.SaveSinogram("bad", &models.Sinogram{Angles: 2, Samples: 2}, "")
	assert.ErrorIs(t, err, models.ErrShape)
}

func TestViewerNoFormats(t *testing.T) {
	viewer := NewViewer(t.TempDir(), false, false)
	written, err := viewer.SaveImage("none", gradient(4, 4), "", false)
	require.NoError(t, err)
	assert.Empty(t, written)
}
