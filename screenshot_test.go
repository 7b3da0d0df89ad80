package devctl

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestScreenshotCacheCloneNilWhenEmpty(t *testing.T) {
	c := NewScreenshotCache()
	assert.Nil(t, c.Clone())
}

func TestScreenshotCacheCloneIsIndependentCopy(t *testing.T) {
	c := NewScreenshotCache()
	src := solidImage(4, 4, color.White)
	c.set(src)

	clone := c.Clone()
	assert.Equal(t, src.Bounds(), clone.Bounds())

	if mutable, ok := src.(*image.RGBA); ok {
		mutable.Set(0, 0, color.Black)
	}
	r, g, b, _ := clone.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestScreenshotCacheEncodePNGEmptyErrors(t *testing.T) {
	c := NewScreenshotCache()
	_, err := c.EncodePNG()
	assert.ErrorIs(t, err, ErrEmptyScreenshot)
}

func TestScreenshotCacheEncodePNGRoundTrips(t *testing.T) {
	c := NewScreenshotCache()
	c.set(solidImage(8, 8, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	data, err := c.EncodePNG()
	assert.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}

func TestResizeToTargetProducesExactDimensions(t *testing.T) {
	src := solidImage(1080, 1920, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	resized := resizeToTarget(src, 720, 1280)
	assert.Equal(t, 720, resized.Bounds().Dx())
	assert.Equal(t, 1280, resized.Bounds().Dy())
}
