package devctl

import (
	"bytes"
	"image"
	"image/png"
	"sync"

	"golang.org/x/image/draw"
)

// ScreenshotCache owns the most recently normalised (target-space)
// screenshot. It is written only by the controller's worker goroutine;
// any other goroutine must go through Clone or EncodePNG, which take the
// guarding mutex themselves.
type ScreenshotCache struct {
	mu  sync.RWMutex
	img image.Image
}

func NewScreenshotCache() *ScreenshotCache {
	return &ScreenshotCache{}
}

// set stores img as the cached frame. Only the worker goroutine calls this.
func (c *ScreenshotCache) set(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.img = img
}

// Clone returns a deep copy of the cached frame, or nil if none is cached
// yet.
func (c *ScreenshotCache) Clone() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.img == nil {
		return nil
	}
	b := c.img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, c.img, b.Min, draw.Src)
	return dst
}

// EncodePNG encodes the cached frame as PNG under the same lock Clone uses,
// so a concurrent worker write cannot interleave with the encode.
func (c *ScreenshotCache) EncodePNG() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.img == nil {
		return nil, errEmptyScreenshot
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resizeToTarget scales raw to (targetW, targetH) with the CatmullRom
// kernel of golang.org/x/image/draw, for both the upscale and downscale
// paths. It is not an area-averaging (box) resize: draw has no such
// filter, so downscaled frames are interpolated rather than area-averaged
// (see DESIGN.md).
func resizeToTarget(raw image.Image, targetW, targetH int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), raw, raw.Bounds(), draw.Over, nil)
	return dst
}
