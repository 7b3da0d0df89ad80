package devctl

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

// ErrUncalibrated is returned when a client-to-device coordinate mapping is
// requested before the target image size has been derived from a first
// screenshot.
var ErrUncalibrated = errors.New("coordinate mapper: uncalibrated")

// ErrConfigError is returned when a required option is missing: neither a
// long nor a short target side is configured at the moment scaling is
// needed, or ControllerCore.StartApp/StopApp is called with no default
// package entry/package set.
var ErrConfigError = errors.New("controller: required option not configured")

// CoordinateMapper reconciles the client-facing "target image" coordinate
// space with the device's real resolution. At most one of targetLongSide /
// targetShortSide is non-zero at any time; setting one clears the other.
// targetW/targetH are derived lazily from the first real screenshot and
// cleared by Invalidate whenever the foreground app may have changed
// orientation or effective resolution.
type CoordinateMapper struct {
	mu sync.Mutex

	targetLongSide  uint32
	targetShortSide uint32

	targetW uint32
	targetH uint32
}

func NewCoordinateMapper() *CoordinateMapper {
	return &CoordinateMapper{}
}

// SetTargetLongSide sets the long-side target and clears the short-side
// target and the derived size.
func (c *CoordinateMapper) SetTargetLongSide(side uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetLongSide = side
	c.targetShortSide = 0
	c.targetW, c.targetH = 0, 0
}

// SetTargetShortSide is the symmetric counterpart of SetTargetLongSide.
func (c *CoordinateMapper) SetTargetShortSide(side uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetShortSide = side
	c.targetLongSide = 0
	c.targetW, c.targetH = 0, 0
}

// TargetLongSide returns the currently configured long-side target (0 if
// a short side is configured instead, or if neither is set).
func (c *CoordinateMapper) TargetLongSide() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetLongSide
}

// TargetShortSide is the symmetric counterpart of TargetLongSide.
func (c *CoordinateMapper) TargetShortSide() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetShortSide
}

// TargetSize returns the derived (targetW, targetH), or (0, 0) if no
// screenshot has been processed since the last Invalidate.
func (c *CoordinateMapper) TargetSize() (w, h uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetW, c.targetH
}

// Invalidate clears the derived target size. Called whenever the
// foreground app changes, since that may change orientation or the
// effective device resolution.
func (c *CoordinateMapper) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetW, c.targetH = 0, 0
}

// EnsureTargetSize derives (targetW, targetH) from curWidth/curHeight if
// not already derived, using whichever of targetLongSide/targetShortSide
// is configured. Returns ErrConfigError if neither is configured and the
// size is not already derived.
func (c *CoordinateMapper) EnsureTargetSize(curWidth, curHeight int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.targetW != 0 && c.targetH != 0 {
		return nil
	}
	if c.targetLongSide == 0 && c.targetShortSide == 0 {
		return ErrConfigError
	}

	scale := float64(curWidth) / float64(curHeight)

	switch {
	case c.targetShortSide != 0:
		if curWidth > curHeight {
			c.targetW = uint32(math.Round(float64(c.targetShortSide) * scale))
			c.targetH = c.targetShortSide
		} else {
			c.targetW = c.targetShortSide
			c.targetH = uint32(math.Round(float64(c.targetShortSide) / scale))
		}
	default: // targetLongSide != 0
		if curWidth > curHeight {
			c.targetW = c.targetLongSide
			c.targetH = uint32(math.Round(float64(c.targetLongSide) / scale))
		} else {
			c.targetW = uint32(math.Round(float64(c.targetLongSide) * scale))
			c.targetH = c.targetLongSide
		}
	}
	return nil
}

// MapClientToDevice converts a point in target (client) space to device
// space, given the device's real resolution resW/resH. It requires
// targetW/targetH to already be derived.
func (c *CoordinateMapper) MapClientToDevice(x, y int, resW, resH int) (int, int, error) {
	c.mu.Lock()
	tw, th := c.targetW, c.targetH
	c.mu.Unlock()

	if tw == 0 || th == 0 {
		return 0, 0, ErrUncalibrated
	}

	scaleW := float64(resW) / float64(tw)
	scaleH := float64(resH) / float64(th)

	procX := int(math.Round(float64(x) * scaleW))
	procY := int(math.Round(float64(y) * scaleH))
	return procX, procY, nil
}
