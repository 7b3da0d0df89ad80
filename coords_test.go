package devctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinateMapperUncalibrated(t *testing.T) {
	m := NewCoordinateMapper()
	_, _, err := m.MapClientToDevice(10, 10, 1080, 1920)
	assert.ErrorIs(t, err, ErrUncalibrated)
}

func TestCoordinateMapperSetSideExclusivity(t *testing.T) {
	m := NewCoordinateMapper()
	m.SetTargetLongSide(960)
	assert.EqualValues(t, 960, m.TargetLongSide())
	assert.EqualValues(t, 0, m.TargetShortSide())

	m.SetTargetShortSide(540)
	assert.EqualValues(t, 540, m.TargetShortSide())
	assert.EqualValues(t, 0, m.TargetLongSide())
}

func TestCoordinateMapperEnsureTargetSizeRequiresConfig(t *testing.T) {
	m := NewCoordinateMapper()
	err := m.EnsureTargetSize(1080, 1920)
	assert.ErrorIs(t, err, ErrConfigError)
}

func TestCoordinateMapperDerivesTargetSizePortrait(t *testing.T) {
	m := NewCoordinateMapper()
	m.SetTargetLongSide(1280)

	err := m.EnsureTargetSize(1080, 1920)
	assert.NoError(t, err)

	w, h := m.TargetSize()
	assert.EqualValues(t, 720, w)
	assert.EqualValues(t, 1280, h)
}

func TestCoordinateMapperDerivesTargetSizeLandscape(t *testing.T) {
	m := NewCoordinateMapper()
	m.SetTargetShortSide(720)

	err := m.EnsureTargetSize(1920, 1080)
	assert.NoError(t, err)

	w, h := m.TargetSize()
	assert.EqualValues(t, 1280, w)
	assert.EqualValues(t, 720, h)
}

func TestCoordinateMapperEnsureTargetSizeIsIdempotent(t *testing.T) {
	m := NewCoordinateMapper()
	m.SetTargetLongSide(1280)
	assert.NoError(t, m.EnsureTargetSize(1080, 1920))
	w1, h1 := m.TargetSize()

	assert.NoError(t, m.EnsureTargetSize(2160, 3840))
	w2, h2 := m.TargetSize()
	assert.Equal(t, w1, w2)
	assert.Equal(t, h1, h2)
}

func TestCoordinateMapperInvalidateClearsDerivedSize(t *testing.T) {
	m := NewCoordinateMapper()
	m.SetTargetLongSide(1280)
	assert.NoError(t, m.EnsureTargetSize(1080, 1920))
	m.Invalidate()
	w, h := m.TargetSize()
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestCoordinateMapperMapClientToDeviceScalesUp(t *testing.T) {
	m := NewCoordinateMapper()
	m.SetTargetLongSide(1280)
	assert.NoError(t, m.EnsureTargetSize(1080, 1920))

	x, y, err := m.MapClientToDevice(360, 640, 1080, 1920)
	assert.NoError(t, err)
	assert.Equal(t, 540, x)
	assert.Equal(t, 960, y)
}
