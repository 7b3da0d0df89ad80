package devctl

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepsEndpoints(t *testing.T) {
	p1 := image.Pt(0, 0)
	p2 := image.Pt(100, 200)
	steps := Steps(p1, p2, 100)

	assert.NotEmpty(t, steps)
	first := steps[0]
	last := steps[len(steps)-1]

	assert.InDelta(t, 0, first.X, 5)
	assert.InDelta(t, 0, first.Y, 5)
	assert.InDelta(t, 100, last.X, 5)
	assert.InDelta(t, 200, last.Y, 5)
}

func TestStepsUsesFixedSampleDelay(t *testing.T) {
	steps := Steps(image.Pt(0, 0), image.Pt(10, 10), 20)
	for _, s := range steps {
		assert.Equal(t, SwipeSampleDelayMs, s.Delay)
	}
}

func TestStepsZeroDurationProducesNoSteps(t *testing.T) {
	assert.Nil(t, Steps(image.Pt(0, 0), image.Pt(10, 10), 0))
}

func TestStepsIsMonotoneAlongAxis(t *testing.T) {
	steps := Steps(image.Pt(0, 0), image.Pt(1000, 0), 200)
	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i].X, steps[i-1].X)
	}
}

func TestRandPointZeroSizeRectCollapsesToOrigin(t *testing.T) {
	r := image.Rect(50, 60, 50, 60)
	p := RandPoint(r)
	assert.Equal(t, 50, p.X)
	assert.Equal(t, 60, p.Y)
}

func TestRandPointStaysNearCentreOnAverage(t *testing.T) {
	r := image.Rect(0, 0, 100, 100)
	var sumX, sumY int
	const trials = 2000
	for i := 0; i < trials; i++ {
		p := RandPoint(r)
		sumX += p.X
		sumY += p.Y
	}
	avgX := float64(sumX) / float64(trials)
	avgY := float64(sumY) / float64(trials)
	assert.InDelta(t, 50, avgX, 5)
	assert.InDelta(t, 50, avgY, 5)
}
