package devctl

import (
	"image"
	"math"
	"math/rand"
)

// SwipeSampleDelayMs is the fixed sampling interval used by Steps, matching
// the spec's "sample at a fixed 2 ms interval".
const SwipeSampleDelayMs = 2

// SwipeStep is one waypoint of a synthesised swipe gesture: a device-space
// point to reach and the delay, in milliseconds, to hold before the next
// waypoint.
type SwipeStep struct {
	X, Y  int
	Delay int
}

// Steps samples a smooth-in/smooth-out cubic spline between p1 and p2 over
// durationMs, at a fixed 2ms interval, and returns the resulting waypoints.
// The spline S satisfies S(0)=0, S(1)=1, S'(0)=S'(1)=0 — the unique cubic
// with those boundary conditions is the standard smoothstep polynomial
// 3t²−2t³, used here directly since no spline implementation exists
// anywhere in the retrieval pack.
func Steps(p1, p2 image.Point, durationMs int) []SwipeStep {
	if durationMs <= 0 {
		return nil
	}
	n := durationMs / SwipeSampleDelayMs
	steps := make([]SwipeStep, 0, n)
	for i := 0; i < durationMs; i += SwipeSampleDelayMs {
		t := float64(i) / float64(durationMs)
		s := smoothInOut(t)
		x := int(math.Round(lerp(float64(p1.X), float64(p2.X), s)))
		y := int(math.Round(lerp(float64(p1.Y), float64(p2.Y), s)))
		steps = append(steps, SwipeStep{X: x, Y: y, Delay: SwipeSampleDelayMs})
	}
	return steps
}

func smoothInOut(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// RandPoint draws a point inside-or-near r, biased toward the centre of
// each axis by an independent Poisson(side/2) draw. A zero-width or
// zero-height rectangle collapses that axis to its origin. The draw is not
// clamped to the rectangle: the source this spec is grounded on
// intentionally lets a Poisson tail extend a result past the rect's far
// edge, for a more human-looking touch point distribution.
func RandPoint(r image.Rectangle) image.Point {
	w := r.Dx()
	h := r.Dy()

	x := r.Min.X
	if w != 0 {
		x = r.Min.X + poisson(float64(w)/2)
	}

	y := r.Min.Y
	if h != 0 {
		y = r.Min.Y + poisson(float64(h)/2)
	}

	return image.Point{X: x, Y: y}
}

// poisson draws a single sample from a Poisson(lambda) distribution using
// Knuth's multiplicative algorithm. No Poisson distribution exists in the
// retrieval pack's dependency graph (no repo imports gonum or similar), so
// this is hand-rolled over math/rand rather than pulled from an ecosystem
// library.
func poisson(lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		k++
		p *= rand.Float64()
		if p <= l {
			return k - 1
		}
	}
}
