// Package kernel implements the trilinear interpolation kernel shared by the
// free-form deformation evaluator and the padding-aware resampler.
//
// The eight corners of a lattice cell are numbered so that corner n has the
// offsets (n>>2&1, n>>1&1, n&1) along (x, y, z), i.e. z varies fastest.
package kernel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrUnsupportedKind is returned when a kernel kind has no implementation.
var ErrUnsupportedKind = errors.New("unsupported interpolation kernel")

// Corners is the number of lattice points in the support of the kernel.
const Corners = 8

// Radius is the support radius of the kernel in lattice units.
const Radius = 1

// Axis selects a spatial axis.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Weights holds one weight per cell corner.
type Weights [Corners]float64

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// Corner returns the integer offsets of corner n relative to the base index.
func Corner(n int) (dx, dy, dz int) {
	return n >> 2 & 1, n >> 1 & 1, n & 1
}

// Split floors a continuous coordinate into a base index and the fractional
// offset in [0, 1).
func Split(x float64) (int, float64) {
	f := math.Floor(x)
	return int(f), x - f
}

// ComputeWeights returns the trilinear corner weights for the fractional
// offsets (fx, fy, fz). The offsets are expected in [0, 1) and are not
// clamped.
func ComputeWeights(fx, fy, fz float64) Weights {
	gx, gy, gz := 1-fx, 1-fy, 1-fz
	return Weights{
		gx * gy * gz,
		gx * gy * fz,
		gx * fy * gz,
		gx * fy * fz,
		fx * gy * gz,
		fx * gy * fz,
		fx * fy * gz,
		fx * fy * fz,
	}
}

// Derivative returns the partial derivative of the corner weights with
// respect to one axis at the fractional offsets (fx, fy, fz). The linear
// factor of that axis is replaced by its derivative (-1 for the low corner,
// +1 for the high corner). The returned weights sum to zero.
func Derivative(axis Axis, fx, fy, fz float64) Weights {
	lo := [3]float64{1 - fx, 1 - fy, 1 - fz}
	hi := [3]float64{fx, fy, fz}
	lo[axis], hi[axis] = -1, 1

	var w Weights
	for n := range w {
		cx, cy, cz := Corner(n)
		w[n] = pick(cx, lo[0], hi[0]) * pick(cy, lo[1], hi[1]) * pick(cz, lo[2], hi[2])
	}
	return w
}

func pick(c int, lo, hi float64) float64 {
	if c == 0 {
		return lo
	}
	return hi
}

// Interpolate returns the weighted sum of the corner values.
func Interpolate(values [Corners]float64, w Weights) float64 {
	var s float64
	for n, v := range values {
		s += w[n] * v
	}
	return s
}

// InterpolateVector returns the weighted sum of vector-valued corners.
func InterpolateVector(values [Corners]r3.Vec, w Weights) r3.Vec {
	var s r3.Vec
	for n, v := range values {
		s = r3.Add(s, r3.Scale(w[n], v))
	}
	return s
}

// Weight1D is the one dimensional linear kernel, 1-|d| inside its support
// and zero outside.
func Weight1D(d float64) float64 {
	d = math.Abs(d)
	if d >= Radius {
		return 0
	}
	return 1 - d
}
