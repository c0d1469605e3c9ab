// Package geometry provides the coordinate adapter shared by voxel grids and
// control point lattices. It describes the sampling geometry of a regular
// grid (dimensions, spacing, origin and orientation) and derives the affine
// maps between world (physical, mm) coordinates and continuous image or
// lattice indices.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidAttributes is returned when a geometry cannot describe a grid.
var ErrInvalidAttributes = errors.New("invalid image attributes")

// Attributes describes the sampling geometry of a 3D+t grid.
//
// The origin is the world position of the grid centre, that is of the
// continuous index ((X-1)/2, (Y-1)/2, (Z-1)/2). Two grids covering the same
// field of view with different spacing therefore share their origin.
type Attributes struct {
	// X, Y, Z are the number of samples along each spatial axis and T the
	// number of time frames.
	X, Y, Z, T int

	// DX, DY, DZ are the spacing between samples in mm and DT the spacing
	// between frames.
	DX, DY, DZ, DT float64

	// Origin is the world coordinate of the grid centre.
	Origin r3.Vec

	// XAxis, YAxis, ZAxis are the world directions of the image axes.
	XAxis, YAxis, ZAxis r3.Vec
}

// DefaultAttributes returns an axis-aligned geometry centred at the world
// origin with a single time frame.
func DefaultAttributes(x, y, z int, dx, dy, dz float64) Attributes {
	return Attributes{
		X: x, Y: y, Z: z, T: 1,
		DX: dx, DY: dy, DZ: dz, DT: 1,
		XAxis: r3.Vec{X: 1},
		YAxis: r3.Vec{Y: 1},
		ZAxis: r3.Vec{Z: 1},
	}
}

// Voxels returns the number of samples in a single time frame.
func (a Attributes) Voxels() int {
	return a.X * a.Y * a.Z
}

// Empty reports whether the geometry contains no samples at all.
func (a Attributes) Empty() bool {
	return a.X == 0 || a.Y == 0 || a.Z == 0 || a.T == 0
}

// Validate checks that the attributes describe a usable grid. Zero extents
// are accepted; they describe a degenerate grid that holds no samples.
func (a Attributes) Validate() error {
	if a.X < 0 || a.Y < 0 || a.Z < 0 || a.T < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%dx%dx%d", ErrInvalidAttributes, a.X, a.Y, a.Z, a.T)
	}
	if !(a.DX > 0) || !(a.DY > 0) || !(a.DZ > 0) {
		return fmt.Errorf("%w: spacing must be positive, got %gx%gx%g", ErrInvalidAttributes, a.DX, a.DY, a.DZ)
	}
	if math.Abs(mat.Det(a.orientation())) < 1e-12 {
		return fmt.Errorf("%w: degenerate orientation", ErrInvalidAttributes)
	}
	return nil
}

// Resized returns a geometry over the same field of view sampled with the
// given number of voxels. Axes with a zero or negative size keep their
// current sampling.
func (a Attributes) Resized(x, y, z int) Attributes {
	out := a
	if x > 0 {
		out.DX = float64(a.X) * a.DX / float64(x)
		out.X = x
	}
	if y > 0 {
		out.DY = float64(a.Y) * a.DY / float64(y)
		out.Y = y
	}
	if z > 0 {
		out.DZ = float64(a.Z) * a.DZ / float64(z)
		out.Z = z
	}
	return out
}

// Respaced returns a geometry over the same field of view sampled with the
// given spacing. Axes with a zero or negative spacing keep their current
// sampling.
func (a Attributes) Respaced(dx, dy, dz float64) Attributes {
	out := a
	if dx > 0 {
		out.X = resampledSize(a.X, a.DX, dx)
		out.DX = dx
	}
	if dy > 0 {
		out.Y = resampledSize(a.Y, a.DY, dy)
		out.DY = dy
	}
	if dz > 0 {
		out.Z = resampledSize(a.Z, a.DZ, dz)
		out.DZ = dz
	}
	return out
}

func resampledSize(n int, from, to float64) int {
	if n == 0 {
		return 0
	}
	size := int(math.Round(float64(n) * from / to))
	if size < 1 {
		size = 1
	}
	return size
}

// orientation returns the 3x3 matrix whose columns are the axis directions.
func (a Attributes) orientation() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a.XAxis.X, a.YAxis.X, a.ZAxis.X,
		a.XAxis.Y, a.YAxis.Y, a.ZAxis.Y,
		a.XAxis.Z, a.YAxis.Z, a.ZAxis.Z,
	})
}

// ImageToWorldMatrix returns the homogeneous 4x4 matrix mapping continuous
// image indices to world coordinates.
func (a Attributes) ImageToWorldMatrix() *mat.Dense {
	// Move the grid centre to the index origin
	centre := translation(-float64(a.X-1)/2, -float64(a.Y-1)/2, -float64(a.Z-1)/2)

	scale := mat.NewDense(4, 4, []float64{
		a.DX, 0, 0, 0,
		0, a.DY, 0, 0,
		0, 0, a.DZ, 0,
		0, 0, 0, 1,
	})

	rotation := mat.NewDense(4, 4, nil)
	rotation.Slice(0, 3, 0, 3).(*mat.Dense).Copy(a.orientation())
	rotation.Set(3, 3, 1)

	origin := translation(a.Origin.X, a.Origin.Y, a.Origin.Z)

	var m mat.Dense
	m.Product(origin, rotation, scale, centre)
	return &m
}

// WorldToImageMatrix returns the inverse of ImageToWorldMatrix.
func (a Attributes) WorldToImageMatrix() (*mat.Dense, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	var inv mat.Dense
	if err := inv.Inverse(a.ImageToWorldMatrix()); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAttributes, err)
		}
	}
	return &inv, nil
}

func translation(x, y, z float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	})
}

// IsInside reports whether the integer index lies inside the spatial extent.
func (a Attributes) IsInside(i, j, k int) bool {
	return i >= 0 && i < a.X && j >= 0 && j < a.Y && k >= 0 && k < a.Z
}
