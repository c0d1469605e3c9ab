// Package volume provides an in-memory 3D+t voxel grid that is generic over
// its scalar voxel type. It implements the collaborator contract used by the
// resampler: index access, conversion from floating point values and the
// affine maps between world and image coordinates.
package volume

import (
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/exp/constraints"

	"volwarp/pkg/geometry"
)

// Scalar is the set of voxel types a Grid can hold.
type Scalar interface {
	constraints.Integer | constraints.Float
}

// Grid is a dense 3D+t array of voxels. Voxels are stored with x varying
// fastest, then y, z and t.
type Grid[T Scalar] struct {
	attr    geometry.Attributes
	mapping geometry.Mapping
	data    []T
}

// New allocates a zero-filled grid with the given geometry.
func New[T Scalar](attr geometry.Attributes) (*Grid[T], error) {
	if err := attr.Validate(); err != nil {
		return nil, err
	}
	mapping, err := geometry.NewMapping(attr)
	if err != nil {
		return nil, err
	}
	return &Grid[T]{
		attr:    attr,
		mapping: mapping,
		data:    make([]T, attr.Voxels()*attr.T),
	}, nil
}

// FromData wraps existing voxel data. The slice is used without copying and
// must hold exactly X*Y*Z*T values.
func FromData[T Scalar](attr geometry.Attributes, data []T) (*Grid[T], error) {
	if err := attr.Validate(); err != nil {
		return nil, err
	}
	if want := attr.Voxels() * attr.T; len(data) != want {
		return nil, fmt.Errorf("voxel data has %d values, geometry %dx%dx%dx%d needs %d",
			len(data), attr.X, attr.Y, attr.Z, attr.T, want)
	}
	mapping, err := geometry.NewMapping(attr)
	if err != nil {
		return nil, err
	}
	return &Grid[T]{attr: attr, mapping: mapping, data: data}, nil
}

// Attributes returns the grid geometry.
func (g *Grid[T]) Attributes() geometry.Attributes { return g.attr }

// Dimensions returns the number of voxels along x, y, z and t.
func (g *Grid[T]) Dimensions() (x, y, z, t int) {
	return g.attr.X, g.attr.Y, g.attr.Z, g.attr.T
}

// Data returns the underlying voxel storage.
func (g *Grid[T]) Data() []T { return g.data }

// Frame returns the voxels of time frame l.
func (g *Grid[T]) Frame(l int) []T {
	n := g.attr.Voxels()
	return g.data[l*n : (l+1)*n]
}

func (g *Grid[T]) index(i, j, k, l int) int {
	return ((l*g.attr.Z+k)*g.attr.Y+j)*g.attr.X + i
}

// IsInside reports whether (i, j, k) is a valid spatial index.
func (g *Grid[T]) IsInside(i, j, k int) bool {
	return g.attr.IsInside(i, j, k)
}

// Get returns the voxel at (i, j, k, l).
func (g *Grid[T]) Get(i, j, k, l int) T {
	return g.data[g.index(i, j, k, l)]
}

// GetAsDouble returns the voxel at (i, j, k, l) as a float64.
func (g *Grid[T]) GetAsDouble(i, j, k, l int) float64 {
	return float64(g.data[g.index(i, j, k, l)])
}

// Put stores a voxel.
func (g *Grid[T]) Put(i, j, k, l int, v T) {
	g.data[g.index(i, j, k, l)] = v
}

// PutAsDouble stores a floating point value, rounding and saturating it
// when T is an integer type.
func (g *Grid[T]) PutAsDouble(i, j, k, l int, v float64) {
	g.data[g.index(i, j, k, l)] = Cast[T](v)
}

// Fill sets every voxel to v.
func (g *Grid[T]) Fill(v T) {
	for i := range g.data {
		g.data[i] = v
	}
}

// ImageToWorld maps continuous image indices to world coordinates.
func (g *Grid[T]) ImageToWorld(x, y, z float64) (float64, float64, float64) {
	return g.mapping.ImageToWorld.Apply(x, y, z)
}

// WorldToImage maps world coordinates to continuous image indices.
func (g *Grid[T]) WorldToImage(x, y, z float64) (float64, float64, float64) {
	return g.mapping.WorldToImage.Apply(x, y, z)
}

// Mapping returns both index maps of the grid.
func (g *Grid[T]) Mapping() geometry.Mapping { return g.mapping }

// Cast converts a float64 into T. Integer types round half away from zero
// and saturate at the limits of the type; NaN becomes zero.
func Cast[T Scalar](v float64) T {
	var zero T
	half := 0.5
	if T(half) != zero {
		// Floating point voxel type
		return T(v)
	}
	if math.IsNaN(v) {
		return zero
	}
	lo, hi := integerRange[T]()
	v = math.Round(v)
	if v <= float64(lo) {
		return lo
	}
	if v >= float64(hi) {
		return hi
	}
	return T(v)
}

// integerRange returns the smallest and largest value of an integer type.
func integerRange[T Scalar]() (T, T) {
	var zero T
	if zero-1 > zero {
		return zero, zero - 1
	}
	bits := 8 * unsafe.Sizeof(zero)
	hi := T(uint64(1)<<(bits-1) - 1)
	return -hi - 1, hi
}
