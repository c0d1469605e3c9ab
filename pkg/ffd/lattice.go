// Package ffd implements a free-form deformation whose displacement field is
// interpolated trilinearly from a regular lattice of control points.
package ffd

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volwarp/pkg/geometry"
)

var (
	// ErrIndexOutOfRange is returned when a control point index is outside
	// the lattice.
	ErrIndexOutOfRange = errors.New("control point index out of range")

	// ErrLengthMismatch is returned when parameter slices do not match the
	// number of control points or degrees of freedom.
	ErrLengthMismatch = errors.New("length mismatch")
)

// Lattice is a regular grid of control points, each holding a 3D
// displacement vector. Control points are stored with x varying fastest.
type Lattice struct {
	attr    geometry.Attributes
	mapping geometry.Mapping
	values  []r3.Vec
}

// NewLattice allocates a lattice with zero displacements. The time
// dimension of attr is ignored.
func NewLattice(attr geometry.Attributes) (*Lattice, error) {
	attr.T = 1
	if err := attr.Validate(); err != nil {
		return nil, err
	}
	if attr.Empty() {
		return nil, fmt.Errorf("%w: lattice needs at least one control point", geometry.ErrInvalidAttributes)
	}
	mapping, err := geometry.NewMapping(attr)
	if err != nil {
		return nil, err
	}
	return &Lattice{
		attr:    attr,
		mapping: mapping,
		values:  make([]r3.Vec, attr.Voxels()),
	}, nil
}

// NewLatticeForDomain creates a lattice spanning the bounding box of an
// image domain, with control points roughly dx, dy, dz mm apart. The spacing
// is adjusted so that the outermost control points coincide with the
// outermost voxel centres of the domain.
func NewLatticeForDomain(domain geometry.Attributes, dx, dy, dz float64) (*Lattice, error) {
	if !(dx > 0) || !(dy > 0) || !(dz > 0) {
		return nil, fmt.Errorf("%w: control point spacing must be positive, got %gx%gx%g",
			geometry.ErrInvalidAttributes, dx, dy, dz)
	}
	attr := domain
	attr.X, attr.DX = latticeAxis(domain.X, domain.DX, dx)
	attr.Y, attr.DY = latticeAxis(domain.Y, domain.DY, dy)
	attr.Z, attr.DZ = latticeAxis(domain.Z, domain.DZ, dz)
	return NewLattice(attr)
}

func latticeAxis(n int, spacing, step float64) (int, float64) {
	extent := float64(n-1) * spacing
	if extent <= 0 {
		return 1, step
	}
	points := int(math.Round(extent/step)) + 1
	if points < 2 {
		points = 2
	}
	return points, extent / float64(points-1)
}

// Attributes returns the lattice geometry.
func (l *Lattice) Attributes() geometry.Attributes { return l.attr }

// Dimensions returns the number of control points along each axis.
func (l *Lattice) Dimensions() (x, y, z int) {
	return l.attr.X, l.attr.Y, l.attr.Z
}

// NumberOfControlPoints returns X*Y*Z.
func (l *Lattice) NumberOfControlPoints() int { return len(l.values) }

// NumberOfDOFs returns the number of scalar parameters, three per control
// point.
func (l *Lattice) NumberOfDOFs() int { return 3 * len(l.values) }

// IsInside reports whether (i, j, k) indexes a control point.
func (l *Lattice) IsInside(i, j, k int) bool {
	return l.attr.IsInside(i, j, k)
}

// Index returns the linear index of control point (i, j, k).
func (l *Lattice) Index(i, j, k int) int {
	return (k*l.attr.Y+j)*l.attr.X + i
}

// Get returns the displacement stored at control point (i, j, k). The index
// must be inside the lattice.
func (l *Lattice) Get(i, j, k int) r3.Vec {
	return l.values[l.Index(i, j, k)]
}

// Put stores the displacement of control point (i, j, k).
func (l *Lattice) Put(i, j, k int, d r3.Vec) error {
	if !l.IsInside(i, j, k) {
		return fmt.Errorf("%w: (%d, %d, %d) in %dx%dx%d lattice",
			ErrIndexOutOfRange, i, j, k, l.attr.X, l.attr.Y, l.attr.Z)
	}
	l.values[l.Index(i, j, k)] = d
	return nil
}

// WorldToLattice maps a world point to continuous lattice coordinates.
func (l *Lattice) WorldToLattice(p r3.Vec) r3.Vec {
	return l.mapping.WorldToImage.ApplyVec(p)
}

// LatticeToWorld maps continuous lattice coordinates to a world point.
func (l *Lattice) LatticeToWorld(p r3.Vec) r3.Vec {
	return l.mapping.ImageToWorld.ApplyVec(p)
}

// JacobianToWorld converts, in place, a Jacobian taken with respect to
// lattice coordinates into one taken with respect to world coordinates.
func (l *Lattice) JacobianToWorld(jac *mat.Dense) {
	geometry.JacobianToWorld(jac, l.mapping.WorldToImage)
}

// ControlPointLocation returns the world position of control point (i, j, k).
func (l *Lattice) ControlPointLocation(i, j, k int) r3.Vec {
	return l.LatticeToWorld(r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)})
}
