package geometry

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Affine is a 3D affine map stored as the upper 3x4 block of a homogeneous
// matrix. It is cheap to copy and to apply, so per-voxel loops use it rather
// than a mat.Dense.
type Affine struct {
	m [3][4]float64
}

// NewAffine copies the upper 3x4 block of a homogeneous 4x4 matrix.
func NewAffine(m mat.Matrix) Affine {
	var a Affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			a.m[r][c] = m.At(r, c)
		}
	}
	return a
}

// IdentityAffine returns the identity map.
func IdentityAffine() Affine {
	var a Affine
	a.m[0][0], a.m[1][1], a.m[2][2] = 1, 1, 1
	return a
}

// Apply maps the point (x, y, z).
func (a Affine) Apply(x, y, z float64) (float64, float64, float64) {
	return a.m[0][0]*x + a.m[0][1]*y + a.m[0][2]*z + a.m[0][3],
		a.m[1][0]*x + a.m[1][1]*y + a.m[1][2]*z + a.m[1][3],
		a.m[2][0]*x + a.m[2][1]*y + a.m[2][2]*z + a.m[2][3]
}

// ApplyVec maps a point given as a vector.
func (a Affine) ApplyVec(p r3.Vec) r3.Vec {
	x, y, z := a.Apply(p.X, p.Y, p.Z)
	return r3.Vec{X: x, Y: y, Z: z}
}

// Linear returns the 3x3 linear part of the map.
func (a Affine) Linear() *mat.Dense {
	lin := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			lin.Set(r, c, a.m[r][c])
		}
	}
	return lin
}

// Matrix returns the map as a homogeneous 4x4 matrix.
func (a Affine) Matrix() *mat.Dense {
	h := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			h.Set(r, c, a.m[r][c])
		}
	}
	h.Set(3, 3, 1)
	return h
}

// Mapping bundles the forward and inverse index maps of a geometry.
type Mapping struct {
	// ImageToWorld maps continuous image indices to world coordinates.
	ImageToWorld Affine

	// WorldToImage maps world coordinates to continuous image indices.
	WorldToImage Affine
}

// NewMapping derives both affine maps of the given geometry.
func NewMapping(attr Attributes) (Mapping, error) {
	inv, err := attr.WorldToImageMatrix()
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{
		ImageToWorld: NewAffine(attr.ImageToWorldMatrix()),
		WorldToImage: NewAffine(inv),
	}, nil
}

// JacobianToWorld converts a Jacobian expressed with respect to lattice (or
// image) indices into one expressed with respect to world coordinates. This
// is the chain rule dT/dx = dT/du * du/dx, where du/dx is the linear part of
// the world to lattice map. The matrix is updated in place.
func JacobianToWorld(jac *mat.Dense, worldToLattice Affine) {
	var out mat.Dense
	out.Mul(jac, worldToLattice.Linear())
	jac.Copy(&out)
}
