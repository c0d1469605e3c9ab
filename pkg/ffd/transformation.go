package ffd

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volwarp/pkg/kernel"
)

// Transformation is a free-form deformation T(x) = x + d(x), where the
// displacement d is interpolated trilinearly from the control points of a
// Lattice.
//
// A Transformation is safe for concurrent evaluation as long as no method
// that mutates the lattice (Lattice.Put, Interpolate, ApproximateDOFs,
// SetDOFs) runs at the same time. Updates belong between evaluation passes.
type Transformation struct {
	lattice       *Lattice
	kernel        kernel.Kernel
	extrapolation Extrapolation
}

// Option configures a Transformation.
type Option func(*Transformation)

// WithExtrapolation selects how control points beyond the lattice are read.
func WithExtrapolation(e Extrapolation) Option {
	return func(t *Transformation) {
		t.extrapolation = e
	}
}

// New creates a transformation over the given lattice. The lattice is
// owned by the transformation from then on.
func New(lattice *Lattice, opts ...Option) (*Transformation, error) {
	if lattice == nil {
		return nil, fmt.Errorf("ffd: nil lattice")
	}
	k, err := kernel.New(kernel.Linear)
	if err != nil {
		return nil, err
	}
	t := &Transformation{lattice: lattice, kernel: k}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Lattice returns the control point lattice.
func (t *Transformation) Lattice() *Lattice { return t.lattice }

// Extrapolation returns the extrapolation mode.
func (t *Transformation) Extrapolation() Extrapolation { return t.extrapolation }

// KernelSize returns the support of the interpolation kernel in lattice
// units per axis.
func (t *Transformation) KernelSize() int { return t.kernel.Size() }

// cell gathers the control point values of the cell whose lowest corner is
// (i, j, k). Corners that do not exist under the extrapolation mode hold
// the zero vector.
func (t *Transformation) cell(i, j, k int) (values [kernel.Corners]r3.Vec) {
	nx, ny, nz := t.lattice.Dimensions()
	if i >= 0 && j >= 0 && k >= 0 && i+1 < nx && j+1 < ny && k+1 < nz {
		for n := range values {
			cx, cy, cz := kernel.Corner(n)
			values[n] = t.lattice.Get(i+cx, j+cy, k+cz)
		}
		return values
	}
	for n := range values {
		cx, cy, cz := kernel.Corner(n)
		u, okx := t.extrapolation.resolve(i+cx, nx)
		v, oky := t.extrapolation.resolve(j+cy, ny)
		w, okz := t.extrapolation.resolve(k+cz, nz)
		if okx && oky && okz {
			values[n] = t.lattice.Get(u, v, w)
		}
	}
	return values
}

// EvaluateAt returns the displacement stored at control point (i, j, k).
func (t *Transformation) EvaluateAt(i, j, k int) r3.Vec {
	return t.lattice.Get(i, j, k)
}

// Evaluate returns the displacement at continuous lattice coordinates
// (x, y, z). At integer coordinates inside the lattice the stored control
// point value is returned exactly.
func (t *Transformation) Evaluate(x, y, z float64) r3.Vec {
	i, fx := kernel.Split(x)
	j, fy := kernel.Split(y)
	k, fz := kernel.Split(z)
	values := t.cell(i, j, k)
	return t.kernel.InterpolateVector(values, t.kernel.ComputeWeights(fx, fy, fz))
}

// Displacement returns the displacement at a world point.
func (t *Transformation) Displacement(p r3.Vec) r3.Vec {
	q := t.lattice.WorldToLattice(p)
	return t.Evaluate(q.X, q.Y, q.Z)
}

// EvaluateJacobian returns the derivatives of the displacement at
// continuous lattice coordinates (x, y, z), expressed with respect to world
// coordinates. Entry (r, c) is the derivative of displacement component r
// along world axis c.
//
// The field is only piecewise linear, so on an interior lattice plane the
// derivative of the cell above (in index order) is returned. On the last
// plane the cell below is used, and along an axis with a single control
// point the derivative on that plane is zero.
func (t *Transformation) EvaluateJacobian(x, y, z float64) *mat.Dense {
	nx, ny, nz := t.lattice.Dimensions()
	i, fx, flatX := jacobianCell(x, nx)
	j, fy, flatY := jacobianCell(y, ny)
	k, fz, flatZ := jacobianCell(z, nz)
	values := t.cell(i, j, k)
	flat := [3]bool{flatX, flatY, flatZ}

	jac := mat.NewDense(3, 3, nil)
	for _, axis := range []kernel.Axis{kernel.AxisX, kernel.AxisY, kernel.AxisZ} {
		if flat[axis] {
			continue
		}
		d := t.kernel.InterpolateVector(values, t.kernel.Derivative(axis, fx, fy, fz))
		jac.Set(0, int(axis), d.X)
		jac.Set(1, int(axis), d.Y)
		jac.Set(2, int(axis), d.Z)
	}
	t.lattice.JacobianToWorld(jac)
	return jac
}

// jacobianCell splits a lattice coordinate along an axis with n control
// points into the base index and offset of the cell that carries the
// derivative. A point on the last plane belongs to the cell below it. The
// boolean reports a point on the only plane of a one point axis.
func jacobianCell(x float64, n int) (int, float64, bool) {
	i, f := kernel.Split(x)
	if f != 0 || i != n-1 {
		return i, f, false
	}
	if n == 1 {
		return i, f, true
	}
	return n - 2, 1, false
}

// LocalTransform maps a world point through the deformation.
func (t *Transformation) LocalTransform(p r3.Vec) r3.Vec {
	return r3.Add(p, t.Displacement(p))
}

// LocalInverse subtracts the displacement evaluated at p itself and always
// reports success.
//
// This is a first order approximation of the inverse, accurate only while
// displacements are small compared to the control point spacing. It is not
// a geometric inverse: T(LocalInverse(p)) equals p only when the field is
// constant around p. The round trip that does hold exactly is
// LocalInverse(p) + d(p) == p.
func (t *Transformation) LocalInverse(p r3.Vec) (r3.Vec, bool) {
	return r3.Sub(p, t.Displacement(p)), true
}

// LocalJacobian returns dT/dx at a world point, i.e. the identity plus the
// world Jacobian of the displacement.
func (t *Transformation) LocalJacobian(p r3.Vec) *mat.Dense {
	q := t.lattice.WorldToLattice(p)
	jac := t.EvaluateJacobian(q.X, q.Y, q.Z)
	for r := 0; r < 3; r++ {
		jac.Set(r, r, jac.At(r, r)+1)
	}
	return jac
}

// JacobianDOFs returns the derivative of T(p) with respect to each
// displacement component of control point (ci, cj, ck). For the linear
// kernel it is the same tensor product weight for all three components, and
// zero once p is one lattice unit or more away along any axis.
func (t *Transformation) JacobianDOFs(ci, cj, ck int, p r3.Vec) [3]float64 {
	q := t.lattice.WorldToLattice(p)
	w := kernel.Weight1D(float64(ci)-q.X) * kernel.Weight1D(float64(cj)-q.Y) * kernel.Weight1D(float64(ck)-q.Z)
	return [3]float64{w, w, w}
}

// TransformPoint applies LocalTransform to a point given by coordinates.
func (t *Transformation) TransformPoint(x, y, z float64) (float64, float64, float64) {
	q := t.LocalTransform(r3.Vec{X: x, Y: y, Z: z})
	return q.X, q.Y, q.Z
}

// Inverse returns a point map that applies LocalInverse. It shares the
// lattice with t and carries the same first order approximation.
func (t *Transformation) Inverse() *InverseTransformation {
	return &InverseTransformation{t: t}
}

// InverseTransformation adapts LocalInverse to the point map interface.
type InverseTransformation struct {
	t *Transformation
}

// TransformPoint applies LocalInverse.
func (it *InverseTransformation) TransformPoint(x, y, z float64) (float64, float64, float64) {
	q, _ := it.t.LocalInverse(r3.Vec{X: x, Y: y, Z: z})
	return q.X, q.Y, q.Z
}

// LocalTransform applies LocalInverse to a world point.
func (it *InverseTransformation) LocalTransform(p r3.Vec) r3.Vec {
	q, _ := it.t.LocalInverse(p)
	return q
}

// String describes the transformation.
func (t *Transformation) String() string {
	a := t.lattice.Attributes()
	return fmt.Sprintf("linear FFD: %dx%dx%d control points, spacing %.4gx%.4gx%.4g mm, origin (%.4g, %.4g, %.4g), extrapolation %v",
		a.X, a.Y, a.Z, a.DX, a.DY, a.DZ, a.Origin.X, a.Origin.Y, a.Origin.Z, t.extrapolation)
}
