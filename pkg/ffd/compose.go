package ffd

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// PointTransformer maps a world point. *Transformation and the approximate
// inverse returned by Transformation.Inverse both satisfy it.
type PointTransformer interface {
	LocalTransform(p r3.Vec) r3.Vec
}

// Compose replaces t with t o t2, the transformation that applies t2 first
// and t second. The composition is evaluated at every control point and
// stored as its new displacement: it is exact at the control points and
// interpolated linearly in between. t2 may share the lattice of t.
func (t *Transformation) Compose(t2 PointTransformer) {
	l := t.lattice
	nx, ny, nz := l.Dimensions()
	composed := make([]r3.Vec, len(l.values))
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				p := l.ControlPointLocation(i, j, k)
				composed[l.Index(i, j, k)] = r3.Sub(t.LocalTransform(t2.LocalTransform(p)), p)
			}
		}
	}
	copy(l.values, composed)
}

// Clone returns an independent copy of t with its own lattice.
func (t *Transformation) Clone() *Transformation {
	l := *t.lattice
	l.values = append([]r3.Vec(nil), t.lattice.values...)
	c := *t
	c.lattice = &l
	return &c
}
