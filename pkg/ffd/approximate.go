package ffd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"volwarp/pkg/kernel"
)

// DOFs returns a copy of the transformation parameters, interleaved per
// control point as (x, y, z).
func (t *Transformation) DOFs() []float64 {
	dofs := make([]float64, 0, t.lattice.NumberOfDOFs())
	for _, v := range t.lattice.values {
		dofs = append(dofs, v.X, v.Y, v.Z)
	}
	return dofs
}

// SetDOFs replaces all parameters. The layout matches DOFs.
func (t *Transformation) SetDOFs(dofs []float64) error {
	if len(dofs) != t.lattice.NumberOfDOFs() {
		return fmt.Errorf("%w: got %d DOFs, transformation has %d",
			ErrLengthMismatch, len(dofs), t.lattice.NumberOfDOFs())
	}
	for n := range t.lattice.values {
		t.lattice.values[n] = r3.Vec{X: dofs[3*n], Y: dofs[3*n+1], Z: dofs[3*n+2]}
	}
	return nil
}

// Interpolate sets the control points so that the transformation
// interpolates the given displacements at the control point locations. With
// the linear kernel this copies the values into the lattice. Each slice holds
// one component per control point in lattice order.
func (t *Transformation) Interpolate(dx, dy, dz []float64) error {
	n := t.lattice.NumberOfControlPoints()
	if len(dx) != n || len(dy) != n || len(dz) != n {
		return fmt.Errorf("%w: got %d/%d/%d displacements for %d control points",
			ErrLengthMismatch, len(dx), len(dy), len(dz), n)
	}
	for i := range t.lattice.values {
		t.lattice.values[i] = r3.Vec{X: dx[i], Y: dy[i], Z: dz[i]}
	}
	return nil
}

// ApproximateDOFs replaces the parameters with the kernel-weighted average
// of scattered displacements: every sample contributes to the control
// points of the cell containing it, in proportion to its interpolation
// weight. Control points that receive no contribution are reset to zero.
// It returns the RMS error of the approximation at the sample points.
func (t *Transformation) ApproximateDOFs(points, displacements []r3.Vec) (float64, error) {
	if len(points) != len(displacements) {
		return 0, fmt.Errorf("%w: %d points, %d displacements",
			ErrLengthMismatch, len(points), len(displacements))
	}
	l := t.lattice
	numerator := make([]r3.Vec, len(l.values))
	denominator := make([]float64, len(l.values))

	for n, p := range points {
		q := l.WorldToLattice(p)
		i, fx := kernel.Split(q.X)
		j, fy := kernel.Split(q.Y)
		k, fz := kernel.Split(q.Z)
		w := t.kernel.ComputeWeights(fx, fy, fz)
		for c := range w {
			cx, cy, cz := kernel.Corner(c)
			if w[c] == 0 || !l.IsInside(i+cx, j+cy, k+cz) {
				continue
			}
			idx := l.Index(i+cx, j+cy, k+cz)
			numerator[idx] = r3.Add(numerator[idx], r3.Scale(w[c], displacements[n]))
			denominator[idx] += w[c]
		}
	}

	for idx := range l.values {
		if denominator[idx] > 0 {
			l.values[idx] = r3.Scale(1/denominator[idx], numerator[idx])
		} else {
			l.values[idx] = r3.Vec{}
		}
	}

	if len(points) == 0 {
		return 0, nil
	}
	residuals := make([]float64, len(points))
	for n, p := range points {
		residuals[n] = r3.Norm2(r3.Sub(t.Displacement(p), displacements[n]))
	}
	return math.Sqrt(floats.Sum(residuals) / float64(len(points))), nil
}

// ApproximateDOFsGradient adds weight times the gradient of the squared
// approximation error sum |d(p) - u|^2 over the samples (p, u) to grad. The
// negated gradient is the descent direction towards the least squares fit.
// Control points read through the extrapolation mode receive the
// contributions of samples beyond the lattice. DOFs are interleaved per
// control point (x, y, z).
func (t *Transformation) ApproximateDOFsGradient(points, displacements []r3.Vec, grad []float64, weight float64) error {
	if len(points) != len(displacements) {
		return fmt.Errorf("%w: %d points, %d displacements",
			ErrLengthMismatch, len(points), len(displacements))
	}
	if len(grad) != t.lattice.NumberOfDOFs() {
		return fmt.Errorf("%w: gradient has %d entries, transformation has %d DOFs",
			ErrLengthMismatch, len(grad), t.lattice.NumberOfDOFs())
	}
	for n, p := range points {
		q := t.lattice.WorldToLattice(p)
		e := r3.Scale(2*weight, r3.Sub(t.Evaluate(q.X, q.Y, q.Z), displacements[n]))
		t.scatter(q, func(idx int, w float64) {
			grad[3*idx] += w * e.X
			grad[3*idx+1] += w * e.Y
			grad[3*idx+2] += w * e.Z
		})
	}
	return nil
}

// scatter calls fn with the index and weight of every control point that
// contributes to the displacement at lattice coordinates q.
func (t *Transformation) scatter(q r3.Vec, fn func(idx int, w float64)) {
	l := t.lattice
	nx, ny, nz := l.Dimensions()
	i, fx := kernel.Split(q.X)
	j, fy := kernel.Split(q.Y)
	k, fz := kernel.Split(q.Z)
	weights := t.kernel.ComputeWeights(fx, fy, fz)
	for c, w := range weights {
		if w == 0 {
			continue
		}
		cx, cy, cz := kernel.Corner(c)
		u, okx := t.extrapolation.resolve(i+cx, nx)
		v, oky := t.extrapolation.resolve(j+cy, ny)
		s, okz := t.extrapolation.resolve(k+cz, nz)
		if okx && oky && okz {
			fn(l.Index(u, v, s), w)
		}
	}
}

// BoundingBox returns the world bounding box of the region influenced by
// control point (i, j, k). The fraction scales the support radius; 1 returns
// the full support.
func (t *Transformation) BoundingBox(i, j, k int, fraction float64) (min, max r3.Vec, err error) {
	l := t.lattice
	if !l.IsInside(i, j, k) {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("%w: (%d, %d, %d)", ErrIndexOutOfRange, i, j, k)
	}
	r := fraction * kernel.Radius
	lo := r3.Vec{X: float64(i) - r, Y: float64(j) - r, Z: float64(k) - r}
	hi := r3.Vec{X: float64(i) + r, Y: float64(j) + r, Z: float64(k) + r}

	min = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for c := 0; c < kernel.Corners; c++ {
		cx, cy, cz := kernel.Corner(c)
		p := r3.Vec{X: pickCoord(cx, lo.X, hi.X), Y: pickCoord(cy, lo.Y, hi.Y), Z: pickCoord(cz, lo.Z, hi.Z)}
		w := l.LatticeToWorld(p)
		min = r3.Vec{X: math.Min(min.X, w.X), Y: math.Min(min.Y, w.Y), Z: math.Min(min.Z, w.Z)}
		max = r3.Vec{X: math.Max(max.X, w.X), Y: math.Max(max.Y, w.Y), Z: math.Max(max.Z, w.Z)}
	}
	return min, max, nil
}

func pickCoord(c int, lo, hi float64) float64 {
	if c == 0 {
		return lo
	}
	return hi
}
