package ffd

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// BendingMode selects the finite difference functional used as bending
// energy.
//
// A trilinear field has zero second derivative inside every cell and all of
// its curvature concentrated on the lattice planes, so the analytic thin
// plate energy is not usable. Both modes are approximations evaluated on
// the control points themselves.
type BendingMode int

const (
	// SecondDifference sums squared second differences of the control
	// point displacements (pure terms with central differences, mixed terms
	// with the four diagonal neighbours, counted twice). It is a curvature
	// proxy and vanishes for every affine displacement field.
	SecondDifference BendingMode = iota

	// FirstDifference sums squared forward differences between neighbouring
	// control points. It is a roughness proxy and vanishes only for
	// constant displacement fields.
	FirstDifference
)

func (m BendingMode) String() string {
	switch m {
	case SecondDifference:
		return "second-difference"
	case FirstDifference:
		return "first-difference"
	default:
		return fmt.Sprintf("BendingMode(%d)", int(m))
	}
}

// ParseBendingMode converts a configuration name into a BendingMode.
func ParseBendingMode(name string) (BendingMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "second-difference", "curvature":
		return SecondDifference, nil
	case "first-difference", "roughness":
		return FirstDifference, nil
	default:
		return 0, fmt.Errorf("unknown bending energy mode %q", name)
	}
}

// BendingOptions configures BendingEnergy and BendingEnergyGradient.
type BendingOptions struct {
	Mode BendingMode

	// WorldUnits scales differences by the control point spacing so that the
	// energy approximates derivatives per mm instead of per lattice unit.
	WorldUnits bool

	// Normalize divides the energy by the number of control points.
	Normalize bool
}

// DefaultBendingOptions returns the second difference energy in world units,
// normalised by the number of control points.
func DefaultBendingOptions() BendingOptions {
	return BendingOptions{Mode: SecondDifference, WorldUnits: true, Normalize: true}
}

// stencil is one finite difference term: weight * |sum coef[m] * v(idx[m])|^2.
type stencil struct {
	weight float64
	n      int
	idx    [4]int
	coef   [4]float64
}

// stencils calls fn for every finite difference term of the energy.
// Differences that would need a control point outside the lattice are
// skipped, so boundary control points contribute fewer terms.
func (t *Transformation) stencils(opts BendingOptions, fn func(s *stencil)) {
	l := t.lattice
	nx, ny, nz := l.Dimensions()
	a := l.Attributes()
	size := [3]int{nx, ny, nz}
	spacing := [3]float64{1, 1, 1}
	if opts.WorldUnits {
		spacing = [3]float64{a.DX, a.DY, a.DZ}
	}

	var s stencil
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				pos := [3]int{i, j, k}
				at := func(off [3]int) int {
					return l.Index(pos[0]+off[0], pos[1]+off[1], pos[2]+off[2])
				}
				has := func(axis, d int) bool {
					c := pos[axis] + d
					return c >= 0 && c < size[axis]
				}

				switch opts.Mode {
				case FirstDifference:
					for axis := 0; axis < 3; axis++ {
						if !has(axis, 1) {
							continue
						}
						var next [3]int
						next[axis] = 1
						h := 1 / spacing[axis]
						s = stencil{weight: 1, n: 2}
						s.idx[0], s.coef[0] = at(next), h
						s.idx[1], s.coef[1] = at([3]int{}), -h
						fn(&s)
					}

				default:
					for axis := 0; axis < 3; axis++ {
						if !has(axis, -1) || !has(axis, 1) {
							continue
						}
						var prev, next [3]int
						prev[axis], next[axis] = -1, 1
						h := 1 / (spacing[axis] * spacing[axis])
						s = stencil{weight: 1, n: 3}
						s.idx[0], s.coef[0] = at(prev), h
						s.idx[1], s.coef[1] = at([3]int{}), -2*h
						s.idx[2], s.coef[2] = at(next), h
						fn(&s)
					}
					for a1 := 0; a1 < 3; a1++ {
						for a2 := a1 + 1; a2 < 3; a2++ {
							if !has(a1, -1) || !has(a1, 1) || !has(a2, -1) || !has(a2, 1) {
								continue
							}
							h := 1 / (4 * spacing[a1] * spacing[a2])
							s = stencil{weight: 2, n: 4}
							for m, sign := range [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}} {
								var off [3]int
								off[a1], off[a2] = sign[0], sign[1]
								s.idx[m], s.coef[m] = at(off), float64(sign[0]*sign[1])*h
							}
							fn(&s)
						}
					}
				}
			}
		}
	}
}

func (s *stencil) apply(values []r3.Vec) r3.Vec {
	var d r3.Vec
	for m := 0; m < s.n; m++ {
		d = r3.Add(d, r3.Scale(s.coef[m], values[s.idx[m]]))
	}
	return d
}

// BendingEnergy returns the finite difference smoothness penalty of the
// control point displacements. The result is never negative, and is
// invariant under negating or mirroring the displacement field.
func (t *Transformation) BendingEnergy(opts BendingOptions) float64 {
	values := t.lattice.values
	var energy float64
	t.stencils(opts, func(s *stencil) {
		energy += s.weight * r3.Norm2(s.apply(values))
	})
	if opts.Normalize {
		energy /= float64(len(values))
	}
	return energy
}

// BendingEnergyGradient adds weight times the gradient of BendingEnergy with
// respect to every degree of freedom to grad. DOFs are interleaved per
// control point (x, y, z).
func (t *Transformation) BendingEnergyGradient(grad []float64, weight float64, opts BendingOptions) error {
	values := t.lattice.values
	if len(grad) != 3*len(values) {
		return fmt.Errorf("%w: gradient has %d entries, transformation has %d DOFs",
			ErrLengthMismatch, len(grad), 3*len(values))
	}
	scale := 2 * weight
	if opts.Normalize {
		scale /= float64(len(values))
	}
	t.stencils(opts, func(s *stencil) {
		d := s.apply(values)
		for m := 0; m < s.n; m++ {
			g := scale * s.weight * s.coef[m]
			cp := 3 * s.idx[m]
			grad[cp] += g * d.X
			grad[cp+1] += g * d.Y
			grad[cp+2] += g * d.Z
		}
	})
	return nil
}
