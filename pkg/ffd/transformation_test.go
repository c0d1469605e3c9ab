package ffd

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volwarp/pkg/geometry"
)

// newTestLattice creates a lattice with the given size and 2mm spacing.
func newTestLattice(t *testing.T, nx, ny, nz int) *Lattice {
	t.Helper()
	l, err := NewLattice(geometry.DefaultAttributes(nx, ny, nz, 2, 2, 2))
	require.NoError(t, err)
	return l
}

// newRandomTransformation fills a lattice with reproducible random
// displacements in [-1, 1).
func newRandomTransformation(t *testing.T, nx, ny, nz int, seed int64, opts ...Option) *Transformation {
	t.Helper()
	l := newTestLattice(t, nx, ny, nz)
	rng := rand.New(rand.NewSource(seed))
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				d := r3.Vec{X: 2*rng.Float64() - 1, Y: 2*rng.Float64() - 1, Z: 2*rng.Float64() - 1}
				require.NoError(t, l.Put(i, j, k, d))
			}
		}
	}
	ffd, err := New(l, opts...)
	require.NoError(t, err)
	return ffd
}

func TestEvaluateAtControlPointsIsExact(t *testing.T) {
	ffd := newRandomTransformation(t, 4, 5, 3, 1)
	for k := 0; k < 3; k++ {
		for j := 0; j < 5; j++ {
			for i := 0; i < 4; i++ {
				want := ffd.Lattice().Get(i, j, k)
				got := ffd.Evaluate(float64(i), float64(j), float64(k))
				assert.Equal(t, want, got, "control point (%d, %d, %d)", i, j, k)
				assert.Equal(t, want, ffd.EvaluateAt(i, j, k))
			}
		}
	}
}

func TestEvaluateCellCentreIsMean(t *testing.T) {
	ffd := newRandomTransformation(t, 2, 2, 2, 2)
	var mean r3.Vec
	for _, v := range ffd.Lattice().values {
		mean = r3.Add(mean, r3.Scale(0.125, v))
	}
	got := ffd.Evaluate(0.5, 0.5, 0.5)
	assert.InDelta(t, mean.X, got.X, 1e-12)
	assert.InDelta(t, mean.Y, got.Y, 1e-12)
	assert.InDelta(t, mean.Z, got.Z, 1e-12)
}

func TestLocalTransformInverseIdentity(t *testing.T) {
	t.Run("ConstantField", func(t *testing.T) {
		// A constant field makes the first order inverse a true inverse
		l := newTestLattice(t, 3, 3, 3)
		for i := range l.values {
			l.values[i] = r3.Vec{X: 0.25, Y: -0.5, Z: 0.125}
		}
		ffd, err := New(l)
		require.NoError(t, err)

		for _, p := range []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 1.5, Y: -0.75, Z: 0.5}, {X: -1, Y: 1, Z: 0.25}} {
			inv, ok := ffd.LocalInverse(p)
			assert.True(t, ok)
			assertVecNear(t, p, ffd.LocalTransform(inv), 1e-12)

			back, ok := ffd.LocalInverse(ffd.LocalTransform(p))
			assert.True(t, ok)
			assertVecNear(t, p, back, 1e-12)
		}
	})

	t.Run("NegatedDisplacement", func(t *testing.T) {
		ffd := newRandomTransformation(t, 5, 5, 5, 3)
		rng := rand.New(rand.NewSource(4))
		for n := 0; n < 200; n++ {
			p := r3.Vec{X: 6*rng.Float64() - 3, Y: 6*rng.Float64() - 3, Z: 6*rng.Float64() - 3}
			d := ffd.Displacement(p)
			inv, ok := ffd.LocalInverse(p)
			require.True(t, ok)
			fwd := ffd.LocalTransform(p)

			// The inverse is the literal negation of the same displacement
			assert.Equal(t, r3.Sub(p, d), inv)
			assert.Equal(t, r3.Add(p, d), fwd)
			mid := r3.Scale(0.5, r3.Add(inv, fwd))
			assert.InDelta(t, 0, r3.Norm(r3.Sub(mid, p)), 1e-12)
		}
	})
}

func TestLocalJacobianOfAffineField(t *testing.T) {
	attr := geometry.DefaultAttributes(4, 4, 4, 2, 1.5, 3)
	c, s := math.Cos(0.3), math.Sin(0.3)
	attr.XAxis = r3.Vec{X: c, Y: s}
	attr.YAxis = r3.Vec{X: -s, Y: c}
	attr.Origin = r3.Vec{X: 5, Y: -2, Z: 1}
	l, err := NewLattice(attr)
	require.NoError(t, err)

	// d(x) = M x + b is reproduced exactly by trilinear interpolation
	m := mat.NewDense(3, 3, []float64{
		0.1, -0.2, 0.05,
		0.0, 0.3, 0.1,
		-0.1, 0.02, 0.2,
	})
	b := r3.Vec{X: 1, Y: -1, Z: 0.5}
	affine := func(p r3.Vec) r3.Vec {
		return r3.Vec{
			X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + b.X,
			Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + b.Y,
			Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + b.Z,
		}
	}
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				require.NoError(t, l.Put(i, j, k, affine(l.ControlPointLocation(i, j, k))))
			}
		}
	}
	ffd, err := New(l)
	require.NoError(t, err)

	var want mat.Dense
	want.Add(m, eye())
	for _, q := range []r3.Vec{{X: 0.5, Y: 0.5, Z: 0.5}, {X: 1.25, Y: 2.75, Z: 0.1}, {X: 2.9, Y: 0.2, Z: 2.5}} {
		p := l.LatticeToWorld(q)
		got := ffd.LocalJacobian(p)
		assert.True(t, mat.EqualApprox(&want, got, 1e-9), "at %v got\n%v", q, mat.Formatted(got))

		d := ffd.Displacement(p)
		assert.InDelta(t, 0, r3.Norm(r3.Sub(d, affine(p))), 1e-9)
	}
}

func eye() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func TestEvaluateJacobianMatchesFiniteDifference(t *testing.T) {
	ffd := newRandomTransformation(t, 5, 4, 6, 5)
	l := ffd.Lattice()
	rng := rand.New(rand.NewSource(6))
	const h = 1e-5
	for n := 0; n < 50; n++ {
		// Stay away from lattice planes where the field has kinks
		q := r3.Vec{
			X: float64(rng.Intn(4)) + 0.2 + 0.6*rng.Float64(),
			Y: float64(rng.Intn(3)) + 0.2 + 0.6*rng.Float64(),
			Z: float64(rng.Intn(5)) + 0.2 + 0.6*rng.Float64(),
		}
		jac := ffd.EvaluateJacobian(q.X, q.Y, q.Z)
		p := l.LatticeToWorld(q)
		for c, e := range []r3.Vec{{X: h}, {Y: h}, {Z: h}} {
			fd := r3.Scale(1/(2*h), r3.Sub(ffd.Displacement(r3.Add(p, e)), ffd.Displacement(r3.Sub(p, e))))
			assert.InDelta(t, fd.X, jac.At(0, c), 1e-6)
			assert.InDelta(t, fd.Y, jac.At(1, c), 1e-6)
			assert.InDelta(t, fd.Z, jac.At(2, c), 1e-6)
		}
	}
}

func TestEvaluateJacobianOnLatticeBoundary(t *testing.T) {
	for _, e := range []Extrapolation{ExtrapolateNone, ExtrapolateNearest, ExtrapolateMirror} {
		t.Run(e.String(), func(t *testing.T) {
			// d.X = i grows by one per 2mm lattice unit
			l := newTestLattice(t, 3, 3, 3)
			for k := 0; k < 3; k++ {
				for j := 0; j < 3; j++ {
					for i := 0; i < 3; i++ {
						require.NoError(t, l.Put(i, j, k, r3.Vec{X: float64(i)}))
					}
				}
			}
			ffd, err := New(l, WithExtrapolation(e))
			require.NoError(t, err)

			want := mat.NewDense(3, 3, []float64{0.5, 0, 0, 0, 0, 0, 0, 0, 0})
			for _, q := range []r3.Vec{{X: 0, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 0, Y: 2, Z: 0}} {
				got := ffd.EvaluateJacobian(q.X, q.Y, q.Z)
				assert.True(t, mat.EqualApprox(want, got, 1e-12), "at %v got\n%v", q, mat.Formatted(got))

				det := mat.Det(ffd.LocalJacobian(l.LatticeToWorld(q)))
				assert.InDelta(t, 1.5, det, 1e-12, "at %v", q)
			}
		})
	}
}

func TestEvaluateJacobianOnSinglePlaneLattice(t *testing.T) {
	for _, e := range []Extrapolation{ExtrapolateNone, ExtrapolateNearest, ExtrapolateMirror} {
		t.Run(e.String(), func(t *testing.T) {
			l := newTestLattice(t, 3, 3, 1)
			for j := 0; j < 3; j++ {
				for i := 0; i < 3; i++ {
					require.NoError(t, l.Put(i, j, 0, r3.Vec{X: float64(i), Z: 1}))
				}
			}
			ffd, err := New(l, WithExtrapolation(e))
			require.NoError(t, err)

			// Only dX/dx is non-zero, the single z plane has no extent
			want := mat.NewDense(3, 3, []float64{0.5, 0, 0, 0, 0, 0, 0, 0, 0})
			for _, q := range []r3.Vec{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 0.5, Y: 1.5}} {
				got := ffd.EvaluateJacobian(q.X, q.Y, q.Z)
				assert.True(t, mat.EqualApprox(want, got, 1e-12), "at %v got\n%v", q, mat.Formatted(got))
			}
			assert.InDelta(t, 1.5, mat.Det(ffd.LocalJacobian(l.ControlPointLocation(2, 1, 0))), 1e-12)
		})
	}
}

func TestJacobianDOFs(t *testing.T) {
	ffd := newRandomTransformation(t, 4, 4, 4, 7)
	l := ffd.Lattice()

	at := func(x, y, z float64) r3.Vec { return l.LatticeToWorld(r3.Vec{X: x, Y: y, Z: z}) }

	testCases := []struct {
		name string
		q    r3.Vec
		want float64
	}{
		{"AtControlPoint", r3.Vec{X: 1, Y: 2, Z: 3}, 1},
		{"HalfwayAlongX", r3.Vec{X: 1.5, Y: 2, Z: 3}, 0.5},
		{"OneUnitAlongX", r3.Vec{X: 2, Y: 2, Z: 3}, 0},
		{"BeyondSupportAlongZ", r3.Vec{X: 1, Y: 2, Z: 1.5}, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ffd.JacobianDOFs(1, 2, 3, at(tc.q.X, tc.q.Y, tc.q.Z))
			for axis, w := range got {
				assert.InDelta(t, tc.want, w, 1e-9, "axis %d", axis)
			}
		})
	}

	// The displacement is the DOF-weighted sum over the supporting points
	q := r3.Vec{X: 1.3, Y: 2.6, Z: 0.4}
	p := at(q.X, q.Y, q.Z)
	var sum r3.Vec
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				w := ffd.JacobianDOFs(i, j, k, p)
				v := l.Get(i, j, k)
				sum = r3.Add(sum, r3.Vec{X: w[0] * v.X, Y: w[1] * v.Y, Z: w[2] * v.Z})
			}
		}
	}
	d := ffd.Displacement(p)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(sum, d)), 1e-9)
}

func TestExtrapolationModes(t *testing.T) {
	build := func(e Extrapolation) *Transformation {
		l := newTestLattice(t, 3, 1, 1)
		for i := 0; i < 3; i++ {
			require.NoError(t, l.Put(i, 0, 0, r3.Vec{X: float64(i + 1)}))
		}
		ffd, err := New(l, WithExtrapolation(e))
		require.NoError(t, err)
		return ffd
	}

	none := build(ExtrapolateNone)
	assert.Equal(t, 3.0, none.Evaluate(2, 0, 0).X)
	assert.InDelta(t, 1.5, none.Evaluate(2.5, 0, 0).X, 1e-12)
	assert.Equal(t, 0.0, none.Evaluate(4, 0, 0).X)
	assert.Equal(t, 0.0, none.Evaluate(0, 1, 0).X)

	nearest := build(ExtrapolateNearest)
	assert.Equal(t, 3.0, nearest.Evaluate(5.5, 0, 0).X)
	assert.Equal(t, 1.0, nearest.Evaluate(-2, 0, 0).X)
	assert.Equal(t, 2.0, nearest.Evaluate(1, 3, -1).X)

	mirror := build(ExtrapolateMirror)
	assert.Equal(t, 2.0, mirror.Evaluate(3, 0, 0).X)
	assert.Equal(t, 2.0, mirror.Evaluate(-1, 0, 0).X)
	assert.Equal(t, 1.0, mirror.Evaluate(4, 0, 0).X)

	for _, name := range []string{"none", "nearest", "mirror"} {
		e, err := ParseExtrapolation(name)
		require.NoError(t, err)
		assert.Equal(t, name, e.String())
	}
	_, err := ParseExtrapolation("periodic")
	assert.Error(t, err)
}

func TestConcurrentEvaluationIsDeterministic(t *testing.T) {
	ffd := newRandomTransformation(t, 6, 6, 6, 8)
	points := make([]r3.Vec, 500)
	rng := rand.New(rand.NewSource(9))
	for i := range points {
		points[i] = r3.Vec{X: 10*rng.Float64() - 5, Y: 10*rng.Float64() - 5, Z: 10*rng.Float64() - 5}
	}
	want := make([]r3.Vec, len(points))
	for i, p := range points {
		want[i] = ffd.LocalTransform(p)
	}

	got := make([]r3.Vec, len(points))
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for i := start; i < len(points); i += 4 {
				got[i] = ffd.LocalTransform(points[i])
			}
		}(w)
	}
	wg.Wait()
	assert.True(t, cmp.Equal(want, got))
}

func TestNewLatticeForDomain(t *testing.T) {
	domain := geometry.DefaultAttributes(21, 11, 1, 1, 2, 3)
	l, err := NewLatticeForDomain(domain, 5, 5, 5)
	require.NoError(t, err)

	nx, ny, nz := l.Dimensions()
	assert.Equal(t, [3]int{5, 5, 1}, [3]int{nx, ny, nz})
	a := l.Attributes()
	assert.InDelta(t, 5, a.DX, 1e-12)
	assert.InDelta(t, 5, a.DY, 1e-12)

	// Outermost control points coincide with outermost voxel centres
	domainMap, err := geometry.NewMapping(domain)
	require.NoError(t, err)
	x, y, _ := domainMap.ImageToWorld.Apply(20, 10, 0)
	corner := l.ControlPointLocation(4, 4, 0)
	assert.InDelta(t, x, corner.X, 1e-9)
	assert.InDelta(t, y, corner.Y, 1e-9)

	_, err = NewLatticeForDomain(domain, 0, 5, 5)
	assert.ErrorIs(t, err, geometry.ErrInvalidAttributes)
}

func TestLatticePutOutOfRange(t *testing.T) {
	l := newTestLattice(t, 2, 2, 2)
	assert.ErrorIs(t, l.Put(2, 0, 0, r3.Vec{}), ErrIndexOutOfRange)
	assert.Equal(t, 24, l.NumberOfDOFs())

	_, err := New(nil)
	assert.Error(t, err)
}

func TestKernelSizeAndString(t *testing.T) {
	ffd := newRandomTransformation(t, 2, 2, 2, 10)
	assert.Equal(t, 2, ffd.KernelSize())
	assert.Contains(t, ffd.String(), "2x2x2 control points")
}

func assertVecNear(t *testing.T, want, got r3.Vec, delta float64) {
	t.Helper()
	if r3.Norm(r3.Sub(want, got)) > delta {
		t.Errorf("expected %v, got %v", want, got)
	}
}
