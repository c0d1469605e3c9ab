// Package phantom builds synthetic test data for the volwarp command: a
// sphere on a padded background and a smooth displacement field on a
// control point lattice.
package phantom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volwarp/pkg/ffd"
	"volwarp/pkg/geometry"
	"volwarp/pkg/volume"
)

// Sphere describes a spherical phantom centred in its grid
type Sphere struct {
	// Dimensions is the grid size in voxels
	Dimensions [3]int

	// Spacing is the voxel spacing in mm
	Spacing [3]float64

	// Radius is the sphere radius in mm
	Radius float64
}

// Attributes returns the phantom geometry, centred at the world origin.
func (s Sphere) Attributes() geometry.Attributes {
	return geometry.DefaultAttributes(s.Dimensions[0], s.Dimensions[1], s.Dimensions[2],
		s.Spacing[0], s.Spacing[1], s.Spacing[2])
}

// NewGrid renders the sphere. Voxels outside the sphere hold padding. Inside,
// the intensity falls off smoothly from 200 at the centre to 100 at the
// surface and carries a low frequency texture so that misregistration
// changes the sampled values.
func NewGrid[T volume.Scalar](s Sphere, padding T) (*volume.Grid[T], error) {
	if !(s.Radius > 0) {
		return nil, fmt.Errorf("phantom radius must be positive, got %g", s.Radius)
	}
	g, err := volume.New[T](s.Attributes())
	if err != nil {
		return nil, err
	}
	g.Fill(padding)

	nx, ny, nz, _ := g.Dimensions()
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				x, y, z := g.ImageToWorld(float64(i), float64(j), float64(k))
				r := math.Sqrt(x*x + y*y + z*z)
				if r > s.Radius {
					continue
				}
				v := 200 - 100*(r/s.Radius)*(r/s.Radius)
				v += 10 * math.Sin(x/4) * math.Cos(y/5) * math.Sin(z/6+0.5)
				g.PutAsDouble(i, j, k, 0, v)
			}
		}
	}
	return g, nil
}

// SetSmoothDisplacement fills the lattice with a smooth field whose
// magnitude along each axis is at most amplitude mm and which vanishes on
// the lattice boundary.
func SetSmoothDisplacement(l *ffd.Lattice, amplitude float64) error {
	nx, ny, nz := l.Dimensions()
	norm := func(i, n int) float64 {
		if n < 2 {
			return 0.5
		}
		return float64(i) / float64(n-1)
	}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				u, v, w := norm(i, nx), norm(j, ny), norm(k, nz)
				bump := math.Sin(math.Pi*u) * math.Sin(math.Pi*v) * math.Sin(math.Pi*w)
				d := r3.Vec{
					X: amplitude * bump * math.Cos(math.Pi*v),
					Y: amplitude * bump * math.Sin(math.Pi*w),
					Z: -amplitude * bump * math.Cos(math.Pi*u),
				}
				if err := l.Put(i, j, k, d); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
