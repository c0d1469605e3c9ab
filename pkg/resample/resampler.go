// Package resample warps a source voxel grid onto a target geometry with
// trilinear interpolation that excludes padding voxels from the average.
package resample

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/kovidgoyal/go-parallel"

	"volwarp/pkg/geometry"
	"volwarp/pkg/kernel"
	"volwarp/pkg/volume"
)

// ErrFrameMismatch is returned when the target geometry does not have the
// same number of time frames as the source.
var ErrFrameMismatch = errors.New("target and source time frames differ")

// Source is the read-only grid contract the resampler samples from.
type Source[T volume.Scalar] interface {
	Attributes() geometry.Attributes
	Dimensions() (x, y, z, t int)
	Get(i, j, k, l int) T
	WorldToImage(x, y, z float64) (float64, float64, float64)
}

// Transformer maps a world point of the target into the world space of the
// source. *ffd.Transformation and the approximate inverse it returns both
// satisfy it.
type Transformer interface {
	TransformPoint(x, y, z float64) (float64, float64, float64)
}

type options struct {
	workers   int
	kind      kernel.Kind
	transform Transformer
	logger    *log.Logger
	verbose   bool
}

// Option configures a Resampler.
type Option func(*options)

// WithWorkers sets the number of goroutines used per frame. Zero uses every
// CPU and one runs the sequential path.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithKernel selects the interpolation kernel. The default is kernel.Linear.
func WithKernel(kind kernel.Kind) Option {
	return func(o *options) { o.kind = kind }
}

// WithTransformation applies t to every target world point before it is
// mapped into the source. The transformation must not be modified while Run
// is in progress.
func WithTransformation(t Transformer) Option {
	return func(o *options) { o.transform = t }
}

// WithLogger sets the logger used for progress output.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVerbose enables per-frame progress output.
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// Resampler samples a source grid on a target geometry. Voxels whose
// neighbourhood is dominated by padding or lies outside the source receive
// the padding value.
type Resampler[T volume.Scalar] struct {
	source  Source[T]
	target  geometry.Attributes
	padding T
	kernel  kernel.Kernel
	opts    options
}

// New returns a resampler onto an explicit target geometry.
func New[T volume.Scalar](source Source[T], target geometry.Attributes, padding T, opts ...Option) (*Resampler[T], error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("target geometry: %w", err)
	}
	if _, _, _, frames := source.Dimensions(); target.T != frames {
		return nil, fmt.Errorf("%w: target has %d, source has %d", ErrFrameMismatch, target.T, frames)
	}
	r := &Resampler[T]{source: source, target: target, padding: padding}
	for _, opt := range opts {
		opt(&r.opts)
	}
	if r.opts.workers < 0 {
		return nil, fmt.Errorf("invalid number of workers: %d", r.opts.workers)
	}
	k, err := kernel.New(r.opts.kind)
	if err != nil {
		return nil, err
	}
	r.kernel = k
	return r, nil
}

// NewWithSpacing resamples the field of view of the source with a new voxel
// spacing.
func NewWithSpacing[T volume.Scalar](source Source[T], dx, dy, dz float64, padding T, opts ...Option) (*Resampler[T], error) {
	return New(source, source.Attributes().Respaced(dx, dy, dz), padding, opts...)
}

// NewWithSize resamples the field of view of the source with a new number
// of voxels.
func NewWithSize[T volume.Scalar](source Source[T], x, y, z int, padding T, opts ...Option) (*Resampler[T], error) {
	return New(source, source.Attributes().Resized(x, y, z), padding, opts...)
}

// NewWithSizeAndSpacing samples the source on a grid with the given size and
// spacing, centred on the source origin. The field of view changes unless
// size and spacing are scaled consistently.
func NewWithSizeAndSpacing[T volume.Scalar](source Source[T], x, y, z int, dx, dy, dz float64, padding T, opts ...Option) (*Resampler[T], error) {
	target := source.Attributes()
	target.X, target.Y, target.Z = x, y, z
	target.DX, target.DY, target.DZ = dx, dy, dz
	return New(source, target, padding, opts...)
}

// Target returns the output geometry.
func (r *Resampler[T]) Target() geometry.Attributes { return r.target }

// Run resamples every frame of the source and returns the output grid.
// Frames are processed in order; within a frame, output z slabs are
// distributed over the workers. The result does not depend on the number of
// workers.
func (r *Resampler[T]) Run() (*volume.Grid[T], error) {
	out, err := volume.New[T](r.target)
	if err != nil {
		return nil, err
	}
	if r.target.Empty() {
		return out, nil
	}

	s := newSampler(r.source, r.padding, r.kernel)
	mapping := out.Mapping()
	nx, ny, nz := r.target.X, r.target.Y, r.target.Z

	for l := 0; l < r.target.T; l++ {
		if r.opts.verbose && r.opts.logger != nil {
			r.opts.logger.Printf("resampling frame %d/%d (%dx%dx%d voxels)", l+1, r.target.T, nx, ny, nz)
		}
		frame := out.Frame(l)
		slabs := func(start, limit int) {
			for k := start; k < limit; k++ {
				for j := 0; j < ny; j++ {
					row := frame[(k*ny+j)*nx:]
					for i := 0; i < nx; i++ {
						x, y, z := mapping.ImageToWorld.Apply(float64(i), float64(j), float64(k))
						if r.opts.transform != nil {
							x, y, z = r.opts.transform.TransformPoint(x, y, z)
						}
						x, y, z = r.source.WorldToImage(x, y, z)
						if v, ok := s.sample(x, y, z, l); ok {
							row[i] = volume.Cast[T](v)
						} else {
							row[i] = r.padding
						}
					}
				}
			}
		}

		if r.opts.workers == 1 {
			slabs(0, nz)
			continue
		}
		if err := parallel.Run_in_parallel_over_range(r.opts.workers, slabs, 0, nz); err != nil {
			return nil, fmt.Errorf("resampling frame %d: %w", l, err)
		}
	}
	return out, nil
}

// SampleWithPadding interpolates src at continuous image coordinates
// (x, y, z) of frame l. A corner with non-zero weight is invalid when it
// lies outside the source or holds the padding value. With four or more
// invalid corners, or no valid weight at all, it returns false; otherwise it
// returns the weighted average of the valid corners.
//
// Corners with zero weight are not inspected. A query that falls exactly on
// a source voxel, or on the face between two voxel planes, is therefore
// kept even when the plane next to it is padding or lies outside the
// source: a voxel sampled at its own position keeps its value.
func SampleWithPadding[T volume.Scalar](src Source[T], x, y, z float64, l int, padding T) (float64, bool) {
	return newSampler(src, padding, kernel.Kernel{}).sample(x, y, z, l)
}

type sampler[T volume.Scalar] struct {
	src        Source[T]
	nx, ny, nz int
	padding    T
	kernel     kernel.Kernel
}

func newSampler[T volume.Scalar](src Source[T], padding T, k kernel.Kernel) sampler[T] {
	nx, ny, nz, _ := src.Dimensions()
	return sampler[T]{src: src, nx: nx, ny: ny, nz: nz, padding: padding, kernel: k}
}

// snapTolerance is the distance in voxels below which a coordinate is
// treated as lying exactly on a sample. It absorbs the rounding of the
// world round trip, which would otherwise give tiny weights to corners
// outside the source.
const snapTolerance = 1e-6

func snap(x float64) float64 {
	if r := math.Round(x); math.Abs(x-r) < snapTolerance {
		return r
	}
	return x
}

func (s sampler[T]) sample(x, y, z float64, l int) (float64, bool) {
	u, fx := kernel.Split(snap(x))
	v, fy := kernel.Split(snap(y))
	w, fz := kernel.Split(snap(z))
	weights := s.kernel.ComputeWeights(fx, fy, fz)

	var val, sum float64
	invalid := 0
	for c, wc := range weights {
		if wc == 0 {
			continue
		}
		cx, cy, cz := kernel.Corner(c)
		i, j, k := u+cx, v+cy, w+cz
		if i < 0 || i >= s.nx || j < 0 || j >= s.ny || k < 0 || k >= s.nz {
			invalid++
			continue
		}
		value := s.src.Get(i, j, k, l)
		if value == s.padding {
			invalid++
			continue
		}
		val += wc * float64(value)
		sum += wc
	}
	if invalid >= 4 || !(sum > 0) {
		return 0, false
	}
	return val / sum, true
}
