package kernel

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kind identifies an interpolation kernel. The set is closed: a Kernel is
// selected once at construction and never swapped.
type Kind int

const (
	// Linear is the trilinear kernel with a support of two lattice units.
	Linear Kind = iota
)

func (k Kind) String() string {
	switch k {
	case Linear:
		return "linear"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts a configuration name into a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear", "trilinear":
		return Linear, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, name)
	}
}

// Kernel is the interpolation contract shared by all consumers of this
// package. The zero Kernel is the linear kernel.
type Kernel struct {
	kind Kind
}

// New returns the kernel of the given kind.
func New(kind Kind) (Kernel, error) {
	switch kind {
	case Linear:
		return Kernel{kind: kind}, nil
	default:
		return Kernel{}, fmt.Errorf("%w: %v", ErrUnsupportedKind, kind)
	}
}

// Kind returns the kernel's kind.
func (k Kernel) Kind() Kind { return k.kind }

// Size returns the support of the kernel in lattice units per axis.
func (k Kernel) Size() int { return 2 * Radius }

// ComputeWeights returns the corner weights at the fractional offsets.
func (k Kernel) ComputeWeights(fx, fy, fz float64) Weights {
	return ComputeWeights(fx, fy, fz)
}

// Derivative returns the derivative of the corner weights along one axis.
func (k Kernel) Derivative(axis Axis, fx, fy, fz float64) Weights {
	return Derivative(axis, fx, fy, fz)
}

// Interpolate returns the weighted sum of scalar corner values.
func (k Kernel) Interpolate(values [Corners]float64, w Weights) float64 {
	return Interpolate(values, w)
}

// InterpolateVector returns the weighted sum of vector corner values.
func (k Kernel) InterpolateVector(values [Corners]r3.Vec, w Weights) r3.Vec {
	return InterpolateVector(values, w)
}
