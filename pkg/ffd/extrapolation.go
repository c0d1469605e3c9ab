package ffd

import (
	"fmt"
	"strings"
)

// Extrapolation selects how control points outside the lattice are read
// when a query point lies in a boundary cell or beyond the lattice.
type Extrapolation int

const (
	// ExtrapolateNone applies the in-bounds formula to the control points
	// that exist and drops the others. Inside the lattice this is exactly
	// plain trilinear interpolation; outside, the field decays to zero
	// within one lattice unit.
	ExtrapolateNone Extrapolation = iota

	// ExtrapolateNearest reads the nearest boundary control point.
	ExtrapolateNearest

	// ExtrapolateMirror reflects indices at the lattice boundary.
	ExtrapolateMirror
)

func (e Extrapolation) String() string {
	switch e {
	case ExtrapolateNone:
		return "none"
	case ExtrapolateNearest:
		return "nearest"
	case ExtrapolateMirror:
		return "mirror"
	default:
		return fmt.Sprintf("Extrapolation(%d)", int(e))
	}
}

// ParseExtrapolation converts a configuration name into an Extrapolation.
func ParseExtrapolation(name string) (Extrapolation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "default":
		return ExtrapolateNone, nil
	case "nearest", "clamp":
		return ExtrapolateNearest, nil
	case "mirror":
		return ExtrapolateMirror, nil
	default:
		return 0, fmt.Errorf("unknown extrapolation mode %q", name)
	}
}

// resolve maps an index along an axis with n control points to a valid
// index. The boolean is false when the control point must be dropped.
func (e Extrapolation) resolve(i, n int) (int, bool) {
	if i >= 0 && i < n {
		return i, true
	}
	switch e {
	case ExtrapolateNearest:
		if i < 0 {
			return 0, true
		}
		return n - 1, true
	case ExtrapolateMirror:
		if n == 1 {
			return 0, true
		}
		period := 2 * (n - 1)
		m := i % period
		if m < 0 {
			m += period
		}
		if m >= n {
			m = period - m
		}
		return m, true
	default:
		return 0, false
	}
}
