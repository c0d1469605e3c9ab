// Package metrics compares two intensity volumes. It is used to measure how
// faithfully a resampling or a warp round trip preserves the source image.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"volwarp/pkg/volume"
)

// ErrNoSamples is returned when there is nothing to compare.
var ErrNoSamples = errors.New("no samples to compare")

// Report holds the similarity measures between a reference and a test
// volume.
type Report struct {
	// RMSE is the root mean square intensity difference. Lower is better.
	RMSE float64

	// SSIM is the structural similarity index computed over the whole
	// volume, using the intensity range of the reference as dynamic range.
	// Values range from -1 to 1, with 1 indicating identical volumes.
	SSIM float64

	// MI is the mutual information under a Gaussian model of the joint
	// intensity distribution. It is +Inf for perfectly linearly related
	// volumes and 0 when either volume is constant.
	MI float64

	// EntropyDiff is the absolute difference between the Shannon entropies
	// of the two intensity histograms, in bits.
	EntropyDiff float64

	// Correlation is the Pearson correlation coefficient, or 0 when either
	// volume is constant.
	Correlation float64

	// Count is the number of voxels that entered the comparison.
	Count int
}

func (r Report) String() string {
	return fmt.Sprintf("RMSE %.4f, SSIM %.4f, MI %.4f, entropy diff %.4f bits, correlation %.4f over %d voxels",
		r.RMSE, r.SSIM, r.MI, r.EntropyDiff, r.Correlation, r.Count)
}

// Compare computes a Report for two equally long sample vectors.
func Compare(reference, test []float64) (Report, error) {
	if len(reference) != len(test) {
		return Report{}, fmt.Errorf("sample count mismatch: %d reference, %d test", len(reference), len(test))
	}
	if len(reference) == 0 {
		return Report{}, ErrNoSamples
	}
	return Report{
		RMSE:        rmse(reference, test),
		SSIM:        ssim(reference, test),
		MI:          mutualInformation(reference, test),
		EntropyDiff: math.Abs(entropy(reference) - entropy(test)),
		Correlation: correlation(reference, test),
		Count:       len(reference),
	}, nil
}

// CompareGrids compares all frames of two grids with the same dimensions.
// Voxels holding the padding value in either grid are left out.
func CompareGrids[T volume.Scalar](reference, test *volume.Grid[T], padding T) (Report, error) {
	rx, ry, rz, rt := reference.Dimensions()
	tx, ty, tz, tt := test.Dimensions()
	if rx != tx || ry != ty || rz != tz || rt != tt {
		return Report{}, fmt.Errorf("grid dimensions differ: %dx%dx%dx%d and %dx%dx%dx%d",
			rx, ry, rz, rt, tx, ty, tz, tt)
	}
	var a, b []float64
	for n, v := range reference.Data() {
		w := test.Data()[n]
		if v == padding || w == padding {
			continue
		}
		a = append(a, float64(v))
		b = append(b, float64(w))
	}
	return Compare(a, b)
}

func rmse(a, b []float64) float64 {
	return floats.Distance(a, b, 2) / math.Sqrt(float64(len(a)))
}

func ssim(a, b []float64) float64 {
	const k1, k2 = 0.01, 0.03

	L := floats.Max(a) - floats.Min(a)
	if L <= 0 {
		L = 1
	}
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	m := computeMoments(a, b)
	num := (2*m.muX*m.muY + c1) * (2*m.cov + c2)
	den := (m.muX*m.muX + m.muY*m.muY + c1) * (m.varX + m.varY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// moments holds means, population variances and the population covariance
// of a pair of sample vectors.
type moments struct {
	muX, muY   float64
	varX, varY float64
	cov        float64
}

func computeMoments(a, b []float64) moments {
	m := moments{muX: stat.Mean(a, nil), muY: stat.Mean(b, nil)}
	for i := range a {
		dx, dy := a[i]-m.muX, b[i]-m.muY
		m.varX += dx * dx
		m.varY += dy * dy
		m.cov += dx * dy
	}
	n := float64(len(a))
	m.varX /= n
	m.varY /= n
	m.cov /= n
	return m
}

// mutualInformation uses MI = 0.5 log(varX varY / (varX varY - cov^2)).
func mutualInformation(a, b []float64) float64 {
	m := computeMoments(a, b)
	if m.varX <= 0 || m.varY <= 0 {
		return 0
	}
	det := m.varX*m.varY - m.cov*m.cov
	if det <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(m.varX*m.varY/det)
}

func correlation(a, b []float64) float64 {
	if len(a) < 2 {
		return 0
	}
	c := stat.Correlation(a, b, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// entropyBins is the histogram resolution of the entropy estimate.
const entropyBins = 256

// entropy returns the Shannon entropy in bits of a 256 bin histogram
// spanning the data range.
func entropy(data []float64) float64 {
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	hist := make([]float64, entropyBins)
	width := (hi - lo) / entropyBins
	for _, v := range data {
		bin := int((v - lo) / width)
		if bin >= entropyBins {
			bin = entropyBins - 1
		} else if bin < 0 {
			bin = 0
		}
		hist[bin]++
	}

	n := float64(len(data))
	var h float64
	for _, count := range hist {
		if count > 0 {
			p := count / n
			h -= p * math.Log2(p)
		}
	}
	return h
}
