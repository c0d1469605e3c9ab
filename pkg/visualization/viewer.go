// Package visualization renders orthogonal slices of voxel grids as
// grayscale images for visual inspection of resampling and warping results.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"volwarp/pkg/volume"
)

// Viewer extracts slices from one frame of a voxel grid. Intensities are
// mapped linearly from the window [lo, hi] onto the 16 bit gray range;
// padding voxels are rendered black.
type Viewer[T volume.Scalar] struct {
	// grid holds the voxels to display
	grid *volume.Grid[T]

	// padding marks background voxels
	padding T

	// frame is the time frame being displayed
	frame int

	// lo and hi bound the displayed intensity window
	lo, hi float64
}

// NewViewer creates a viewer for frame 0 of g. The intensity window spans
// the non-padding voxels of that frame.
func NewViewer[T volume.Scalar](g *volume.Grid[T], padding T) *Viewer[T] {
	v := &Viewer[T]{grid: g, padding: padding}
	v.lo, v.hi = math.Inf(1), math.Inf(-1)
	_, _, _, frames := g.Dimensions()
	if frames == 0 {
		return v
	}
	for _, x := range g.Frame(0) {
		if x == padding {
			continue
		}
		v.lo = math.Min(v.lo, float64(x))
		v.hi = math.Max(v.hi, float64(x))
	}
	return v
}

// SetFrame selects the time frame to display. The window is kept.
func (v *Viewer[T]) SetFrame(l int) error {
	if _, _, _, frames := v.grid.Dimensions(); l < 0 || l >= frames {
		return fmt.Errorf("frame %d out of range [0, %d)", l, frames)
	}
	v.frame = l
	return nil
}

// Window returns the intensity range mapped onto the gray scale.
func (v *Viewer[T]) Window() (lo, hi float64) { return v.lo, v.hi }

// SetWindow overrides the intensity window, for example to display several
// grids with the same contrast.
func (v *Viewer[T]) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

func (v *Viewer[T]) gray(x T) color.Gray16 {
	if x == v.padding {
		return color.Gray16{}
	}
	if !(v.hi > v.lo) {
		return color.Gray16{Y: math.MaxUint16}
	}
	f := (float64(x) - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Round(math.Max(0, math.Min(1, f)) * math.MaxUint16))}
}

// ExtractSlice extracts a 2D slice at the given index along axis "x", "y" or
// "z". An x slice is a (z, y) image, a y slice an (x, z) image and a z slice
// an (x, y) image.
func (v *Viewer[T]) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	width, height, depth, _ := v.grid.Dimensions()
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, width)
		}
		img = image.NewGray16(image.Rect(0, 0, depth, height))
		for y := 0; y < height; y++ {
			for z := 0; z < depth; z++ {
				img.SetGray16(z, y, v.gray(v.grid.Get(position, y, z, v.frame)))
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, height)
		}
		img = image.NewGray16(image.Rect(0, 0, width, depth))
		for z := 0; z < depth; z++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, z, v.gray(v.grid.Get(x, position, z, v.frame)))
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		img = image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, y, v.gray(v.grid.Get(x, y, position, v.frame)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer[T]) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer[T]) SaveSliceSequence(axis string, outputDir string) error {
	width, height, depth, _ := v.grid.Dimensions()
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = width
	case "y", "Y":
		maxPos = height
	case "z", "Z":
		maxPos = depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveCentralSlices saves the middle slice along each axis as
// <prefix>_<axis>.jpg in outputDir and returns the file names.
func (v *Viewer[T]) SaveCentralSlices(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	width, height, depth, _ := v.grid.Dimensions()
	var files []string
	for _, s := range []struct {
		axis string
		n    int
	}{{"x", width}, {"y", height}, {"z", depth}} {
		axis := s.axis
		img, err := v.ExtractSlice(axis, s.n/2)
		if err != nil {
			return nil, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", prefix, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return nil, err
		}
		files = append(files, filename)
	}
	return files, nil
}
