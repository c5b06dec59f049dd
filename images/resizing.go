package images

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

const (
	// DefaultMinSide is the default target length of the shortest image side.
	DefaultMinSide = 800
	// DefaultMaxSide caps the longest image side after resizing.
	DefaultMaxSide = 1333
)

// ComputeResizeScale returns the uniform scale that brings the shortest side
// of a width x height image to minSide, unless that pushes the longest side
// past maxSide, in which case the longest side is brought to maxSide instead.
//
// Arguments:
//   - width: Source image width in pixels.
//   - height: Source image height in pixels.
//   - minSide: Target length of the shortest side.
//   - maxSide: Maximum allowed length of the longest side.
//
// Returns:
//   - The scale factor, or 1 for an empty image.
func ComputeResizeScale(width, height, minSide, maxSide int) float64 {
	smallest := min(width, height)
	largest := max(width, height)
	if smallest <= 0 {
		return 1
	}

	scale := float64(minSide) / float64(smallest)
	if float64(largest)*scale > float64(maxSide) {
		scale = float64(maxSide) / float64(largest)
	}
	return scale
}

// ResizeToFit resizes img by the scale from ComputeResizeScale using bilinear
// interpolation.
//
// Arguments:
//   - img: The source image.
//   - minSide: Target length of the shortest side.
//   - maxSide: Maximum allowed length of the longest side.
//
// Returns:
//   - image.Image: The resized image.
//   - float64: The scale applied. Boxes predicted on the resized image are
//     divided by this value to map them back onto img.
//
// Example:
//
// ```go
//
//	resized, scale := ResizeToFit(img, DefaultMinSide, DefaultMaxSide)
//	box = box.Scale(scale)
//
// ```
func ResizeToFit(img image.Image, minSide, maxSide int) (image.Image, float64) {
	bounds := img.Bounds()
	scale := ComputeResizeScale(bounds.Dx(), bounds.Dy(), minSide, maxSide)
	if scale == 1 {
		return img, scale
	}

	width := uint(math.Round(float64(bounds.Dx()) * scale))
	height := uint(math.Round(float64(bounds.Dy()) * scale))
	return resize.Resize(width, height, img, resize.Bilinear), scale
}
