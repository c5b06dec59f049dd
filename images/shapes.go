// Package images - Box geometry and image utilities used by the evaluator.
package images

import (
	"fmt"
	"image"
	"math"

	"github.com/chewxy/math32"
)

// Box is an axis-aligned bounding box in image coordinates.
//
// X1,Y1 is the top-left corner and X2,Y2 the bottom-right corner. Unlike
// image.Rectangle the coordinates are continuous, so a box with X1 == X2
// has zero width rather than one pixel.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// String formats the box for logs.
func (b Box) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns the horizontal extent of the box, never negative.
func (b Box) Width() float32 {
	return math32.Max(b.X2-b.X1, 0)
}

// Height returns the vertical extent of the box, never negative.
func (b Box) Height() float32 {
	return math32.Max(b.Y2-b.Y1, 0)
}

// Area returns the area of the box.
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Scale divides every coordinate by s.
//
// Detections are produced in the coordinates of the resized network input;
// dividing by the resize scale maps them back onto the original image.
//
// Arguments:
//   - s: The resize scale that was applied to the source image.
//
// Returns:
//   - The box in original-image coordinates.
func (b Box) Scale(s float64) Box {
	f := float32(s)
	return Box{X1: b.X1 / f, Y1: b.Y1 / f, X2: b.X2 / f, Y2: b.Y2 / f}
}

// ToRect converts the box to an image.Rectangle.
//
// This loses the fractional part of each coordinate, which is fine for
// drawing but must never be used for overlap math.
func (b Box) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// CalculateIoU computes the Intersection over Union of two boxes.
//
// IoU is a number between 0.0 and 1.0 answering "how much do these two boxes
// overlap?":
//
//	IoU = Area of Intersection / Area of Union
//
// The intersection corner coordinates are the maximum of the two top-left
// corners and the minimum of the two bottom-right corners. When the resulting
// width or height is zero or negative the boxes do not overlap and the result
// is 0. Coordinates are continuous, so unlike keras-retinanet's
// compute_overlap no +1 pixel is added to widths and heights. The union
// follows the principle of inclusion-exclusion:
//
//	Area(Union) = Area(A) + Area(B) - Area(Intersection)
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iou := CalculateIoU(a, b) // intersection=25, union=175, iou≈0.142857
//
// ```
func CalculateIoU(r, o Box) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return math32.Min(interArea/unionArea, 1)
}

// CalculateIoU64 computes the Intersection over Union of two boxes in
// float64. Use it whenever the result is compared against a threshold: the
// float32 result of CalculateIoU can round an exact 0.7 down to 0.69999999.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float64: A value between 0.0 and 1.0 representing the IoU score.
func CalculateIoU64(r, o Box) float64 {
	ix1 := math.Max(float64(r.X1), float64(o.X1))
	iy1 := math.Max(float64(r.Y1), float64(o.Y1))
	ix2 := math.Min(float64(r.X2), float64(o.X2))
	iy2 := math.Min(float64(r.Y2), float64(o.Y2))

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	area := func(b Box) float64 {
		return math.Max(float64(b.X2)-float64(b.X1), 0) * math.Max(float64(b.Y2)-float64(b.Y1), 0)
	}
	unionArea := area(r) + area(o) - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return math.Min(interArea/unionArea, 1)
}

// CalculateIoUs computes the float64 IoU of a query box against every
// candidate.
//
// Arguments:
//   - query: The box compared against all candidates.
//   - candidates: The candidate boxes.
//
// Returns:
//   - One IoU per candidate, in candidate order.
func CalculateIoUs(query Box, candidates []Box) []float64 {
	overlaps := make([]float64, len(candidates))
	for i, c := range candidates {
		overlaps[i] = CalculateIoU64(query, c)
	}
	return overlaps
}
