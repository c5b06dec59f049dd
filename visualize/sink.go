// Package visualize - Persists images annotated with detections.
package visualize

import (
	"image"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// Sink receives the raw image of each evaluated item with the detections
// kept for it. Implementations may be called from several goroutines when
// inference runs in parallel, but never twice for the same item.
type Sink interface {
	Write(item int, img image.Image, detections []postprocess.Result) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(item int, img image.Image, detections []postprocess.Result) error

// Write calls f(item, img, detections).
func (f SinkFunc) Write(item int, img image.Image, detections []postprocess.Result) error {
	return f(item, img, detections)
}

// goldenAngle spreads consecutive labels around the hue wheel.
const goldenAngle = 180 * (3 - 2.2360679774997896) // 180 * (3 - sqrt(5))

// LabelColor returns a stable, distinct colour for a class label.
//
// Arguments:
//   - label: The class label.
//
// Returns:
//   - An opaque colour; negative labels map to grey.
func LabelColor(label int) color.RGBA {
	if label < 0 {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}
	hue := math.Mod(float64(label)*goldenAngle, 360)
	r, g, b := colorful.Hsv(hue, 0.85, 0.95).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
