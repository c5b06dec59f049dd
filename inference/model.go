// Package inference - Model interface and the tensor types it produces.
package inference

import (
	"context"
	"image"

	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ml-eval/images"
)

// Model runs a detector on one resized image.
type Model interface {
	// Predict returns the raw model outputs for img. Boxes are expressed in
	// the coordinates of img.
	Predict(ctx context.Context, img image.Image) (Prediction, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, img image.Image) (Prediction, error)

// Predict calls f(ctx, img).
func (f ModelFunc) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	return f(ctx, img)
}

// Prediction holds the outputs of a single forward pass.
//
// A well formed prediction carries at least three outputs, in order:
// boxes shaped [1, M, 4], scores shaped [1, M] and labels shaped [1, M].
// Models may append further outputs, which are ignored.
type Prediction []*tensor.Dense

// NewPrediction packs per-detection slices into a Prediction with a batch
// dimension of one.
//
// Arguments:
//   - boxes: One box per detection.
//   - scores: One score per detection.
//   - labels: One class label per detection.
//
// Returns:
//   - The boxes [1, M, 4] float32, scores [1, M] float32 and labels [1, M] int tensors.
//
// @example
// pred := NewPrediction([]images.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}, []float32{0.9}, []int{0})
func NewPrediction(boxes []images.Box, scores []float32, labels []int) Prediction {
	flat := make([]float32, 0, len(boxes)*4)
	for _, b := range boxes {
		flat = append(flat, b.X1, b.Y1, b.X2, b.Y2)
	}

	s := make([]float32, len(scores))
	copy(s, scores)
	l := make([]int, len(labels))
	copy(l, labels)

	return Prediction{
		tensor.New(tensor.WithShape(1, len(boxes), 4), tensor.WithBacking(flat)),
		tensor.New(tensor.WithShape(1, len(scores)), tensor.WithBacking(s)),
		tensor.New(tensor.WithShape(1, len(labels)), tensor.WithBacking(l)),
	}
}
