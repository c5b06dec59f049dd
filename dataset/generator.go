// Package dataset - Evaluation datasets: images, ground truth and class metadata.
package dataset

import (
	"image"

	"github.com/nvr-ai/go-ml-eval/images"
)

// AnnotationSet holds the ground truth of one dataset item.
type AnnotationSet struct {
	// Boxes in original-image coordinates.
	Boxes []images.Box `json:"boxes" yaml:"boxes"`
	// Labels holds the class label of each box.
	Labels []int `json:"labels" yaml:"labels"`
	// GridLocations optionally holds one location-grid descriptor per box.
	// It is nil for datasets without location metadata.
	GridLocations [][]float64 `json:"grid_locations,omitempty" yaml:"grid_locations,omitempty"`
}

// Generator is the dataset consumed by the evaluator.
//
// Items are addressed by index in [0, Size()). Implementations must return
// the same data for the same index on every call.
type Generator interface {
	// Size returns the number of items.
	Size() int
	// NumClasses returns the size of the label space.
	NumClasses() int
	// HasLabel reports whether label is part of the evaluated class set.
	HasLabel(label int) bool
	// LoadImage returns the raw image of item i.
	LoadImage(i int) (image.Image, error)
	// PreprocessImage prepares a raw image for the network.
	PreprocessImage(img image.Image) image.Image
	// ResizeImage resizes a preprocessed image for the network and returns
	// the scale that was applied.
	ResizeImage(img image.Image) (image.Image, float64)
	// LoadAnnotations returns the ground truth of item i.
	LoadAnnotations(i int) (AnnotationSet, error)
	// LabelToName maps a class label to its display name.
	LabelToName(label int) string
}

// ActiveClasses resolves the labels in [0, NumClasses()) that the generator
// declares active, in ascending order.
//
// Arguments:
//   - g: The dataset to query.
//
// Returns:
//   - The active class labels.
func ActiveClasses(g Generator) []int {
	classes := make([]int, 0, g.NumClasses())
	for label := 0; label < g.NumClasses(); label++ {
		if g.HasLabel(label) {
			classes = append(classes, label)
		}
	}
	return classes
}

// ClassNames maps every active class label to its display name.
func ClassNames(g Generator) map[int]string {
	names := make(map[int]string)
	for _, label := range ActiveClasses(g) {
		names[label] = g.LabelToName(label)
	}
	return names
}
