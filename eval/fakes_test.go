package eval

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
)

// fakeItem is one dataset entry of the in-memory generator.
type fakeItem struct {
	detections  []Detection
	annotations dataset.AnnotationSet
}

// itemImage lets the fake model recover which item it is predicting.
type itemImage struct {
	*image.RGBA
	item int
}

// fakeGenerator serves items from memory. Every item is resized by scale.
type fakeGenerator struct {
	items      []fakeItem
	numClasses int
	inactive   map[int]bool
	scale      float64
	loadErr    map[int]error
}

func newFakeGenerator(numClasses int, items ...fakeItem) *fakeGenerator {
	return &fakeGenerator{items: items, numClasses: numClasses, scale: 1}
}

func (g *fakeGenerator) Size() int       { return len(g.items) }
func (g *fakeGenerator) NumClasses() int { return g.numClasses }

func (g *fakeGenerator) HasLabel(label int) bool {
	return !g.inactive[label]
}

func (g *fakeGenerator) LoadImage(i int) (image.Image, error) {
	if err := g.loadErr[i]; err != nil {
		return nil, err
	}
	return itemImage{RGBA: image.NewRGBA(image.Rect(0, 0, 4, 4)), item: i}, nil
}

func (g *fakeGenerator) PreprocessImage(img image.Image) image.Image {
	return img
}

func (g *fakeGenerator) ResizeImage(img image.Image) (image.Image, float64) {
	return img, g.scale
}

func (g *fakeGenerator) LoadAnnotations(i int) (dataset.AnnotationSet, error) {
	return g.items[i].annotations, nil
}

func (g *fakeGenerator) LabelToName(label int) string {
	return map[int]string{0: "cat", 1: "dog"}[label]
}

// fakeModel returns the scripted detections of the item behind img, in
// resized coordinates. Items without detections get empty [1, 0, ...] outputs.
func fakeModel(g *fakeGenerator) inference.Model {
	return inference.ModelFunc(func(ctx context.Context, img image.Image) (inference.Prediction, error) {
		ii, ok := img.(itemImage)
		if !ok {
			return nil, errors.New("unexpected image type")
		}
		dets := g.items[ii.item].detections

		boxes := make([]images.Box, len(dets))
		scores := make([]float32, len(dets))
		labels := make([]int, len(dets))
		for j, d := range dets {
			boxes[j] = images.Box{
				X1: d.Box.X1 * float32(g.scale),
				Y1: d.Box.Y1 * float32(g.scale),
				X2: d.Box.X2 * float32(g.scale),
				Y2: d.Box.Y2 * float32(g.scale),
			}
			scores[j] = d.Score
			labels[j] = d.Class
		}
		return inference.NewPrediction(boxes, scores, labels), nil
	})
}

func det(x1, y1, x2, y2, score float32, label int) Detection {
	return Detection{Box: images.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score, Class: label}
}

func ann(x1, y1, x2, y2 float32, label int, grid ...float64) Annotation {
	return Annotation{Box: images.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Label: label, Grid: grid}
}

// annotationSet packs annotations the way a dataset reports them.
func annotationSet(anns ...Annotation) dataset.AnnotationSet {
	var set dataset.AnnotationSet
	for _, a := range anns {
		set.Boxes = append(set.Boxes, a.Box)
		set.Labels = append(set.Labels, a.Label)
		if a.Grid != nil {
			set.GridLocations = append(set.GridLocations, a.Grid)
		}
	}
	return set
}
