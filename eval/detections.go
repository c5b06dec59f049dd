package eval

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
	"github.com/nvr-ai/go-ml-eval/visualize"
)

// CollectDetections runs the model over every item and gathers its ranked
// detections, split per active class.
//
// For each item the image is loaded, preprocessed and resized, then
// predicted. Boxes are mapped back to original-image coordinates by dividing
// by the resize scale. Detections scoring above opts.ScoreThreshold are kept,
// sorted by descending score with ties in model order, and truncated to
// opts.MaxDetections.
//
// With opts.Workers above one, items are predicted concurrently and
// reassembled by index, so the result is identical to a sequential run. The
// sink is then called from the worker goroutines.
//
// Arguments:
//   - ctx: Cancels outstanding predictions.
//   - gen: The dataset to evaluate.
//   - model: The detector.
//   - classes: The active class labels, as resolved by dataset.ActiveClasses.
//   - opts: The evaluation options.
//   - sink: Receives each raw image and its kept detections. May be nil.
//
// Returns:
//   - Detections indexed by item, then class. Every active class has an entry.
//   - error: A *ShapeError for malformed model output, otherwise the wrapped
//     collaborator error. No partial result is returned.
func CollectDetections(
	ctx context.Context,
	gen dataset.Generator,
	model inference.Model,
	classes []int,
	opts Options,
	sink visualize.Sink,
) (Detections, error) {
	all := make(Detections, gen.Size())

	collect := func(ctx context.Context, i int) error {
		byClass, err := detectItem(ctx, gen, model, classes, opts, sink, i)
		if err != nil {
			return err
		}
		all[i] = byClass
		return nil
	}

	if opts.Workers <= 1 {
		for i := range all {
			if err := collect(ctx, i); err != nil {
				return nil, err
			}
		}
		return all, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range all {
		g.Go(func() error {
			return collect(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// detectItem predicts a single item and ranks its detections.
func detectItem(
	ctx context.Context,
	gen dataset.Generator,
	model inference.Model,
	classes []int,
	opts Options,
	sink visualize.Sink,
	i int,
) (map[int][]Detection, error) {
	raw, err := gen.LoadImage(i)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image of item %d", i)
	}

	resized, scale := gen.ResizeImage(gen.PreprocessImage(raw))
	if scale <= 0 {
		return nil, shapeErrorf(i, "non-positive resize scale %g", scale)
	}

	prediction, err := model.Predict(ctx, resized)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to predict item %d", i)
	}

	detections, err := decodePrediction(i, prediction)
	if err != nil {
		return nil, err
	}
	for j := range detections {
		detections[j].Box = detections[j].Box.Scale(scale)
	}

	detections = postprocess.FilterByScore(detections, float32(opts.ScoreThreshold))
	postprocess.SortByScore(detections)
	detections = postprocess.TopK(detections, opts.MaxDetections)
	opts.debugf("item %d: kept %d detections", i, len(detections))

	if sink != nil {
		if err := sink.Write(i, raw, detections); err != nil {
			return nil, errors.Wrapf(err, "failed to write visualization of item %d", i)
		}
	}

	groups := postprocess.GroupByClass(detections)
	byClass := make(map[int][]Detection, len(classes))
	for _, label := range classes {
		byClass[label] = append([]Detection{}, groups[label]...)
	}
	return byClass, nil
}

// decodePrediction unpacks the boxes [1, M, 4], scores [1, M] and labels
// [1, M] outputs into detections in model order.
func decodePrediction(item int, p inference.Prediction) ([]Detection, error) {
	if len(p) < 3 {
		return nil, shapeErrorf(item, "expected 3 outputs, got %d", len(p))
	}
	for k, out := range p[:3] {
		if out == nil {
			return nil, shapeErrorf(item, "output %d is missing", k)
		}
	}

	boxShape := p[0].Shape()
	if len(boxShape) != 3 || boxShape[0] != 1 || boxShape[2] != 4 {
		return nil, shapeErrorf(item, "boxes shaped %v, want [1 M 4]", boxShape)
	}
	m := boxShape[1]
	for k, name := range []string{"scores", "labels"} {
		if s := p[k+1].Shape(); len(s) != 2 || s[0] != 1 || s[1] != m {
			return nil, shapeErrorf(item, "%s shaped %v, want [1 %d]", name, s, m)
		}
	}
	if m == 0 {
		return []Detection{}, nil
	}

	boxes, ok := inference.Float32s(p[0])
	if !ok || len(boxes) != m*4 {
		return nil, shapeErrorf(item, "boxes hold %v", p[0].Dtype())
	}
	scores, ok := inference.Float32s(p[1])
	if !ok || len(scores) != m {
		return nil, shapeErrorf(item, "scores hold %v", p[1].Dtype())
	}
	labels, ok := inference.Ints(p[2])
	if !ok || len(labels) != m {
		return nil, shapeErrorf(item, "labels hold %v", p[2].Dtype())
	}

	detections := make([]Detection, m)
	for j := range detections {
		b := boxes[j*4 : j*4+4]
		detections[j] = Detection{
			Box:   images.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]},
			Score: scores[j],
			Class: labels[j],
		}
	}
	return detections, nil
}
