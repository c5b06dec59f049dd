package eval

import (
	"context"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/visualize"
)

// Evaluate measures the average precision of model over gen.
//
// Active classes are resolved once and shared by both collectors. Detections
// and ground truth are collected over the whole dataset before any matching
// starts.
//
// Arguments:
//   - ctx: Cancels outstanding predictions.
//   - gen: The dataset to evaluate.
//   - model: The detector.
//   - opts: The evaluation options, validated before any work starts.
//   - sink: Receives each raw image and its kept detections. May be nil.
//
// Returns:
//   - The per-class result and, with opts.LocationBias, the per-bucket result.
//   - error: A *ConfigError for invalid options, a *ShapeError for malformed
//     collaborator output, or the wrapped collaborator error.
//
// @example
// res, err := eval.Evaluate(ctx, gen, model, eval.DefaultOptions(), nil)
// fmt.Printf("mAP: %.4f\n", res.MeanAP(false))
func Evaluate(
	ctx context.Context,
	gen dataset.Generator,
	model inference.Model,
	opts Options,
	sink visualize.Sink,
) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	classes := dataset.ActiveClasses(gen)
	opts.infof("evaluating %d items over %d classes", gen.Size(), len(classes))

	detections, err := CollectDetections(ctx, gen, model, classes, opts, sink)
	if err != nil {
		return nil, err
	}
	opts.infof("collected detections")

	annotations, err := CollectAnnotations(gen, classes)
	if err != nil {
		return nil, err
	}
	opts.infof("collected annotations")

	return EvaluateCollected(detections, annotations, classes, opts), nil
}

// EvaluateCollected matches already collected detections against ground truth
// and integrates the precision-recall curve of every class, and of every
// location bucket when opts.LocationBias is set.
//
// Within each class, items are visited in index order and detections in
// their ranked order. Each detection is matched against the annotations of
// its own item and class only. With location bias, the detection is also
// recorded in the bucket of its nominal annotation, whether or not it was a
// true positive. Detections without any candidate annotation are false
// positives that belong to no bucket.
//
// Bucket keys are shared across classes, so a bucket aggregates every class
// annotated at that location.
//
// Arguments:
//   - detections: Ranked detections indexed by item, then class.
//   - annotations: Ground truth indexed by item, then class.
//   - classes: The active class labels.
//   - opts: The evaluation options. They are not validated here.
//
// Returns:
//   - The evaluation result.
func EvaluateCollected(detections Detections, annotations Annotations, classes []int, opts Options) *Result {
	res := &Result{
		Classes:   make(map[int]APResult, len(classes)),
		Locations: make(map[string]APResult),
	}
	buckets := make(map[string]*matchState)
	bucket := func(key string) *matchState {
		b, ok := buckets[key]
		if !ok {
			b = &matchState{}
			buckets[key] = b
		}
		return b
	}

	items := max(len(detections), len(annotations))
	for _, label := range classes {
		state := &matchState{}

		for i := 0; i < items; i++ {
			var dets []Detection
			if i < len(detections) {
				dets = detections[i][label]
			}
			var anns []Annotation
			if i < len(annotations) {
				anns = annotations[i][label]
			}
			state.numAnnotations += len(anns)

			var keys []string
			if opts.LocationBias {
				keys = make([]string, len(anns))
				for j, a := range anns {
					keys[j] = BucketKey(a.Grid, opts.IgnoreGridDepth)
					bucket(keys[j]).numAnnotations++
				}
			}

			consumed := make(map[int]bool, len(anns))
			for _, d := range dets {
				a := Match(d.Box, anns, consumed, opts.MaxDetectionsPerBox, opts.IoUThreshold)
				state.add(d.Score, a.TruePositive)
				if opts.LocationBias && a.Index >= 0 {
					bucket(keys[a.Index]).add(d.Score, a.TruePositive)
				}
			}
		}

		res.Classes[label] = state.result()
		opts.debugf("class %d: AP %.4f over %d annotations",
			label, res.Classes[label].AveragePrecision, res.Classes[label].NumAnnotations)
	}

	for key, b := range buckets {
		res.Locations[key] = b.result()
	}
	return res
}
