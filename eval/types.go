package eval

import (
	"math"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// Detection is a predicted box with its score and class label.
type Detection = postprocess.Result

// Annotation is a ground-truth box.
type Annotation struct {
	Box   images.Box `json:"box" yaml:"box"`
	Label int        `json:"label" yaml:"label"`
	// Grid is the optional location-grid descriptor. It only selects the
	// location bucket and never takes part in overlap math.
	Grid []float64 `json:"grid,omitempty" yaml:"grid,omitempty"`
}

// Detections holds, per item index, the ranked detections of every active
// class. Every active class has an entry, possibly empty.
type Detections []map[int][]Detection

// Annotations holds, per item index, the ground truth of every active class.
type Annotations []map[int][]Annotation

// APResult is the average precision of a class or location bucket together
// with the number of ground-truth boxes it was measured against.
type APResult struct {
	AveragePrecision float64 `json:"average_precision" yaml:"average_precision"`
	NumAnnotations   int     `json:"num_annotations" yaml:"num_annotations"`
}

// Result is the outcome of an evaluation.
type Result struct {
	// Classes maps each active class label to its AP.
	Classes map[int]APResult `json:"classes" yaml:"classes"`
	// Locations maps each location bucket to its AP. Empty unless location
	// bias is enabled.
	Locations map[string]APResult `json:"locations" yaml:"locations"`
}

// MeanAP averages the AP of all classes that have ground truth.
//
// Arguments:
//   - weighted: Weight each class by its number of annotations instead of
//     averaging uniformly.
//
// Returns:
//   - The mean AP, or 0 when no class has ground truth.
func (r *Result) MeanAP(weighted bool) float64 {
	var sum, total float64
	for _, ap := range r.Classes {
		if ap.NumAnnotations == 0 {
			continue
		}
		if weighted {
			sum += ap.AveragePrecision * float64(ap.NumAnnotations)
			total += float64(ap.NumAnnotations)
		} else {
			sum += ap.AveragePrecision
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// BucketKey derives the location bucket of a grid descriptor: every
// coordinate is rounded to two decimals, formatted like printf's %g and the
// results are joined with underscores.
//
// Arguments:
//   - grid: The location-grid descriptor of an annotation.
//   - ignoreDepth: Drop the last coordinate before deriving the key.
//
// Returns:
//   - The bucket key, empty for an empty descriptor.
func BucketKey(grid []float64, ignoreDepth bool) string {
	if ignoreDepth && len(grid) > 0 {
		grid = grid[:len(grid)-1]
	}
	parts := make([]string, len(grid))
	for i, g := range grid {
		parts[i] = strconv.FormatFloat(math.RoundToEven(g*100)/100, 'g', 6, 64)
	}
	return strings.Join(parts, "_")
}
