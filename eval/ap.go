package eval

import (
	"sort"
)

// machineEpsilon is the float64 spacing at 1.0. It floors the precision
// denominator.
const machineEpsilon = 0x1p-52

// Envelope pads precision with a zero at each end and replaces every value
// by the maximum of itself and all values to its right. The result is
// non-increasing from start to end.
func Envelope(precision []float64) []float64 {
	env := make([]float64, len(precision)+2)
	copy(env[1:], precision)
	for i := len(env) - 1; i > 0; i-- {
		env[i-1] = max(env[i-1], env[i])
	}
	return env
}

// ComputeAP integrates a precision-recall curve.
//
// Recall is padded with 0 and 1 and precision with 0 and 0. The area is the
// sum, over every point where recall changes, of the recall step times the
// precision envelope at the end of the step.
//
// Arguments:
//   - recall: Non-decreasing recall values.
//   - precision: Precision values, same length as recall.
//
// Returns:
//   - The average precision in [0, 1].
//
// ComputeAP panics if recall and precision differ in length.
func ComputeAP(recall, precision []float64) float64 {
	if len(recall) != len(precision) {
		panic("eval: recall and precision lengths differ")
	}

	mrec := make([]float64, len(recall)+2)
	copy(mrec[1:], recall)
	mrec[len(mrec)-1] = 1
	mpre := Envelope(precision)

	ap := 0.0
	for i := 0; i < len(mrec)-1; i++ {
		if mrec[i+1] != mrec[i] {
			ap += (mrec[i+1] - mrec[i]) * mpre[i+1]
		}
	}
	return ap
}

// outcome is one matched detection.
type outcome struct {
	score        float32
	truePositive bool
}

// matchState accumulates the outcomes of a class or a location bucket.
type matchState struct {
	outcomes       []outcome
	numAnnotations int
}

func (s *matchState) add(score float32, truePositive bool) {
	s.outcomes = append(s.outcomes, outcome{score: score, truePositive: truePositive})
}

// curve sorts the outcomes by descending score, ties keeping insertion order,
// and returns the cumulative recall and precision.
func (s *matchState) curve() (recall, precision []float64) {
	sorted := make([]outcome, len(s.outcomes))
	copy(sorted, s.outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].score > sorted[j].score
	})

	recall = make([]float64, len(sorted))
	precision = make([]float64, len(sorted))
	n := float64(s.numAnnotations)
	var tp, fp float64
	for i, o := range sorted {
		if o.truePositive {
			tp++
		} else {
			fp++
		}
		recall[i] = tp / n
		precision[i] = tp / max(tp+fp, machineEpsilon)
	}
	return recall, precision
}

// result integrates the curve. Zero ground truth gives AP 0 by convention.
func (s *matchState) result() APResult {
	if s.numAnnotations == 0 {
		return APResult{}
	}
	recall, precision := s.curve()
	return APResult{
		AveragePrecision: ComputeAP(recall, precision),
		NumAnnotations:   s.numAnnotations,
	}
}
