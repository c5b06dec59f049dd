package eval

import (
	"sort"

	"github.com/nvr-ai/go-ml-eval/images"
)

// Assignment is the outcome of matching one detection.
type Assignment struct {
	// Index of the nominally matched annotation, or -1 when the item had no
	// annotations of the class.
	Index int
	// IoU between the detection and the annotation at Index.
	IoU float64
	// TruePositive is set when the detection claimed the annotation.
	TruePositive bool
}

// Match assigns one detection to at most one unconsumed annotation.
//
// Annotations are ranked by descending IoU with the detection, ties keeping
// annotation order. The top-ranked annotation is chosen; if it is already
// consumed, up to attempts-1 further ranked candidates are probed for an
// unconsumed one. When none is free the top-ranked annotation remains the
// nominal match. The detection is a true positive iff the chosen annotation
// overlaps it by at least iouThreshold and was not consumed, in which case it
// is marked consumed.
//
// Arguments:
//   - det: The detection box.
//   - anns: The annotations of the same item and class.
//   - consumed: Annotation indices already claimed within this item and class.
//     Updated in place.
//   - attempts: The number of ranked candidates a detection may try, at least 1.
//   - iouThreshold: The minimum IoU of a true positive.
//
// Returns:
//   - The assignment. With no annotations it is a false positive with Index -1.
func Match(det images.Box, anns []Annotation, consumed map[int]bool, attempts int, iouThreshold float64) Assignment {
	if len(anns) == 0 {
		return Assignment{Index: -1}
	}

	boxes := make([]images.Box, len(anns))
	for i, a := range anns {
		boxes[i] = a.Box
	}
	overlaps := images.CalculateIoUs(det, boxes)
	ranked := rankByOverlap(overlaps)

	chosen := ranked[0]
	if consumed[chosen] {
		for z := 1; z < attempts && z < len(ranked); z++ {
			if !consumed[ranked[z]] {
				chosen = ranked[z]
				break
			}
		}
	}

	a := Assignment{Index: chosen, IoU: overlaps[chosen]}
	if a.IoU >= iouThreshold && !consumed[chosen] {
		a.TruePositive = true
		consumed[chosen] = true
	}
	return a
}

// rankByOverlap returns candidate indices ordered by descending overlap.
func rankByOverlap(overlaps []float64) []int {
	ranked := make([]int, len(overlaps))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return overlaps[ranked[i]] > overlaps[ranked[j]]
	})
	return ranked
}
