// Package postprocess - Postprocessing utilities for detector outputs.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-ml-eval/images"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result.
	Box images.Box `json:"box" yaml:"box"`
	// The confidence score of the result.
	Score float32 `json:"score" yaml:"score"`
	// The predicted class index of the result.
	Class int `json:"class" yaml:"class"`
}

// FilterByScore keeps the results whose score is strictly above threshold,
// preserving their order.
//
// Arguments:
//   - results: The candidate results.
//   - threshold: The exclusive score threshold.
//
// Returns:
//   - The kept results in a new slice.
func FilterByScore(results []Result, threshold float32) []Result {
	kept := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Score > threshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// SortByScore sorts results by descending score in place. Equal scores keep
// their relative order.
func SortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// TopK truncates results to at most k entries.
func TopK(results []Result, k int) []Result {
	if k >= 0 && len(results) > k {
		return results[:k]
	}
	return results
}

// GroupByClass splits results per class, preserving order within a class.
func GroupByClass(results []Result) map[int][]Result {
	groups := make(map[int][]Result)
	for _, r := range results {
		groups[r.Class] = append(groups[r.Class], r)
	}
	return groups
}
