// Package eval - Average precision evaluation of object detectors.
//
// Evaluation runs in two phases. The collectors gather ranked detections and
// ground truth per item and class over the whole dataset; the orchestrator then
// matches detections to annotations greedily in score order and integrates the
// resulting precision-recall curve per class, and optionally per location
// bucket.
package eval

import (
	"math"

	"github.com/cyclopcam/logs"
)

// Options controls an evaluation run.
type Options struct {
	// IoUThreshold is the minimum overlap for a detection to count as a true positive.
	IoUThreshold float64 `json:"iou_threshold" yaml:"iou_threshold"`
	// ScoreThreshold drops detections whose score is not above it.
	ScoreThreshold float64 `json:"score_threshold" yaml:"score_threshold"`
	// MaxDetections caps the detections kept per item.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// MaxDetectionsPerBox is the number of ranked annotations a detection may
	// try before settling on its best match.
	MaxDetectionsPerBox int `json:"max_detections_per_bounding_box" yaml:"max_detections_per_bounding_box"`
	// LocationBias additionally reports AP per location bucket.
	LocationBias bool `json:"location_bias" yaml:"location_bias"`
	// IgnoreGridDepth drops the last grid coordinate when deriving bucket keys,
	// for grids whose last axis is depth. On by default.
	IgnoreGridDepth bool `json:"ignore_grid_depth" yaml:"ignore_grid_depth"`
	// Workers runs inference on that many goroutines. Zero or one is sequential.
	Workers int `json:"workers" yaml:"workers"`
	// Log receives progress messages. Nil disables logging.
	Log logs.Log `json:"-" yaml:"-"`
}

// DefaultOptions returns the standard Pascal VOC style evaluation settings.
func DefaultOptions() Options {
	return Options{
		IoUThreshold:        0.5,
		ScoreThreshold:      0.05,
		MaxDetections:       100,
		MaxDetectionsPerBox: 1,
		IgnoreGridDepth:     true,
	}
}

// Validate checks every option against its valid range.
//
// Returns:
//   - error: A *ConfigError naming the first invalid field, or nil.
func (o Options) Validate() error {
	switch {
	case math.IsNaN(o.IoUThreshold) || o.IoUThreshold < 0 || o.IoUThreshold > 1:
		return &ConfigError{Field: "iou_threshold", Value: o.IoUThreshold, Reason: "must be within [0, 1]"}
	case math.IsNaN(o.ScoreThreshold) || o.ScoreThreshold < 0 || o.ScoreThreshold > 1:
		return &ConfigError{Field: "score_threshold", Value: o.ScoreThreshold, Reason: "must be within [0, 1]"}
	case o.MaxDetections < 1:
		return &ConfigError{Field: "max_detections", Value: o.MaxDetections, Reason: "must be at least 1"}
	case o.MaxDetectionsPerBox < 1:
		return &ConfigError{Field: "max_detections_per_bounding_box", Value: o.MaxDetectionsPerBox, Reason: "must be at least 1"}
	case o.Workers < 0:
		return &ConfigError{Field: "workers", Value: o.Workers, Reason: "must not be negative"}
	}
	return nil
}

func (o Options) infof(format string, args ...any) {
	if o.Log != nil {
		o.Log.Infof(format, args...)
	}
}

func (o Options) debugf(format string, args ...any) {
	if o.Log != nil {
		o.Log.Debugf(format, args...)
	}
}
