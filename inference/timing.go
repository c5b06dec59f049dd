package inference

import (
	"context"
	"image"
	"sync"
	"time"
)

// TimingStats summarizes the forward passes of a TimedModel.
type TimingStats struct {
	Count int64         `json:"count" yaml:"count"`
	Total time.Duration `json:"total" yaml:"total"`
	Min   time.Duration `json:"min" yaml:"min"`
	Max   time.Duration `json:"max" yaml:"max"`
}

// Mean returns the average latency of a forward pass, or 0 before the first.
func (s TimingStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Throughput returns forward passes per second of model time.
func (s TimingStats) Throughput() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Count) / s.Total.Seconds()
}

// TimedModel wraps a Model and records the latency of every Predict call,
// failed calls included. It is safe for concurrent use when the wrapped
// model is.
type TimedModel struct {
	model Model
	now   func() time.Time

	mu    sync.Mutex
	stats TimingStats
}

// NewTimedModel wraps model.
func NewTimedModel(model Model) *TimedModel {
	return &TimedModel{model: model, now: time.Now}
}

// Predict forwards to the wrapped model and records how long it took.
func (t *TimedModel) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	start := t.now()
	pred, err := t.model.Predict(ctx, img)
	d := t.now().Sub(start)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.Count == 0 || d < t.stats.Min {
		t.stats.Min = d
	}
	if d > t.stats.Max {
		t.stats.Max = d
	}
	t.stats.Count++
	t.stats.Total += d

	return pred, err
}

// Stats returns a snapshot of the recorded latencies.
func (t *TimedModel) Stats() TimingStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Reset clears all recorded latencies.
func (t *TimedModel) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = TimingStats{}
}
