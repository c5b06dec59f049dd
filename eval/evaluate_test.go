package eval

import (
	"context"
	"image"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/inference"
)

func evaluateFake(t *testing.T, g *fakeGenerator, opts Options) *Result {
	t.Helper()
	opts.Log = logs.NewTestingLog(t)
	res, err := Evaluate(context.Background(), g, fakeModel(g), opts, nil)
	require.NoError(t, err)
	return res
}

func TestEvaluateExamples(t *testing.T) {
	tests := []struct {
		name     string
		item     fakeItem
		expected APResult
	}{
		{
			name: "Exact hit",
			item: fakeItem{
				detections:  []Detection{det(0, 0, 10, 10, 0.9, 0)},
				annotations: annotationSet(ann(0, 0, 10, 10, 0)),
			},
			expected: APResult{AveragePrecision: 1, NumAnnotations: 1},
		},
		{
			name: "Disjoint detection",
			item: fakeItem{
				detections:  []Detection{det(50, 50, 60, 60, 0.9, 0)},
				annotations: annotationSet(ann(0, 0, 10, 10, 0)),
			},
			expected: APResult{AveragePrecision: 0, NumAnnotations: 1},
		},
		{
			name: "One of two found",
			item: fakeItem{
				detections:  []Detection{det(0, 0, 10, 6, 0.9, 0)},
				annotations: annotationSet(ann(0, 0, 10, 10, 0), ann(50, 50, 60, 60, 0)),
			},
			expected: APResult{AveragePrecision: 0.5, NumAnnotations: 2},
		},
		{
			name: "No detections",
			item: fakeItem{
				annotations: annotationSet(ann(0, 0, 10, 10, 0)),
			},
			expected: APResult{AveragePrecision: 0, NumAnnotations: 1},
		},
		{
			name: "No ground truth",
			item: fakeItem{
				detections: []Detection{det(0, 0, 10, 10, 0.9, 0)},
			},
			expected: APResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluateFake(t, newFakeGenerator(1, tt.item), DefaultOptions())
			require.Contains(t, res.Classes, 0)
			assert.InDelta(t, tt.expected.AveragePrecision, res.Classes[0].AveragePrecision, 1e-9)
			assert.Equal(t, tt.expected.NumAnnotations, res.Classes[0].NumAnnotations)
			assert.Empty(t, res.Locations)
		})
	}
}

func TestEvaluateEmptyModelOutput(t *testing.T) {
	g := newFakeGenerator(1,
		fakeItem{annotations: annotationSet(ann(0, 0, 10, 10, 0))},
		fakeItem{annotations: annotationSet(ann(5, 5, 15, 15, 0), ann(20, 20, 30, 30, 0))},
	)
	model := inference.ModelFunc(func(ctx context.Context, img image.Image) (inference.Prediction, error) {
		return inference.NewPrediction(nil, nil, nil), nil
	})

	res, err := Evaluate(context.Background(), g, model, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, APResult{AveragePrecision: 0, NumAnnotations: 3}, res.Classes[0])
	assert.Equal(t, 0.0, res.MeanAP(false))
}

func TestEvaluatePerfectDetector(t *testing.T) {
	var items []fakeItem
	for i := 0; i < 5; i++ {
		o := float32(i * 20)
		items = append(items, fakeItem{
			detections: []Detection{
				det(o, o, o+10, o+10, 0.5+float32(i)/10, 0),
				det(o+50, o, o+60, o+10, 0.4, 1),
			},
			annotations: annotationSet(ann(o, o, o+10, o+10, 0), ann(o+50, o, o+60, o+10, 1)),
		})
	}
	g := newFakeGenerator(2, items...)
	g.scale = 2.5

	res := evaluateFake(t, g, DefaultOptions())
	assert.Equal(t, map[int]APResult{
		0: {AveragePrecision: 1, NumAnnotations: 5},
		1: {AveragePrecision: 1, NumAnnotations: 5},
	}, res.Classes)
	assert.Equal(t, 1.0, res.MeanAP(false))
}

func TestEvaluateDuplicateDetections(t *testing.T) {
	item := fakeItem{
		detections: []Detection{
			det(0, 0, 10, 10, 0.9, 0),
			det(0, 0, 10, 9, 0.8, 0),
		},
		annotations: annotationSet(ann(0, 0, 10, 10, 0), ann(0, 1, 10, 10, 0)),
	}

	// The second detection overlaps the first annotation best. Without a
	// fallback it collapses onto it and is a false positive.
	opts := DefaultOptions()
	res := evaluateFake(t, newFakeGenerator(1, item), opts)
	assert.InDelta(t, 0.5, res.Classes[0].AveragePrecision, 1e-9)

	opts.MaxDetectionsPerBox = 2
	res = evaluateFake(t, newFakeGenerator(1, item), opts)
	assert.InDelta(t, 1.0, res.Classes[0].AveragePrecision, 1e-9)
}

func TestEvaluateInactiveClasses(t *testing.T) {
	g := newFakeGenerator(3, fakeItem{
		detections:  []Detection{det(0, 0, 10, 10, 0.9, 1), det(0, 0, 10, 10, 0.9, 2)},
		annotations: annotationSet(ann(0, 0, 10, 10, 1), ann(0, 0, 10, 10, 2)),
	})
	g.inactive = map[int]bool{1: true}

	res := evaluateFake(t, g, DefaultOptions())
	assert.Equal(t, map[int]APResult{
		0: {},
		2: {AveragePrecision: 1, NumAnnotations: 1},
	}, res.Classes)
	assert.Equal(t, 1.0, res.MeanAP(false))
}

func TestEvaluateLocationBias(t *testing.T) {
	// Bucket "1_2" holds one annotation in each item. The trailing grid
	// coordinate is depth and does not split buckets.
	a := ann(0, 0, 10, 10, 0, 1.001, 2.004, 3)
	b := ann(100, 100, 110, 110, 0, 4, 5, 6)
	c := ann(0, 0, 10, 10, 0, 0.996, 2, 9)

	g := newFakeGenerator(1,
		fakeItem{
			detections: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(1, 1, 10, 10, 0.8, 0),
				det(100, 100, 110, 110, 0.7, 0),
				det(105, 105, 115, 115, 0.75, 0),
			},
			annotations: annotationSet(a, b),
		},
		fakeItem{
			detections:  []Detection{det(0, 0, 10, 10, 0.6, 0)},
			annotations: annotationSet(c),
		},
	)

	opts := DefaultOptions()
	opts.LocationBias = true
	res := evaluateFake(t, g, opts)

	require.Len(t, res.Locations, 2)
	require.Contains(t, res.Locations, "1_2")
	require.Contains(t, res.Locations, "4_5")

	// The same bucket evaluated in isolation. The weak detection at 0.75
	// ranks b first, so it is a false positive in b's bucket only.
	isolated := EvaluateCollected(
		Detections{
			{0: {det(0, 0, 10, 10, 0.9, 0), det(1, 1, 10, 10, 0.8, 0)}},
			{0: {det(0, 0, 10, 10, 0.6, 0)}},
		},
		Annotations{
			{0: {a}},
			{0: {c}},
		},
		[]int{0},
		DefaultOptions(),
	)
	assert.Equal(t, isolated.Classes[0], res.Locations["1_2"])
	assert.InDelta(t, 0.5+0.5*2.0/3, res.Locations["1_2"].AveragePrecision, 1e-9)
	assert.Equal(t, 2, res.Locations["1_2"].NumAnnotations)
	assert.InDelta(t, 0.5, res.Locations["4_5"].AveragePrecision, 1e-9)
	assert.Equal(t, 1, res.Locations["4_5"].NumAnnotations)

	assert.Equal(t, 3, res.Classes[0].NumAnnotations)
}

func TestEvaluateLocationBiasKeepsDepth(t *testing.T) {
	g := newFakeGenerator(1, fakeItem{
		detections:  []Detection{det(0, 0, 10, 10, 0.9, 0)},
		annotations: annotationSet(ann(0, 0, 10, 10, 0, 1, 2, 3), ann(50, 50, 60, 60, 0, 1, 2, 4)),
	})

	opts := DefaultOptions()
	opts.LocationBias = true
	opts.IgnoreGridDepth = false
	res := evaluateFake(t, g, opts)

	assert.Equal(t, map[string]APResult{
		"1_2_3": {AveragePrecision: 1, NumAnnotations: 1},
		"1_2_4": {AveragePrecision: 0, NumAnnotations: 1},
	}, res.Locations)
}

func TestEvaluateInvalidOptions(t *testing.T) {
	g := newFakeGenerator(1)
	opts := DefaultOptions()
	opts.MaxDetectionsPerBox = 0

	_, err := Evaluate(context.Background(), g, fakeModel(g), opts, nil)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "max_detections_per_bounding_box", cfgErr.Field)
}

func TestEvaluateCollaboratorFailure(t *testing.T) {
	g := newFakeGenerator(1, fakeItem{}, fakeItem{})
	g.loadErr = map[int]error{1: errors.New("disk gone")}

	res, err := Evaluate(context.Background(), g, fakeModel(g), DefaultOptions(), nil)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 1")
	assert.Contains(t, err.Error(), "disk gone")
}

func TestResultMeanAP(t *testing.T) {
	res := &Result{Classes: map[int]APResult{
		0: {AveragePrecision: 1, NumAnnotations: 3},
		1: {AveragePrecision: 0.5, NumAnnotations: 1},
		2: {},
	}}
	assert.InDelta(t, 0.75, res.MeanAP(false), 1e-12)
	assert.InDelta(t, 3.5/4, res.MeanAP(true), 1e-12)

	assert.Equal(t, 0.0, (&Result{}).MeanAP(false))
}
