package eval

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
	"github.com/nvr-ai/go-ml-eval/visualize"
)

func TestCollectDetections(t *testing.T) {
	g := newFakeGenerator(2, fakeItem{
		detections: []Detection{
			det(0, 0, 10, 10, 0.3, 0),
			det(0, 0, 20, 20, 0.05, 0),
			det(5, 5, 15, 15, 0.9, 1),
			det(1, 1, 11, 11, 0.3, 0),
			det(2, 2, 12, 12, 0.7, 5),
		},
	})
	g.scale = 2

	dets, err := CollectDetections(context.Background(), g, fakeModel(g), []int{0, 1}, DefaultOptions(), nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)

	// The score threshold is exclusive and equal scores keep model order.
	assert.Equal(t, map[int][]Detection{
		0: {det(0, 0, 10, 10, 0.3, 0), det(1, 1, 11, 11, 0.3, 0)},
		1: {det(5, 5, 15, 15, 0.9, 1)},
	}, dets[0])
}

func TestCollectDetectionsMaxDetections(t *testing.T) {
	g := newFakeGenerator(1, fakeItem{
		detections: []Detection{
			det(0, 0, 10, 10, 0.2, 0),
			det(0, 0, 10, 10, 0.8, 0),
			det(0, 0, 10, 10, 0.5, 0),
		},
	})
	opts := DefaultOptions()
	opts.MaxDetections = 2

	dets, err := CollectDetections(context.Background(), g, fakeModel(g), []int{0}, opts, nil)
	require.NoError(t, err)
	require.Len(t, dets[0][0], 2)
	assert.Equal(t, float32(0.8), dets[0][0][0].Score)
	assert.Equal(t, float32(0.5), dets[0][0][1].Score)
}

func TestCollectDetectionsEveryClassPresent(t *testing.T) {
	g := newFakeGenerator(3, fakeItem{}, fakeItem{})

	dets, err := CollectDetections(context.Background(), g, fakeModel(g), []int{0, 2}, DefaultOptions(), nil)
	require.NoError(t, err)
	for _, byClass := range dets {
		assert.Len(t, byClass, 2)
		assert.NotNil(t, byClass[0])
		assert.NotNil(t, byClass[2])
	}
}

func TestCollectDetectionsEmptyPrediction(t *testing.T) {
	tests := []struct {
		name       string
		prediction inference.Prediction
	}{
		{
			name:       "Packed from empty slices",
			prediction: inference.NewPrediction(nil, nil, nil),
		},
		{
			name: "Runtime output with int64 labels",
			prediction: inference.Prediction{
				tensor.New(tensor.WithShape(1, 0, 4), tensor.WithBacking([]float32{})),
				tensor.New(tensor.WithShape(1, 0), tensor.WithBacking([]float32{})),
				tensor.New(tensor.WithShape(1, 0), tensor.WithBacking([]int64{})),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGenerator(2, fakeItem{})
			model := inference.ModelFunc(func(ctx context.Context, img image.Image) (inference.Prediction, error) {
				return tt.prediction, nil
			})

			dets, err := CollectDetections(context.Background(), g, model, []int{0, 1}, DefaultOptions(), nil)
			require.NoError(t, err)
			require.Len(t, dets, 1)
			assert.Equal(t, map[int][]Detection{0: {}, 1: {}}, dets[0])
		})
	}
}

func TestCollectDetectionsShapeErrors(t *testing.T) {
	good := inference.NewPrediction([]images.Box{{X2: 1, Y2: 1}}, []float32{0.9}, []int{0})

	tests := []struct {
		name       string
		prediction inference.Prediction
	}{
		{
			name:       "Too few outputs",
			prediction: good[:2],
		},
		{
			name:       "Missing output",
			prediction: inference.Prediction{good[0], nil, good[2]},
		},
		{
			name: "Boxes without batch dimension",
			prediction: inference.Prediction{
				tensor.New(tensor.WithShape(2, 4), tensor.WithBacking(make([]float32, 8))),
				good[1], good[2],
			},
		},
		{
			name: "Scores disagree with boxes",
			prediction: inference.Prediction{
				good[0],
				tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{0.9, 0.8})),
				good[2],
			},
		},
		{
			name: "Empty scores disagree with boxes",
			prediction: inference.Prediction{
				good[0],
				tensor.New(tensor.WithShape(1, 0), tensor.WithBacking([]float32{})),
				good[2],
			},
		},
		{
			name: "Labels of the wrong type",
			prediction: inference.Prediction{
				good[0], good[1],
				tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]bool{true})),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGenerator(1, fakeItem{}, fakeItem{})
			model := inference.ModelFunc(func(ctx context.Context, img image.Image) (inference.Prediction, error) {
				if img.(itemImage).item == 1 {
					return tt.prediction, nil
				}
				return good, nil
			})

			dets, err := CollectDetections(context.Background(), g, model, []int{0}, DefaultOptions(), nil)
			assert.Nil(t, dets)
			var shapeErr *ShapeError
			require.True(t, errors.As(err, &shapeErr), "got %v", err)
			assert.Equal(t, 1, shapeErr.Item)
		})
	}
}

func TestCollectDetectionsPredictError(t *testing.T) {
	g := newFakeGenerator(1, fakeItem{})
	cause := errors.New("session closed")
	model := inference.ModelFunc(func(ctx context.Context, img image.Image) (inference.Prediction, error) {
		return nil, cause
	})

	_, err := CollectDetections(context.Background(), g, model, []int{0}, DefaultOptions(), nil)
	require.Error(t, err)
	assert.Equal(t, cause, errors.Cause(err))
	assert.Contains(t, err.Error(), "item 0")
}

func TestCollectDetectionsSink(t *testing.T) {
	g := newFakeGenerator(1,
		fakeItem{detections: []Detection{det(0, 0, 10, 10, 0.9, 0), det(0, 0, 10, 10, 0.01, 0)}},
		fakeItem{},
	)

	written := map[int][]postprocess.Result{}
	sink := visualize.SinkFunc(func(item int, img image.Image, detections []postprocess.Result) error {
		assert.Equal(t, item, img.(itemImage).item, "sink must receive the raw image")
		written[item] = detections
		return nil
	})

	_, err := CollectDetections(context.Background(), g, fakeModel(g), []int{0}, DefaultOptions(), sink)
	require.NoError(t, err)
	assert.Equal(t, map[int][]postprocess.Result{
		0: {det(0, 0, 10, 10, 0.9, 0)},
		1: {},
	}, written)

	failing := visualize.SinkFunc(func(int, image.Image, []postprocess.Result) error {
		return errors.New("disk full")
	})
	_, err = CollectDetections(context.Background(), g, fakeModel(g), []int{0}, DefaultOptions(), failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCollectDetectionsParallel(t *testing.T) {
	var items []fakeItem
	for i := 0; i < 40; i++ {
		o := float32(i)
		items = append(items, fakeItem{detections: []Detection{
			det(o, o, o+10, o+10, 0.5, i%3),
			det(o, 0, o+5, 5, 0.9, (i+1)%3),
			det(0, o, 5, o+5, 0.5, i%3),
		}})
	}
	g := newFakeGenerator(3, items...)
	g.scale = 0.5
	classes := []int{0, 1, 2}

	sequential, err := CollectDetections(context.Background(), g, fakeModel(g), classes, DefaultOptions(), nil)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[int]bool{}
	sink := visualize.SinkFunc(func(item int, img image.Image, detections []postprocess.Result) error {
		mu.Lock()
		defer mu.Unlock()
		seen[item] = true
		return nil
	})

	opts := DefaultOptions()
	opts.Workers = 4
	parallel, err := CollectDetections(context.Background(), g, fakeModel(g), classes, opts, sink)
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
	assert.Len(t, seen, len(items))
}

func TestCollectDetectionsParallelError(t *testing.T) {
	items := make([]fakeItem, 10)
	g := newFakeGenerator(1, items...)
	g.loadErr = map[int]error{6: errors.New("corrupt image")}

	opts := DefaultOptions()
	opts.Workers = 3
	dets, err := CollectDetections(context.Background(), g, fakeModel(g), []int{0}, opts, nil)
	assert.Nil(t, dets)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt image")
}
