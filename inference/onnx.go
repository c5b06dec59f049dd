package inference

import (
	"context"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference/providers"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// ONNXConfig configures an ONNX detector.
type ONNXConfig struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// SharedLibraryPath overrides the onnxruntime library location.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
	// InputName is the name of the image input node.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputNames lists the boxes, scores and labels output nodes, in that order.
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// Layout of the input tensor.
	Layout Layout `json:"layout" yaml:"layout"`
	// Normalization applied to pixels.
	Normalization Normalization `json:"normalization" yaml:"normalization"`
	// NMS, when set, is applied to the decoded outputs. Leave nil for models
	// that already filter their detections.
	NMS *postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// Provider selects the execution provider and threading.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// DefaultONNXConfig returns the node names and preprocessing of a RetinaNet
// inference graph exported from Keras.
func DefaultONNXConfig(modelPath string) ONNXConfig {
	return ONNXConfig{
		ModelPath:     modelPath,
		InputName:     "input_1",
		OutputNames:   []string{"boxes", "scores", "labels"},
		Layout:        LayoutNHWC,
		Normalization: CaffeNormalization,
	}
}

var ortInit sync.Once
var ortInitErr error

// ONNXModel is a Model backed by an onnxruntime session.
//
// The session uses dynamic shapes so images of any size can be evaluated.
// ONNXModel is safe for concurrent use.
type ONNXModel struct {
	config  ONNXConfig
	session *ort.DynamicAdvancedSession
}

// NewONNXModel loads the model and creates a session.
//
// Order of operations:
//  1. Library path check: Ensures native runtime is accessible.
//  2. Environment setup: Required once per process.
//  3. Provider setup: Appends the configured execution provider.
//  4. Session creation: Loads the model with the configured node names.
//
// Arguments:
//   - config: The model configuration.
//
// Returns:
//   - *ONNXModel: The loaded model. Call Close to release native resources.
//   - error: An error if the runtime or the model cannot be loaded.
func NewONNXModel(config ONNXConfig) (*ONNXModel, error) {
	if err := config.Provider.Validate(); err != nil {
		return nil, err
	}
	if len(config.OutputNames) < 3 {
		return nil, errors.Errorf("expected boxes, scores and labels outputs, got %v", config.OutputNames)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrap(err, "ONNX model file not found")
	}

	libPath := config.SharedLibraryPath
	if libPath == "" {
		libPath = GetSharedLibPath()
	}

	ortInit.Do(func() {
		if _, err := os.Stat(libPath); err != nil {
			ortInitErr = errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = errors.Wrap(ort.InitializeEnvironment(), "error initializing ORT environment")
	})
	if ortInitErr != nil {
		return nil, ortInitErr
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}
	if err := providers.Apply(options, config.Provider); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		[]string{config.InputName},
		config.OutputNames,
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &ONNXModel{config: config, session: session}, nil
}

// Predict runs the detector on img.
//
// Arguments:
//   - ctx: Checked before the forward pass starts.
//   - img: The resized image.
//
// Returns:
//   - Prediction: boxes, scores and labels, plus any further outputs.
//   - error: An error if the forward pass fails.
func (m *ONNXModel) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, shape := PrepareInput(img, m.config.Layout, m.config.Normalization)
	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer input.Destroy()

	outputs := make([]ort.Value, len(m.config.OutputNames))
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	pred := make(Prediction, 0, len(outputs))
	for i, o := range outputs {
		dense, err := toDense(o)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", m.config.OutputNames[i])
		}
		pred = append(pred, dense)
	}

	if m.config.NMS != nil {
		return suppress(pred, m.config.NMS)
	}
	return pred, nil
}

// Close releases the session.
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return errors.Wrap(err, "error destroying ORT session")
}

func toDense(v ort.Value) (*tensor.Dense, error) {
	shape := make([]int, 0, len(v.GetShape()))
	for _, d := range v.GetShape() {
		shape = append(shape, int(d))
	}

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(append([]float32{}, t.GetData()...))), nil
	case *ort.Tensor[int64]:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(toInts(t.GetData()))), nil
	case *ort.Tensor[int32]:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(toInts(t.GetData()))), nil
	default:
		return nil, errors.Errorf("unsupported output type %T", v)
	}
}

func toInts[T int32 | int64](src []T) []int {
	dst := make([]int, len(src))
	for i, v := range src {
		dst[i] = int(v)
	}
	return dst
}

// suppress applies greedy NMS to the first three outputs of pred.
func suppress(pred Prediction, config *postprocess.NMSConfig) (Prediction, error) {
	if len(pred) < 3 || IsEmpty(pred[1]) {
		return pred, nil
	}
	boxes, ok := Float32s(pred[0])
	if !ok {
		return nil, errors.Errorf("boxes output has dtype %v", pred[0].Dtype())
	}
	scores, ok := Float32s(pred[1])
	if !ok {
		return nil, errors.Errorf("scores output has dtype %v", pred[1].Dtype())
	}
	labels, ok := Ints(pred[2])
	if !ok {
		return nil, errors.Errorf("labels output has dtype %v", pred[2].Dtype())
	}
	if len(boxes) != len(scores)*4 || len(labels) != len(scores) {
		return nil, errors.Errorf("mismatched output sizes: %d boxes, %d scores, %d labels", len(boxes)/4, len(scores), len(labels))
	}

	results := make([]postprocess.Result, len(scores))
	for i := range scores {
		results[i] = postprocess.Result{
			Box:   images.Box{X1: boxes[i*4], Y1: boxes[i*4+1], X2: boxes[i*4+2], Y2: boxes[i*4+3]},
			Score: scores[i],
			Class: labels[i],
		}
	}
	postprocess.SortByScore(results)
	results = postprocess.ApplyGreedyNMS(results, config)

	kept := make([]images.Box, len(results))
	keptScores := make([]float32, len(results))
	keptLabels := make([]int, len(results))
	for i, r := range results {
		kept[i], keptScores[i], keptLabels[i] = r.Box, r.Score, r.Class
	}
	return append(NewPrediction(kept, keptScores, keptLabels), pred[3:]...), nil
}

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath() string {
	if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); path != "" {
		return path
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
