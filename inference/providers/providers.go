// Package providers - Execution provider selection for ONNX Runtime sessions.
package providers

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend names an ONNX Runtime execution provider.
type Backend string

const (
	// CPUBackend runs on the default CPU provider.
	CPUBackend Backend = "cpu"
	// CUDABackend uses NVIDIA CUDA.
	CUDABackend Backend = "cuda"
	// CoreMLBackend uses Apple CoreML on macOS.
	CoreMLBackend Backend = "coreml"
	// OpenVINOBackend uses Intel OpenVINO.
	OpenVINOBackend Backend = "openvino"
)

// Config selects and tunes the execution provider of a session.
type Config struct {
	// Backend is the provider to append. Empty means CPU.
	Backend Backend `json:"backend" yaml:"backend"`
	// IntraOpThreads bounds the threads used inside a node. Zero lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads bounds the threads running independent nodes. Zero lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// CUDA options, used with CUDABackend.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// OpenVINO options, used with OpenVINOBackend.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
	// CoreMLFlags is the COREML_FLAG bit set, used with CoreMLBackend.
	CoreMLFlags uint32 `json:"coreml_flags" yaml:"coreml_flags"`
}

// Validate checks the backend name and thread counts.
func (c Config) Validate() error {
	switch c.Backend {
	case "", CPUBackend, CUDABackend, CoreMLBackend, OpenVINOBackend:
	default:
		return errors.Errorf("unsupported execution provider %q", c.Backend)
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.Errorf("thread counts must not be negative, got %d and %d", c.IntraOpThreads, c.InterOpThreads)
	}
	return nil
}

// Apply configures threading and appends the selected execution provider to
// options.
//
// Arguments:
//   - options: The session options being built.
//   - cfg: The provider configuration.
//
// Returns:
//   - error: An error if the provider is unknown or cannot be enabled.
func Apply(options *ort.SessionOptions, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return errors.Wrap(err, "error setting intra-op threads")
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return errors.Wrap(err, "error setting inter-op threads")
		}
	}

	switch cfg.Backend {
	case CoreMLBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreMLFlags); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case OpenVINOBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.Map()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case CUDABackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(cfg.CUDA.Map()); err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	}
	return nil
}

// CUDAOptions holds the commonly tuned CUDA provider settings.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes. Zero keeps the runtime default.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT cuDNN convolution search.
	CudnnConvAlgoSearch int `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Prefer NHWC operators, which suits Keras exports.
	PreferNHWC bool `json:"prefer_nhwc" yaml:"prefer_nhwc"`
}

// Map renders the options as ONNX Runtime provider keys.
func (o CUDAOptions) Map() map[string]string {
	m := map[string]string{
		"device_id":              fmt.Sprintf("%d", o.DeviceID),
		"cudnn_conv_algo_search": cudnnSearch(o.CudnnConvAlgoSearch),
		"prefer_nhwc":            boolFlag(o.PreferNHWC),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return m
}

// OpenVINOOptions holds the OpenVINO provider settings.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Hardware to run on, e.g. CPU, GPU or NPU. Empty uses the build default.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// Inference precision: FP32, FP16 or ACCURACY. Empty uses the device default.
	Precision string `json:"precision" yaml:"precision"`
	// Overrides the number of inference threads. Zero keeps the default.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
	// Rewrites dynamic shaped models to static shapes at runtime.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes"`
}

// Map renders the options as ONNX Runtime provider keys. Unset options are
// left out so the provider keeps its defaults.
func (o OpenVINOOptions) Map() map[string]string {
	m := map[string]string{
		"disable_dynamic_shapes": fmt.Sprintf("%t", o.DisableDynamicShapes),
	}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = fmt.Sprintf("%d", o.NumOfThreads)
	}
	return m
}

func cudnnSearch(v int) string {
	switch v {
	case 1:
		return "HEURISTIC"
	case 2:
		return "DEFAULT"
	default:
		return "EXHAUSTIVE"
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
