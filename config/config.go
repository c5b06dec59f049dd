// Package config - YAML configuration of an evaluation run.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/eval"
	"github.com/nvr-ai/go-ml-eval/inference"
)

// DatasetConfig locates a CSV dataset.
type DatasetConfig struct {
	// Annotations is the path to the annotations CSV.
	Annotations string `json:"annotations" yaml:"annotations"`
	// Classes is the path to the classes CSV.
	Classes string `json:"classes" yaml:"classes"`

	dataset.CSVOptions `yaml:",inline"`
}

// Config describes a complete evaluation run.
//
// Example file:
//
//	name: retinanet-val
//	dataset:
//	  annotations: data/val.csv
//	  classes: data/classes.csv
//	  min_side: 800
//	model:
//	  model_path: models/retinanet.onnx
//	evaluation:
//	  iou_threshold: 0.5
//	  location_bias: true
//	save_path: out/images
//	output_dir: out
type Config struct {
	// Name prefixes the report files.
	Name string `json:"name" yaml:"name"`
	// Dataset is the evaluation dataset.
	Dataset DatasetConfig `json:"dataset" yaml:"dataset"`
	// Model is the detector under test.
	Model inference.ONNXConfig `json:"model" yaml:"model"`
	// Evaluation holds the matching and filtering options.
	Evaluation eval.Options `json:"evaluation" yaml:"evaluation"`
	// SavePath, when set, receives one annotated image per item.
	SavePath string `json:"save_path" yaml:"save_path"`
	// OutputDir receives the report files.
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		Name: "evaluation",
		Dataset: DatasetConfig{
			CSVOptions: dataset.CSVOptions{
				MinSide: 800,
				MaxSide: 1333,
			},
		},
		Model:      inference.DefaultONNXConfig(""),
		Evaluation: eval.DefaultOptions(),
		OutputDir:  "results",
	}
}

// Parse decodes YAML on top of the defaults. Fields missing from data keep
// their default value.
//
// Arguments:
//   - data: The YAML document.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if data is not valid YAML or the evaluation options
//     are out of range.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Evaluation.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks that the configuration describes a runnable evaluation.
func (c Config) Validate() error {
	switch {
	case c.Dataset.Annotations == "":
		return errors.New("dataset annotations path is required")
	case c.Dataset.Classes == "":
		return errors.New("dataset classes path is required")
	case c.Model.ModelPath == "":
		return errors.New("model path is required")
	}
	return c.Evaluation.Validate()
}
