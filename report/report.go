// Package report - Persists and renders evaluation results.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/eval"
)

// ClassReport is the AP of a single class.
type ClassReport struct {
	Label            int     `json:"label" yaml:"label"`
	Name             string  `json:"name" yaml:"name"`
	AveragePrecision float64 `json:"average_precision" yaml:"average_precision"`
	NumAnnotations   int     `json:"num_annotations" yaml:"num_annotations"`
}

// LocationReport is the AP of a single location bucket.
type LocationReport struct {
	Bucket           string  `json:"bucket" yaml:"bucket"`
	AveragePrecision float64 `json:"average_precision" yaml:"average_precision"`
	NumAnnotations   int     `json:"num_annotations" yaml:"num_annotations"`
}

// Report is the serialized form of an evaluation.
type Report struct {
	Name           string           `json:"name" yaml:"name"`
	Timestamp      time.Time        `json:"timestamp" yaml:"timestamp"`
	MeanAP         float64          `json:"mean_ap" yaml:"mean_ap"`
	WeightedMeanAP float64          `json:"weighted_mean_ap" yaml:"weighted_mean_ap"`
	Classes        []ClassReport    `json:"classes" yaml:"classes"`
	Locations      []LocationReport `json:"locations,omitempty" yaml:"locations,omitempty"`
}

// New builds a report with classes ordered by label and buckets by key.
//
// Arguments:
//   - name: The run name.
//   - res: The evaluation result.
//   - names: Display names per class label. Missing labels render as numbers.
//
// Returns:
//   - The report.
func New(name string, res *eval.Result, names map[int]string) *Report {
	r := &Report{
		Name:           name,
		Timestamp:      time.Now(),
		MeanAP:         res.MeanAP(false),
		WeightedMeanAP: res.MeanAP(true),
	}

	for label, ap := range res.Classes {
		n, ok := names[label]
		if !ok {
			n = fmt.Sprintf("%d", label)
		}
		r.Classes = append(r.Classes, ClassReport{
			Label:            label,
			Name:             n,
			AveragePrecision: ap.AveragePrecision,
			NumAnnotations:   ap.NumAnnotations,
		})
	}
	sort.Slice(r.Classes, func(i, j int) bool { return r.Classes[i].Label < r.Classes[j].Label })

	for bucket, ap := range res.Locations {
		r.Locations = append(r.Locations, LocationReport{
			Bucket:           bucket,
			AveragePrecision: ap.AveragePrecision,
			NumAnnotations:   ap.NumAnnotations,
		})
	}
	sort.Slice(r.Locations, func(i, j int) bool { return r.Locations[i].Bucket < r.Locations[j].Bucket })

	return r
}

// Files names the outputs of Write.
type Files struct {
	JSON string
	CSV  string
}

// Write saves the report as `<name>_results.json` and a per-class summary
// as `<name>_summary.csv` inside dir.
//
// Arguments:
//   - dir: The output directory. It is created when missing.
//   - name: The run name, used as file prefix.
//   - res: The evaluation result.
//   - names: Display names per class label.
//
// Returns:
//   - The written file paths.
//   - error: An error if a file cannot be written.
func Write(dir, name string, res *eval.Result, names map[int]string) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, errors.Wrap(err, "failed to create output directory")
	}

	r := New(name, res, names)
	files := Files{
		JSON: filepath.Join(dir, name+"_results.json"),
		CSV:  filepath.Join(dir, name+"_summary.csv"),
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return Files{}, errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(files.JSON, data, 0o644); err != nil {
		return Files{}, errors.Wrap(err, "failed to write results file")
	}

	if err := writeSummaryCSV(files.CSV, r); err != nil {
		return Files{}, errors.Wrap(err, "failed to save summary CSV")
	}

	return files, nil
}

func writeSummaryCSV(filename string, r *Report) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.WriteString("Kind,Key,Name,AP,Annotations\n"); err != nil {
		return err
	}
	for _, c := range r.Classes {
		line := fmt.Sprintf("class,%d,%s,%.4f,%d\n", c.Label, c.Name, c.AveragePrecision, c.NumAnnotations)
		if _, err := file.WriteString(line); err != nil {
			return err
		}
	}
	for _, l := range r.Locations {
		line := fmt.Sprintf("location,%s,,%.4f,%d\n", l.Bucket, l.AveragePrecision, l.NumAnnotations)
		if _, err := file.WriteString(line); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(file, "mean,,,%.4f,\n", r.MeanAP)
	return err
}

// Summary renders one line per class and per bucket followed by the mAP,
// ready for logging.
func Summary(res *eval.Result, names map[int]string) []string {
	r := New("", res, names)
	lines := make([]string, 0, len(r.Classes)+len(r.Locations)+1)
	for _, c := range r.Classes {
		lines = append(lines, fmt.Sprintf("%d instances of class %s with average precision: %.4f",
			c.NumAnnotations, c.Name, c.AveragePrecision))
	}
	for _, l := range r.Locations {
		lines = append(lines, fmt.Sprintf("%d instances at location %s with average precision: %.4f",
			l.NumAnnotations, l.Bucket, l.AveragePrecision))
	}
	lines = append(lines, fmt.Sprintf("mAP: %.4f", r.MeanAP))
	return lines
}
