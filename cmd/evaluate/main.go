package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/nvr-ai/go-ml-eval/config"
	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/eval"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/report"
	"github.com/nvr-ai/go-ml-eval/visualize"
)

// flags holds the command line. Unset numeric flags carry a negative or zero
// sentinel so that configuration file values survive.
type flags struct {
	annotations  string
	classes      string
	model        string
	iou          float64
	score        float64
	maxDets      int
	maxPerBox    int
	locationBias bool
	savePath     string
	output       string
	workers      int
}

// apply overrides cfg with every flag that was set.
func (f flags) apply(cfg *config.Config) {
	if f.annotations != "" {
		cfg.Dataset.Annotations = f.annotations
	}
	if f.classes != "" {
		cfg.Dataset.Classes = f.classes
	}
	if f.model != "" {
		cfg.Model.ModelPath = f.model
	}
	if f.iou >= 0 {
		cfg.Evaluation.IoUThreshold = f.iou
	}
	if f.score >= 0 {
		cfg.Evaluation.ScoreThreshold = f.score
	}
	if f.maxDets > 0 {
		cfg.Evaluation.MaxDetections = f.maxDets
	}
	if f.maxPerBox > 0 {
		cfg.Evaluation.MaxDetectionsPerBox = f.maxPerBox
	}
	if f.locationBias {
		cfg.Evaluation.LocationBias = true
	}
	if f.savePath != "" {
		cfg.SavePath = f.savePath
	}
	if f.output != "" {
		cfg.OutputDir = f.output
	}
	if f.workers >= 0 {
		cfg.Evaluation.Workers = f.workers
	}
}

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("evaluate", "Measure the average precision of an object detector on a CSV dataset")
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	annotations := parser.String("a", "annotations", &argparse.Options{Help: "Annotations CSV"})
	classes := parser.String("", "classes", &argparse.Options{Help: "Classes CSV"})
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Path to ONNX model file"})
	iou := parser.Float("", "iou", &argparse.Options{Help: "IoU threshold of a true positive", Default: -1.0})
	score := parser.Float("", "score", &argparse.Options{Help: "Score threshold of kept detections", Default: -1.0})
	maxDets := parser.Int("", "max-detections", &argparse.Options{Help: "Maximum detections per image", Default: 0})
	maxPerBox := parser.Int("", "max-per-box", &argparse.Options{Help: "Ranked annotations a detection may try", Default: 0})
	locationBias := parser.Flag("", "location-bias", &argparse.Options{Help: "Also report AP per location bucket", Default: false})
	savePath := parser.String("s", "save-path", &argparse.Options{Help: "Directory for images with drawn detections"})
	output := parser.String("o", "output", &argparse.Options{Help: "Directory for the report"})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Concurrent inference workers", Default: -1})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		check(err)
	}
	flags{
		annotations:  *annotations,
		classes:      *classes,
		model:        *modelPath,
		iou:          *iou,
		score:        *score,
		maxDets:      *maxDets,
		maxPerBox:    *maxPerBox,
		locationBias: *locationBias,
		savePath:     *savePath,
		output:       *output,
		workers:      *workers,
	}.apply(&cfg)
	check(cfg.Validate())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Errorf("Evaluation failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logs.Log, cfg config.Config) error {
	gen, err := dataset.NewCSV(cfg.Dataset.Annotations, cfg.Dataset.Classes, cfg.Dataset.CSVOptions)
	if err != nil {
		return err
	}
	logger.Infof("Loaded %d images with %d classes", gen.Size(), len(dataset.ActiveClasses(gen)))

	onnx, err := inference.NewONNXModel(cfg.Model)
	if err != nil {
		return err
	}
	defer onnx.Close()
	model := inference.NewTimedModel(onnx)

	var sink visualize.Sink
	if cfg.SavePath != "" {
		sink = visualize.NewDirectorySink(cfg.SavePath, gen.LabelToName)
	}

	opts := cfg.Evaluation
	opts.Log = logger

	start := time.Now()
	res, err := eval.Evaluate(ctx, gen, model, opts, sink)
	if err != nil {
		return err
	}
	logger.Infof("Evaluated in %v", time.Since(start).Round(time.Millisecond))
	stats := model.Stats()
	logger.Infof("Inference: %d calls, mean %v, min %v, max %v (%.1f/s)",
		stats.Count, stats.Mean(), stats.Min, stats.Max, stats.Throughput())

	names := dataset.ClassNames(gen)
	for _, line := range report.Summary(res, names) {
		logger.Infof("%s", line)
	}

	files, err := report.Write(cfg.OutputDir, cfg.Name, res, names)
	if err != nil {
		return err
	}
	logger.Infof("Results saved to %s", files.JSON)
	logger.Infof("Summary saved to %s", files.CSV)
	return nil
}
