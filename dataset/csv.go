package dataset

import (
	"encoding/csv"
	"image"
	"image/draw"
	_ "image/jpeg" // register decoders for LoadImage
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
)

// CSVOptions configures a CSV dataset.
type CSVOptions struct {
	// BaseDir resolves relative image paths. Defaults to the directory of the
	// annotations file.
	BaseDir string `json:"base_dir" yaml:"base_dir"`
	// MinSide is the resize target of the shortest image side.
	MinSide int `json:"min_side" yaml:"min_side"`
	// MaxSide caps the longest image side after resizing.
	MaxSide int `json:"max_side" yaml:"max_side"`
}

// CSV is a Generator backed by two CSV files.
//
// The classes file holds one `class_name,id` row per class. The annotations
// file holds one `path,x1,y1,x2,y2,class_name[,grid...]` row per box; any
// columns after the class name form the box's location-grid descriptor. A row
// of the form `path,,,,,` lists an image without objects.
type CSV struct {
	opts       CSVOptions
	classes    map[string]int
	labels     map[int]string
	numClasses int
	paths      []string
	entries    map[string]AnnotationSet
}

// NewCSV parses the annotations and classes files.
//
// Arguments:
//   - annotationsPath: Path to the annotations CSV.
//   - classesPath: Path to the classes CSV.
//   - opts: Dataset options; zero values are replaced by defaults.
//
// Returns:
//   - *CSV: The dataset, with items in order of first appearance.
//   - error: An error if either file is unreadable or malformed.
func NewCSV(annotationsPath, classesPath string, opts CSVOptions) (*CSV, error) {
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Dir(annotationsPath)
	}
	if opts.MinSide <= 0 {
		opts.MinSide = images.DefaultMinSide
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = images.DefaultMaxSide
	}

	g := &CSV{opts: opts}

	f, err := os.Open(classesPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open classes file")
	}
	defer f.Close()
	if err := g.readClasses(f); err != nil {
		return nil, errors.Wrapf(err, "invalid classes file %s", classesPath)
	}

	a, err := os.Open(annotationsPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open annotations file")
	}
	defer a.Close()
	if err := g.readAnnotations(a); err != nil {
		return nil, errors.Wrapf(err, "invalid annotations file %s", annotationsPath)
	}

	return g, nil
}

func (g *CSV) readClasses(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	g.classes = make(map[string]int)
	g.labels = make(map[int]string)
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		name := row[0]
		id, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			return errors.Wrapf(err, "line %d: malformed class id", line)
		}
		if id < 0 {
			return errors.Errorf("line %d: negative class id %d", line, id)
		}
		if _, ok := g.classes[name]; ok {
			return errors.Errorf("line %d: duplicate class name %q", line, name)
		}
		if _, ok := g.labels[id]; ok {
			return errors.Errorf("line %d: duplicate class id %d", line, id)
		}

		g.classes[name] = id
		g.labels[id] = name
		g.numClasses = max(g.numClasses, id+1)
	}
	return nil
}

func (g *CSV) readAnnotations(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	g.entries = make(map[string]AnnotationSet)
	gridded := -1 // unknown until the first box row
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(row) < 6 {
			return errors.Errorf("line %d: expected at least 6 columns, got %d", line, len(row))
		}

		path := row[0]
		set, seen := g.entries[path]
		if !seen {
			g.paths = append(g.paths, path)
		}

		if row[1] == "" && row[2] == "" && row[3] == "" && row[4] == "" && row[5] == "" {
			g.entries[path] = set
			continue
		}

		box, err := parseBox(row[1:5])
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		label, ok := g.classes[row[5]]
		if !ok {
			return errors.Errorf("line %d: unknown class name %q", line, row[5])
		}

		grid, err := parseFloats(row[6:])
		if err != nil {
			return errors.Wrapf(err, "line %d: malformed grid location", line)
		}
		hasGrid := 0
		if len(grid) > 0 {
			hasGrid = 1
		}
		if gridded == -1 {
			gridded = hasGrid
		} else if gridded != hasGrid {
			return errors.Errorf("line %d: grid locations must be given for all boxes or none", line)
		}

		set.Boxes = append(set.Boxes, box)
		set.Labels = append(set.Labels, label)
		if hasGrid == 1 {
			set.GridLocations = append(set.GridLocations, grid)
		}
		g.entries[path] = set
	}
	return nil
}

func parseBox(cols []string) (images.Box, error) {
	v, err := parseFloats(cols)
	if err != nil {
		return images.Box{}, errors.Wrap(err, "malformed box")
	}
	box := images.Box{X1: float32(v[0]), Y1: float32(v[1]), X2: float32(v[2]), Y2: float32(v[3])}
	if box.X2 <= box.X1 {
		return images.Box{}, errors.Errorf("x2 (%v) must be higher than x1 (%v)", box.X2, box.X1)
	}
	if box.Y2 <= box.Y1 {
		return images.Box{}, errors.Errorf("y2 (%v) must be higher than y1 (%v)", box.Y2, box.Y1)
	}
	return box, nil
}

func parseFloats(cols []string) ([]float64, error) {
	values := make([]float64, 0, len(cols))
	for _, col := range cols {
		v, err := strconv.ParseFloat(strings.TrimSpace(col), 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Size returns the number of images.
func (g *CSV) Size() int {
	return len(g.paths)
}

// NumClasses returns the highest class id plus one.
func (g *CSV) NumClasses() int {
	return g.numClasses
}

// HasLabel reports whether label is listed in the classes file.
func (g *CSV) HasLabel(label int) bool {
	_, ok := g.labels[label]
	return ok
}

// LabelToName returns the class name of label, or an empty string.
func (g *CSV) LabelToName(label int) string {
	return g.labels[label]
}

// ImagePath returns the resolved path of image i.
func (g *CSV) ImagePath(i int) string {
	path := g.paths[i]
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(g.opts.BaseDir, path)
}

// LoadImage decodes image i from disk.
func (g *CSV) LoadImage(i int) (image.Image, error) {
	if i < 0 || i >= len(g.paths) {
		return nil, errors.Errorf("image index %d out of range [0, %d)", i, len(g.paths))
	}

	f, err := os.Open(g.ImagePath(i))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", g.paths[i])
	}
	return img, nil
}

// PreprocessImage converts img to RGBA so every model sees one pixel layout.
func (g *CSV) PreprocessImage(img image.Image) image.Image {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// ResizeImage resizes img to the configured min and max side.
func (g *CSV) ResizeImage(img image.Image) (image.Image, float64) {
	return images.ResizeToFit(img, g.opts.MinSide, g.opts.MaxSide)
}

// LoadAnnotations returns the ground truth of image i.
func (g *CSV) LoadAnnotations(i int) (AnnotationSet, error) {
	if i < 0 || i >= len(g.paths) {
		return AnnotationSet{}, errors.Errorf("image index %d out of range [0, %d)", i, len(g.paths))
	}
	return g.entries[g.paths[i]], nil
}
