package visualize

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// DirectorySink draws detections onto each image and writes it as
// `<item><ext>` into Dir.
type DirectorySink struct {
	// Dir is the output directory. It is created on first write.
	Dir string
	// Format selects the file encoding.
	Format images.ImageFormat
	// LabelToName renders captions. Nil prints the numeric label.
	LabelToName func(label int) string
	// Thickness of box outlines in pixels.
	Thickness int
}

// NewDirectorySink returns a PNG sink writing into dir.
func NewDirectorySink(dir string, labelToName func(int) string) *DirectorySink {
	return &DirectorySink{
		Dir:         dir,
		Format:      images.FormatPNG,
		LabelToName: labelToName,
		Thickness:   2,
	}
}

// Path returns the file written for item.
func (s *DirectorySink) Path(item int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%d%s", item, s.Format.Extension()))
}

// Write draws detections onto a copy of img and saves it.
//
// Arguments:
//   - item: The dataset index, used as file name.
//   - img: The raw image in original coordinates.
//   - detections: The kept detections, highest score first.
//
// Returns:
//   - error: An error if the image cannot be converted or written.
func (s *DirectorySink) Write(item int, img image.Image, detections []postprocess.Result) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return errors.Wrap(err, "failed to convert image")
	}
	defer mat.Close()

	thickness := s.Thickness
	if thickness <= 0 {
		thickness = 2
	}

	for _, d := range detections {
		c := LabelColor(d.Class)
		rect := d.Box.ToRect()
		gocv.Rectangle(&mat, rect, c, thickness)

		caption := fmt.Sprintf("%s: %.2f", s.caption(d.Class), d.Score)
		origin := image.Pt(rect.Min.X, max(rect.Min.Y-4, 10))
		gocv.PutText(&mat, caption, origin, gocv.FontHersheyPlain, 1.0, c, 1)
	}

	if ok := gocv.IMWrite(s.Path(item), mat); !ok {
		return errors.Errorf("failed to write %s", s.Path(item))
	}
	return nil
}

func (s *DirectorySink) caption(label int) string {
	if s.LabelToName != nil {
		if name := s.LabelToName(label); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%d", label)
}
