package inference

import (
	"image"
)

// Layout is the memory layout of the network input tensor.
type Layout string

const (
	// LayoutNHWC is batch, height, width, channels (Keras default).
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is batch, channels, height, width (common for ONNX).
	LayoutNCHW Layout = "nchw"
)

// Normalization describes how pixel values are mapped before inference.
type Normalization struct {
	// BGR swaps the channel order to blue, green, red.
	BGR bool `json:"bgr" yaml:"bgr"`
	// Mean is subtracted from each channel, in output channel order.
	Mean [3]float32 `json:"mean" yaml:"mean"`
	// Scale multiplies each value after mean subtraction. Zero means 1.
	Scale float32 `json:"scale" yaml:"scale"`
}

// CaffeNormalization is the BGR mean subtraction used by ResNet backbones
// trained with Caffe weights.
var CaffeNormalization = Normalization{
	BGR:  true,
	Mean: [3]float32{103.939, 116.779, 123.68},
}

// PrepareInput converts an image into the float32 input of a detector with
// batch size one.
//
// Arguments:
//   - img: The resized image.
//   - layout: The tensor layout expected by the network.
//   - norm: Pixel normalization.
//
// Returns:
//   - []float32: The tensor data.
//   - []int64: The tensor shape.
func PrepareInput(img image.Image, layout Layout, norm Normalization) ([]float32, []int64) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	channelSize := width * height
	data := make([]float32, channelSize*3)

	scale := norm.Scale
	if scale == 0 {
		scale = 1
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			px := [3]float32{float32(r >> 8), float32(g >> 8), float32(bl >> 8)}
			if norm.BGR {
				px[0], px[2] = px[2], px[0]
			}
			for c := 0; c < 3; c++ {
				v := (px[c] - norm.Mean[c]) * scale
				if layout == LayoutNCHW {
					data[c*channelSize+i] = v
				} else {
					data[i*3+c] = v
				}
			}
			i++
		}
	}

	if layout == LayoutNCHW {
		return data, []int64{1, 3, int64(height), int64(width)}
	}
	return data, []int64{1, int64(height), int64(width), 3}
}
