package inference

import (
	"gorgonia.org/tensor"
)

// IsEmpty reports whether t has a zero-length dimension, such as the [1, 0, 4]
// boxes of a model that found nothing. Data panics on such tensors.
func IsEmpty(t *tensor.Dense) bool {
	for _, d := range t.Shape() {
		if d == 0 {
			return true
		}
	}
	return false
}

// Float32s returns the elements of t as float32 values. Float64 tensors are
// narrowed and empty tensors give an empty slice. The second result is false
// for any other dtype.
func Float32s(t *tensor.Dense) ([]float32, bool) {
	if IsEmpty(t) {
		return []float32{}, true
	}
	switch v := t.Data().(type) {
	case []float32:
		return v, true
	case []float64:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, true
	case float32:
		return []float32{v}, true
	case float64:
		return []float32{float32(v)}, true
	default:
		return nil, false
	}
}

// Ints returns the elements of t as int values. Integer tensors of any width
// and float32 tensors holding whole numbers are accepted. Empty tensors give an
// empty slice.
func Ints(t *tensor.Dense) ([]int, bool) {
	if IsEmpty(t) {
		return []int{}, true
	}
	switch v := t.Data().(type) {
	case []int:
		return v, true
	case []int64:
		return toInts(v), true
	case []int32:
		return toInts(v), true
	case []float32:
		out := make([]int, len(v))
		for i, x := range v {
			out[i] = int(x)
		}
		return out, true
	case int:
		return []int{v}, true
	case int64:
		return []int{int(v)}, true
	case int32:
		return []int{int(v)}, true
	case float32:
		return []int{int(v)}, true
	default:
		return nil, false
	}
}
