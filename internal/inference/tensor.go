package inference

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// Normalize maps a 0..255 channel value to a model input value
type Normalize func(v float32) float32

// Identity keeps raw pixel values
func Identity(v float32) float32 { return v }

// Unit scales to [0, 1]
func Unit(v float32) float32 { return v / 255 }

// Symmetric scales to [-1, 1]
func Symmetric(v float32) float32 { return v/127.5 - 1 }

// PackCHW converts interleaved 3-channel pixels into a planar NCHW float
// buffer. When swapRB is set the first and last channels are exchanged.
func PackCHW(pixels []byte, width, height int, swapRB bool, norm Normalize) ([]float32, error) {
	plane := width * height
	if len(pixels) < plane*3 {
		return nil, fmt.Errorf("pixel buffer too small: %d bytes for %dx%d", len(pixels), width, height)
	}
	if norm == nil {
		norm = Identity
	}

	out := make([]float32, plane*3)
	for i := 0; i < plane; i++ {
		c0 := pixels[i*3]
		c1 := pixels[i*3+1]
		c2 := pixels[i*3+2]
		if swapRB {
			c0, c2 = c2, c0
		}
		out[i] = norm(float32(c0))
		out[plane+i] = norm(float32(c1))
		out[2*plane+i] = norm(float32(c2))
	}
	return out, nil
}

// UnpackCHW converts a planar float buffer back into interleaved 8-bit
// pixels. denorm maps a model output value to the 0..255 range; results
// are rounded and clamped.
func UnpackCHW(data []float32, width, height int, swapRB bool, denorm func(float32) float32) ([]byte, error) {
	plane := width * height
	if len(data) < plane*3 {
		return nil, fmt.Errorf("tensor too small: %d values for %dx%d", len(data), width, height)
	}

	out := make([]byte, plane*3)
	for i := 0; i < plane; i++ {
		c0 := data[i]
		c1 := data[plane+i]
		c2 := data[2*plane+i]
		if swapRB {
			c0, c2 = c2, c0
		}
		out[i*3] = toByte(denorm(c0))
		out[i*3+1] = toByte(denorm(c1))
		out[i*3+2] = toByte(denorm(c2))
	}
	return out, nil
}

func toByte(v float32) byte {
	r := math.Round(float64(v))
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return byte(r)
}

// Float32Output returns the data and shape of a runtime-allocated output
func Float32Output(v ort.Value) ([]float32, []int64, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("unexpected output type %T", v)
	}
	return t.GetData(), t.GetShape(), nil
}
