// Package masker predicts which pixels of an aligned face crop belong to
// the visible face, so occluders such as hands or hair keep the original
// pixels when the swapped face is pasted back.
package masker

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/inference"
	"github.com/dudu/deepswap/internal/swapper"
)

// OccluderSize is the square input resolution of the occluder
const OccluderSize = 256

// OccluderSpec describes the occluder graph
func OccluderSpec(path string) inference.ModelSpec {
	return inference.ModelSpec{
		Path:        path,
		InputNames:  []string{"in_face:0"},
		OutputNames: []string{"out_mask:0"},
	}
}

// Occluder generates occlusion masks for aligned face crops
type Occluder struct {
	cache *inference.Cache
}

// NewOccluder creates an occluder backed by the cache's occluder session
func NewOccluder(cache *inference.Cache) *Occluder {
	return &Occluder{cache: cache}
}

// Mask returns a [0,1] mask at the crop's resolution
func (o *Occluder) Mask(crop gocv.Mat) (swapper.Mask, error) {
	if crop.Empty() {
		return swapper.Mask{}, fmt.Errorf("empty crop")
	}

	session, err := o.cache.Get(inference.ModelOccluder)
	if err != nil {
		return swapper.Mask{}, err
	}

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(crop, &resized, image.Pt(OccluderSize, OccluderSize), 0, 0, gocv.InterpolationLinear); err != nil {
		return swapper.Mask{}, fmt.Errorf("failed to resize crop: %w", err)
	}

	inputData := nhwc(resized.ToBytes())

	inputTensor, err := inference.CreateTensor([]int64{1, OccluderSize, OccluderSize, 3}, inputData)
	if err != nil {
		return swapper.Mask{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, OccluderSize, OccluderSize, 1})
	if err != nil {
		return swapper.Mask{}, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return swapper.Mask{}, fmt.Errorf("occluder inference failed: %w", err)
	}

	raw := swapper.Mask{Width: OccluderSize, Height: OccluderSize, Data: append([]float32(nil), outputTensor.GetData()...)}
	raw.Clip()

	return resizeMask(raw, crop.Cols(), crop.Rows())
}

// Close is a no-op, the session belongs to the cache
func (o *Occluder) Close() error {
	return nil
}

// nhwc scales interleaved pixels to [0,1] keeping their layout
func nhwc(pixels []byte) []float32 {
	out := make([]float32, len(pixels))
	for i, p := range pixels {
		out[i] = float32(p) / 255
	}
	return out
}

func resizeMask(m swapper.Mask, width, height int) (swapper.Mask, error) {
	if m.Width == width && m.Height == height {
		return m, nil
	}
	src, err := m.Mat()
	if err != nil {
		return swapper.Mask{}, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	if err := gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear); err != nil {
		return swapper.Mask{}, fmt.Errorf("failed to resize mask: %w", err)
	}

	out, err := swapper.MaskFromMat(dst)
	if err != nil {
		return swapper.Mask{}, err
	}
	out.Clip()
	return out, nil
}
