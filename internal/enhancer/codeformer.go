package enhancer

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/detector"
	"github.com/dudu/deepswap/internal/inference"
	"github.com/dudu/deepswap/internal/swapper"
)

// share of the enhanced face in the final frame
const enhancedWeight = 0.8

// CodeFormerSpec describes the restoration graph
func CodeFormerSpec(path string) inference.ModelSpec {
	return inference.ModelSpec{
		Path:        path,
		InputNames:  []string{"input", "weight"},
		OutputNames: []string{"output"},
	}
}

// CodeFormer performs face restoration using the CodeFormer model
// Input: 512x512 aligned face, Output: 512x512 restored face
type CodeFormer struct {
	cache      *inference.Cache
	compositor *swapper.Compositor
	fidelity   float64
}

// NewCodeFormer creates an enhancer backed by the cache's enhancer session
func NewCodeFormer(cache *inference.Cache) *CodeFormer {
	return &CodeFormer{
		cache:      cache,
		compositor: swapper.NewCompositor(),
		fidelity:   1.0,
	}
}

// Enhance restores a face aligned with swapper.EnhancerTarget
func (c *CodeFormer) Enhance(face gocv.Mat) (gocv.Mat, error) {
	size := swapper.EnhancerTarget.Size
	if face.Rows() != size || face.Cols() != size {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d face, got %dx%d", size, size, face.Cols(), face.Rows())
	}

	session, err := c.cache.Get(inference.ModelEnhancer)
	if err != nil {
		return gocv.NewMat(), err
	}

	// BGR -> RGB, (pixel/255 - 0.5) / 0.5
	floatData, err := inference.PackCHW(face.ToBytes(), size, size, true, inference.Symmetric)
	if err != nil {
		return gocv.NewMat(), err
	}

	inputTensor, err := inference.CreateTensor([]int64{1, 3, int64(size), int64(size)}, floatData)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	weightTensor, err := inference.CreateTensor([]int64{1}, []float64{c.fidelity})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create weight tensor: %w", err)
	}
	defer weightTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, int64(size), int64(size)})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = session.Run([]ort.Value{inputTensor, weightTensor}, []ort.Value{outputTensor})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("CodeFormer inference failed: %w", err)
	}

	pixels, err := inference.UnpackCHW(outputTensor.GetData(), size, size, true, denormalize)
	if err != nil {
		return gocv.NewMat(), err
	}
	return gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC3, pixels)
}

// EnhanceFace aligns the face at kps, restores it and blends the result
// back over frame. ok is false when the face could not be aligned and
// frame was returned as a copy.
func (c *CodeFormer) EnhanceFace(frame gocv.Mat, kps detector.KeypointSet) (gocv.Mat, bool, error) {
	aligned, err := swapper.Align(frame, kps, swapper.EnhancerTarget)
	if err != nil {
		return gocv.NewMat(), false, err
	}
	if aligned == nil {
		return frame.Clone(), false, nil
	}
	defer aligned.Close()

	restored, err := c.Enhance(aligned.Crop)
	if err != nil {
		return gocv.NewMat(), false, err
	}
	defer restored.Close()

	size := swapper.EnhancerTarget.Size
	pasted, err := c.compositor.Composite(frame, restored, swapper.FullMask(size, size), aligned.Matrix)
	if err != nil {
		return gocv.NewMat(), false, err
	}
	defer pasted.Close()

	mixed, err := c.compositor.Mix(pasted, frame, enhancedWeight)
	if err != nil {
		return gocv.NewMat(), false, err
	}
	return mixed, true, nil
}

// Close is a no-op, the session belongs to the cache
func (c *CodeFormer) Close() error {
	return nil
}

// denormalize maps [-1, 1] model output to [0, 255]
func denormalize(v float32) float32 {
	v = max(-1, min(v, 1))
	return (v + 1) / 2 * 255
}
