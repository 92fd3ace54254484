package swapper

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/inference"
)

// InswapperSpec describes the swap generator graph
func InswapperSpec(path string) inference.ModelSpec {
	return inference.ModelSpec{
		Path:        path,
		InputNames:  []string{"target", "source"},
		OutputNames: []string{"output"},
	}
}

// Inswapper performs face swapping using the inswapper model
type Inswapper struct {
	cache *inference.Cache
	emap  *Emap
}

// NewInswapper creates a swapper backed by the cache's swapper session
func NewInswapper(cache *inference.Cache, emap *Emap) *Inswapper {
	return &Inswapper{cache: cache, emap: emap}
}

// Prepare maps a source identity embedding into the generator's latent space
func (s *Inswapper) Prepare(source *Embedding) *Embedding {
	return s.emap.Project(source)
}

// Swap generates a swapped face from a target crop aligned with
// SwapperTarget and a latent from Prepare. Returns a BGR crop of the same
// size.
func (s *Inswapper) Swap(targetFace gocv.Mat, latent *Embedding) (gocv.Mat, error) {
	size := SwapperTarget.Size
	if targetFace.Rows() != size || targetFace.Cols() != size {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d target, got %dx%d", size, size, targetFace.Cols(), targetFace.Rows())
	}

	session, err := s.cache.Get(inference.ModelSwapper)
	if err != nil {
		return gocv.NewMat(), err
	}

	targetData, err := inference.PackCHW(targetFace.ToBytes(), size, size, true, inference.Unit)
	if err != nil {
		return gocv.NewMat(), err
	}

	targetTensor, err := inference.CreateTensor([]int64{1, 3, int64(size), int64(size)}, targetData)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create target tensor: %w", err)
	}
	defer targetTensor.Destroy()

	source := *latent
	sourceTensor, err := inference.CreateTensor([]int64{1, EmbeddingSize}, source[:])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create source tensor: %w", err)
	}
	defer sourceTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, int64(size), int64(size)})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = session.Run(
		[]ort.Value{targetTensor, sourceTensor},
		[]ort.Value{outputTensor},
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("swapper inference failed: %w", err)
	}

	// RGB [0,1] -> BGR bytes
	pixels, err := inference.UnpackCHW(outputTensor.GetData(), size, size, true, func(v float32) float32 { return v * 255 })
	if err != nil {
		return gocv.NewMat(), err
	}
	return gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC3, pixels)
}

// Close is a no-op, the session belongs to the cache
func (s *Inswapper) Close() error {
	return nil
}
