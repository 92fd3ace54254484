package pipeline

import (
	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/detector"
	"github.com/dudu/deepswap/internal/swapper"
)

// KeypointDetector finds faces and their five keypoints
type KeypointDetector interface {
	DetectKeypoints(img gocv.Mat) ([]detector.Face, error)
}

// FaceMasker predicts an occlusion mask for an aligned crop
type FaceMasker interface {
	Mask(crop gocv.Mat) (swapper.Mask, error)
}

// FaceEncoder interface for face embedding extraction
type FaceEncoder interface {
	Extract(alignedFace gocv.Mat) (*swapper.Embedding, error)
}

// FaceSwapper interface for face swapping
type FaceSwapper interface {
	Prepare(source *swapper.Embedding) *swapper.Embedding
	Swap(targetFace gocv.Mat, latent *swapper.Embedding) (gocv.Mat, error)
}

// FaceEnhancer restores one face in a full frame
type FaceEnhancer interface {
	EnhanceFace(frame gocv.Mat, kps detector.KeypointSet) (gocv.Mat, bool, error)
}
