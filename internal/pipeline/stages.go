package pipeline

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/detector"
	"github.com/dudu/deepswap/internal/log"
	"github.com/dudu/deepswap/internal/store"
	"github.com/dudu/deepswap/internal/swapper"
)

// ErrNoFace is returned when a source image yields no usable face
var ErrNoFace = errors.New("no usable face")

// MaskStage detects and aligns every face of a frame, predicts its
// occlusion mask and stores crop, mask and matrix by face index.
type MaskStage struct {
	Detector KeypointDetector
	Masker   FaceMasker
	Layout   *store.Layout
}

// Process implements ProcessFunc
func (s *MaskStage) Process(_ context.Context, id string) error {
	frame, err := s.Layout.ReadFrame(id)
	if err != nil {
		return err
	}
	defer frame.Close()

	faces, err := s.Detector.DetectKeypoints(frame)
	if err != nil {
		return detectError(id, err)
	}
	if len(faces) == 0 {
		log.Debug("no faces in frame", "frame", id)
		return nil
	}

	idx := 0
	for _, f := range faces {
		aligned, err := swapper.Align(frame, f.Keypoints, swapper.SwapperTarget)
		if err != nil {
			return &FrameError{FrameID: id, Face: idx, Err: err}
		}
		if aligned == nil {
			continue
		}
		err = s.storeFace(id, idx, aligned)
		aligned.Close()
		if err != nil {
			return &FrameError{FrameID: id, Face: idx, Err: err}
		}
		idx++
	}
	return nil
}

func (s *MaskStage) storeFace(id string, idx int, aligned *swapper.Aligned) error {
	mask, err := s.Masker.Mask(aligned.Crop)
	if err != nil {
		return err
	}
	return s.Layout.WriteFace(id, idx, aligned.Crop, mask, aligned.Matrix)
}

// SwapStage pastes the source identity over every stored face of a frame
// and writes the result to the output layout.
type SwapStage struct {
	swapper    FaceSwapper
	compositor *swapper.Compositor
	latent     *swapper.Embedding
	target     *store.Layout
	output     *store.Layout

	enhancer FaceEnhancer
	detector KeypointDetector
}

// NewSwapStage prepares source once for every frame of the run
func NewSwapStage(sw FaceSwapper, source *swapper.Embedding, target, output *store.Layout) *SwapStage {
	return &SwapStage{
		swapper:    sw,
		compositor: swapper.NewCompositor(),
		latent:     sw.Prepare(source),
		target:     target,
		output:     output,
	}
}

// WithEnhancer restores faces after swapping. Faces are re-detected on
// the swapped frame.
func (s *SwapStage) WithEnhancer(e FaceEnhancer, d KeypointDetector) *SwapStage {
	s.enhancer = e
	s.detector = d
	return s
}

// Process implements ProcessFunc
func (s *SwapStage) Process(_ context.Context, id string) error {
	frame, err := s.target.ReadFrame(id)
	if err != nil {
		return err
	}
	defer frame.Close()

	faces, err := s.target.Faces(id)
	if err != nil {
		return err
	}

	result := frame.Clone()
	defer func() { result.Close() }()

	for _, face := range faces {
		next, err := s.swapFace(result, id, face)
		if err != nil {
			return &FrameError{FrameID: id, Face: face, Err: err}
		}
		result.Close()
		result = next
	}

	if s.enhancer != nil && len(faces) > 0 {
		enhanced, err := s.enhance(id, result)
		if err != nil {
			return err
		}
		result.Close()
		result = enhanced
	}

	return s.output.WriteSwapped(id, result)
}

func (s *SwapStage) swapFace(frame gocv.Mat, id string, face int) (gocv.Mat, error) {
	rec, err := s.target.ReadFace(id, face)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer rec.Close()

	swapped, err := s.swapper.Swap(rec.Crop, s.latent)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer swapped.Close()

	return s.compositor.Composite(frame, swapped, rec.Mask, rec.Matrix)
}

func (s *SwapStage) enhance(id string, frame gocv.Mat) (gocv.Mat, error) {
	faces, err := s.detector.DetectKeypoints(frame)
	if err != nil {
		return gocv.NewMat(), detectError(id, err)
	}
	result := frame.Clone()
	for i, f := range faces {
		next, _, err := s.enhancer.EnhanceFace(result, f.Keypoints)
		if err != nil {
			result.Close()
			return gocv.NewMat(), &FrameError{FrameID: id, Face: i, Err: fmt.Errorf("enhance: %w", err)}
		}
		result.Close()
		result = next
	}
	return result, nil
}

// ValidateSingleFace reports whether img holds exactly one face with
// enough keypoints to align.
func ValidateSingleFace(d KeypointDetector, img gocv.Mat) (bool, error) {
	faces, err := d.DetectKeypoints(img)
	if err != nil {
		return false, err
	}
	usable := 0
	for _, f := range faces {
		if f.Keypoints.Count() >= 2 {
			usable++
		}
	}
	return usable == 1, nil
}

// SourceEmbedding averages the embeddings of the first alignable face of
// every image. Images without one are skipped.
func SourceEmbedding(d KeypointDetector, enc FaceEncoder, images []gocv.Mat) (*swapper.Embedding, error) {
	var embeddings []*swapper.Embedding
	for i, img := range images {
		faces, err := d.DetectKeypoints(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		aligned, err := firstAligned(img, faces, swapper.EmbedderTarget)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		if aligned == nil {
			log.Debug("source image has no usable face", "image", i)
			continue
		}
		emb, err := enc.Extract(aligned.Crop)
		aligned.Close()
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		embeddings = append(embeddings, emb)
	}
	if len(embeddings) == 0 {
		return nil, ErrNoFace
	}
	return swapper.MeanEmbedding(embeddings)
}

func firstAligned(img gocv.Mat, faces []detector.Face, target swapper.Target) (*swapper.Aligned, error) {
	for _, f := range faces {
		a, err := swapper.Align(img, f.Keypoints, target)
		if err != nil || a != nil {
			return a, err
		}
	}
	return nil, nil
}

// detectError keeps the face index of a keypoint estimation failure
func detectError(id string, err error) error {
	var fe *detector.FaceError
	if errors.As(err, &fe) {
		return &FrameError{FrameID: id, Face: fe.Face, Err: fe.Err}
	}
	return err
}

// compile-time checks
var (
	_ KeypointDetector = (*detector.YOLOX)(nil)
	_ FaceSwapper      = (*swapper.Inswapper)(nil)
	_ FaceEncoder      = (*swapper.ArcFaceEncoder)(nil)
)
