package swapper

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/detector"
	"github.com/dudu/deepswap/internal/log"
)

const (
	minCorrespondences = 2

	// cv::RANSAC
	methodRANSAC = 8

	ransacReprojThreshold = 100.0
	ransacMaxIters        = 2000
	ransacConfidence      = 0.99
	ransacRefineIters     = 10
)

// Template is a canonical keypoint arrangement in normalized [0,1]
// coordinates, ordered like detector.KeypointSet.
type Template [detector.NumSlots]detector.Point

// ArcFaceTemplate is shared by the embedder and the swapper
var ArcFaceTemplate = Template{
	{X: 0.36167656, Y: 0.40387734}, // left eye
	{X: 0.63696719, Y: 0.40235469}, // right eye
	{X: 0.50019687, Y: 0.56044219}, // nose
	{X: 0.38710391, Y: 0.72160547}, // left mouth
	{X: 0.61507734, Y: 0.72034453}, // right mouth
}

// FFHQTemplate is used by the enhancer
var FFHQTemplate = Template{
	{X: 0.37691676, Y: 0.46864664},
	{X: 0.62285697, Y: 0.46912813},
	{X: 0.50123859, Y: 0.61331904},
	{X: 0.39308822, Y: 0.72541100},
	{X: 0.61150205, Y: 0.72490465},
}

// Scale returns the template in pixel coordinates for a size x size crop
func (t Template) Scale(size int) Template {
	var out Template
	s := float64(size)
	for i, p := range t {
		out[i] = detector.Point{X: p.X * s, Y: p.Y * s}
	}
	return out
}

// Target pairs a template with the square input size of the model it feeds
type Target struct {
	Template Template
	Size     int
}

var (
	EmbedderTarget = Target{Template: ArcFaceTemplate, Size: 112}
	SwapperTarget  = Target{Template: ArcFaceTemplate, Size: 128}
	EnhancerTarget = Target{Template: FFHQTemplate, Size: 512}
)

// Aligned is a face warped into a model's canonical pose
type Aligned struct {
	Crop   gocv.Mat
	Matrix Affine // frame space -> crop space
}

// Close releases the crop
func (a *Aligned) Close() error {
	return a.Crop.Close()
}

// correspondences pairs every present keypoint with its template point
func correspondences(kps detector.KeypointSet, tmpl Template) (src, dst []gocv.Point2f) {
	for i, kp := range kps {
		if !kp.Present || !kp.Point.IsFinite() {
			continue
		}
		src = append(src, gocv.Point2f{X: float32(kp.Point.X), Y: float32(kp.Point.Y)})
		dst = append(dst, gocv.Point2f{X: float32(tmpl[i].X), Y: float32(tmpl[i].Y)})
	}
	return src, dst
}

// EstimateTransform fits a similarity transform from the present keypoints
// to the scaled template with RANSAC. ok is false when fewer than two
// keypoints are present or no transform could be fitted.
func EstimateTransform(kps detector.KeypointSet, target Target) (Affine, bool) {
	src, dst := correspondences(kps, target.Template.Scale(target.Size))
	if len(src) < minCorrespondences {
		return Affine{}, false
	}

	from := gocv.NewPoint2fVectorFromPoints(src)
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(dst)
	defer to.Close()
	inliers := gocv.NewMat()
	defer inliers.Close()

	mat := gocv.EstimateAffinePartial2DWithParams(from, to, inliers,
		methodRANSAC, ransacReprojThreshold, ransacMaxIters, ransacConfidence, ransacRefineIters)
	defer mat.Close()
	if mat.Empty() {
		return Affine{}, false
	}

	m, err := AffineFromMat(mat)
	if err != nil {
		return Affine{}, false
	}
	for _, row := range m {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Affine{}, false
			}
		}
	}
	return m, true
}

// Align warps frame into target's canonical pose. It returns nil and no
// error when the face does not have enough keypoints to align.
func Align(frame gocv.Mat, kps detector.KeypointSet, target Target) (*Aligned, error) {
	m, ok := EstimateTransform(kps, target)
	if !ok {
		log.Debug("face skipped, not enough keypoints", "present", kps.Count())
		return nil, nil
	}

	mat := m.Mat()
	defer mat.Close()

	crop := gocv.NewMat()
	if err := gocv.WarpAffineWithParams(frame, &crop, mat, image.Pt(target.Size, target.Size),
		gocv.InterpolationArea, gocv.BorderReplicate, color.RGBA{}); err != nil {
		crop.Close()
		return nil, fmt.Errorf("failed to warp face: %w", err)
	}
	if crop.Empty() {
		crop.Close()
		return nil, fmt.Errorf("failed to warp face: empty crop")
	}

	return &Aligned{Crop: crop, Matrix: m}, nil
}
