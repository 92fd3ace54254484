package detector

import (
	"fmt"
	"image"
	"image/color"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/inference"
	"github.com/dudu/deepswap/internal/log"
)

const (
	// YOLOXSize is the square input resolution of the part detector
	YOLOXSize = 640

	letterboxFill = 114

	// one row per detection: batch, class, score, x1, y1, x2, y2
	yoloxRowLen = 7
)

// model class ids
const (
	yoloxFace  = 3
	yoloxEye   = 4
	yoloxNose  = 5
	yoloxMouth = 6
)

// YOLOXSpec describes the part detector graph
func YOLOXSpec(path string) inference.ModelSpec {
	return inference.ModelSpec{
		Path:        path,
		InputNames:  []string{"images"},
		OutputNames: []string{"batchno_classid_score_x1y1x2y2"},
	}
}

// Letterbox records how a frame was scaled and padded into the model input
type Letterbox struct {
	Ratio   float64
	Width   int // resized width
	Height  int // resized height
	OffsetX int
	OffsetY int
	Size    int
}

// NewLetterbox fits a width x height frame into a size x size square,
// keeping aspect ratio and centering it.
func NewLetterbox(width, height, size int) Letterbox {
	ratio := math.Min(float64(size)/float64(height), float64(size)/float64(width))
	rw := int(math.Round(float64(width) * ratio))
	rh := int(math.Round(float64(height) * ratio))
	return Letterbox{
		Ratio:   ratio,
		Width:   rw,
		Height:  rh,
		OffsetX: int(math.Round(float64(size-rw)/2 - 0.1)),
		OffsetY: int(math.Round(float64(size-rh)/2 - 0.1)),
		Size:    size,
	}
}

// Unmap converts model-space coordinates back to frame coordinates
func (l Letterbox) Unmap(x, y float64) (float64, float64) {
	return (x - float64(l.OffsetX)) / l.Ratio, (y - float64(l.OffsetY)) / l.Ratio
}

// YOLOX detects faces and facial parts with a YOLOX model
type YOLOX struct {
	cache        *inference.Cache
	nmsThreshold float64
}

// NewYOLOX creates a detector backed by the cache's detector session. A
// zero nmsThreshold trusts the suppression built into the graph.
func NewYOLOX(cache *inference.Cache, nmsThreshold float64) *YOLOX {
	return &YOLOX{cache: cache, nmsThreshold: nmsThreshold}
}

// Detect returns the face, eye, nose and mouth boxes found in img, in
// frame coordinates.
func (y *YOLOX) Detect(img gocv.Mat) (Detections, error) {
	if img.Empty() {
		return Detections{}, fmt.Errorf("empty frame")
	}

	session, err := y.cache.Get(inference.ModelDetector)
	if err != nil {
		return Detections{}, err
	}

	input, lb, err := y.preprocess(img)
	if err != nil {
		return Detections{}, err
	}

	inputTensor, err := inference.CreateTensor([]int64{1, 3, int64(lb.Size), int64(lb.Size)}, input)
	if err != nil {
		return Detections{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// N is dynamic, let the runtime allocate the output
	outputs := []ort.Value{nil}
	if err := session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return Detections{}, fmt.Errorf("detector inference failed: %w", err)
	}
	defer inference.DestroyValues(outputs)

	raw, _, err := inference.Float32Output(outputs[0])
	if err != nil {
		return Detections{}, err
	}

	det := ParseDetections(raw, lb)
	if y.nmsThreshold > 0 {
		det = suppress(det, y.nmsThreshold)
	}
	return det, nil
}

// DetectKeypoints runs detection and estimates five keypoints per face
func (y *YOLOX) DetectKeypoints(img gocv.Mat) ([]Face, error) {
	det, err := y.Detect(img)
	if err != nil {
		return nil, err
	}
	faces, err := EstimateKeypoints(det)
	if err != nil {
		return nil, err
	}
	log.Debug("detected faces",
		"faces", len(det.Faces), "eyes", len(det.Eyes),
		"noses", len(det.Noses), "mouths", len(det.Mouths))
	return faces, nil
}

// Close is a no-op, the session belongs to the cache
func (y *YOLOX) Close() error {
	return nil
}

// preprocess resizes into the letterbox and packs raw BGR values as NCHW
func (y *YOLOX) preprocess(img gocv.Mat) ([]float32, Letterbox, error) {
	lb := NewLetterbox(img.Cols(), img.Rows(), YOLOXSize)

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(img, &resized, image.Pt(lb.Width, lb.Height), 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, lb, fmt.Errorf("failed to resize frame: %w", err)
	}

	fill := color.RGBA{R: letterboxFill, G: letterboxFill, B: letterboxFill}
	padded := gocv.NewMat()
	defer padded.Close()
	if err := gocv.CopyMakeBorder(resized, &padded,
		lb.OffsetY, lb.Size-lb.Height-lb.OffsetY,
		lb.OffsetX, lb.Size-lb.Width-lb.OffsetX,
		gocv.BorderConstant, fill); err != nil {
		return nil, lb, fmt.Errorf("failed to pad frame: %w", err)
	}

	data, err := inference.PackCHW(padded.ToBytes(), lb.Size, lb.Size, false, inference.Identity)
	if err != nil {
		return nil, lb, err
	}
	return data, lb, nil
}

// ParseDetections decodes [N, 7] detector rows into per-class boxes in
// frame coordinates. Rows with unknown classes are ignored.
func ParseDetections(raw []float32, lb Letterbox) Detections {
	var det Detections
	for i := 0; i+yoloxRowLen <= len(raw); i += yoloxRowLen {
		row := raw[i : i+yoloxRowLen]

		var class Class
		switch int(row[1]) {
		case yoloxFace:
			class = ClassFace
		case yoloxEye:
			class = ClassEye
		case yoloxNose:
			class = ClassNose
		case yoloxMouth:
			class = ClassMouth
		default:
			continue
		}

		x1, y1 := lb.Unmap(float64(row[3]), float64(row[4]))
		x2, y2 := lb.Unmap(float64(row[5]), float64(row[6]))
		det.Add(BoundingBox{
			X1: x1, Y1: y1, X2: x2, Y2: y2,
			Class: class,
			Score: float64(row[2]),
		})
	}
	return det
}

func suppress(det Detections, threshold float64) Detections {
	return Detections{
		Faces:  nms(det.Faces, threshold),
		Eyes:   nms(det.Eyes, threshold),
		Noses:  nms(det.Noses, threshold),
		Mouths: nms(det.Mouths, threshold),
	}
}
