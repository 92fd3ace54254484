package swapper

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Mask is a per-pixel blend weight in [0,1], row-major
type Mask struct {
	Width  int       `msgpack:"w"`
	Height int       `msgpack:"h"`
	Data   []float32 `msgpack:"d"`
}

// NewMask allocates a zero mask
func NewMask(width, height int) Mask {
	return Mask{Width: width, Height: height, Data: make([]float32, width*height)}
}

// FullMask returns a mask of ones
func FullMask(width, height int) Mask {
	m := NewMask(width, height)
	for i := range m.Data {
		m.Data[i] = 1
	}
	return m
}

// Valid reports whether the data length matches the dimensions
func (m Mask) Valid() bool {
	return m.Width > 0 && m.Height > 0 && len(m.Data) == m.Width*m.Height
}

// Mat copies the mask into a CV_32F matrix. The caller closes it.
func (m Mask) Mat() (gocv.Mat, error) {
	mat := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV32F)
	data, err := mat.DataPtrFloat32()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), err
	}
	copy(data, m.Data)
	return mat, nil
}

// MaskFromMat copies a single channel CV_32F matrix
func MaskFromMat(mat gocv.Mat) (Mask, error) {
	if mat.Type() != gocv.MatTypeCV32F {
		return Mask{}, fmt.Errorf("expected CV_32F mask, got %v", mat.Type())
	}
	data, err := mat.DataPtrFloat32()
	if err != nil {
		return Mask{}, err
	}
	m := NewMask(mat.Cols(), mat.Rows())
	copy(m.Data, data)
	return m, nil
}

// Clip clamps every value into [0,1]
func (m Mask) Clip() {
	clip(m.Data)
}

func clip(data []float32) {
	for i, v := range data {
		switch {
		case v < 0 || math.IsNaN(float64(v)):
			data[i] = 0
		case v > 1:
			data[i] = 1
		}
	}
}

// Blend writes mask*swapped + (1-mask)*original into dst, independently
// per channel. original, swapped and dst hold interleaved pixels with
// channels values each; mask has one value per pixel.
func Blend(dst, original, swapped []byte, mask []float32, channels int) error {
	if len(original) != len(swapped) || len(dst) != len(original) {
		return fmt.Errorf("buffer size mismatch: dst=%d original=%d swapped=%d", len(dst), len(original), len(swapped))
	}
	if len(mask)*channels != len(original) {
		return fmt.Errorf("mask has %d values for %d pixels", len(mask), len(original)/channels)
	}

	for p, w := range mask {
		if w <= 0 {
			copy(dst[p*channels:(p+1)*channels], original[p*channels:(p+1)*channels])
			continue
		}
		if w >= 1 {
			copy(dst[p*channels:(p+1)*channels], swapped[p*channels:(p+1)*channels])
			continue
		}
		for c := 0; c < channels; c++ {
			i := p*channels + c
			v := float64(w)*float64(swapped[i]) + float64(1-w)*float64(original[i])
			dst[i] = byte(math.Round(v))
		}
	}
	return nil
}

// Compositor pastes model output back into full frames
type Compositor struct{}

// NewCompositor creates a compositor
func NewCompositor() *Compositor {
	return &Compositor{}
}

// Composite inverse-warps swapped and mask from crop space using the
// forward matrix m and blends them over frame. frame is not modified.
func (c *Compositor) Composite(frame, swapped gocv.Mat, mask Mask, m Affine) (gocv.Mat, error) {
	if frame.Type() != gocv.MatTypeCV8UC3 || swapped.Type() != gocv.MatTypeCV8UC3 {
		return gocv.NewMat(), fmt.Errorf("expected 8-bit BGR images")
	}
	if !mask.Valid() {
		return gocv.NewMat(), fmt.Errorf("invalid mask %dx%d with %d values", mask.Width, mask.Height, len(mask.Data))
	}

	inv, err := m.Invert()
	if err != nil {
		return gocv.NewMat(), err
	}
	invMat := inv.Mat()
	defer invMat.Close()

	frameSize := image.Pt(frame.Cols(), frame.Rows())

	warpedFace := gocv.NewMat()
	defer warpedFace.Close()
	if err := gocv.WarpAffineWithParams(swapped, &warpedFace, invMat, frameSize,
		gocv.InterpolationLinear, gocv.BorderReplicate, color.RGBA{}); err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to warp face: %w", err)
	}

	maskMat, err := mask.Mat()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer maskMat.Close()

	// outside the crop the mask is zero so the original shows through
	warpedMask := gocv.NewMat()
	defer warpedMask.Close()
	if err := gocv.WarpAffineWithParams(maskMat, &warpedMask, invMat, frameSize,
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{}); err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to warp mask: %w", err)
	}
	if warpedFace.Empty() || warpedMask.Empty() {
		return gocv.NewMat(), fmt.Errorf("inverse warp produced an empty image")
	}

	weights, err := warpedMask.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to read warped mask: %w", err)
	}
	clip(weights)

	src := frame
	if !frame.IsContinuous() {
		src = frame.Clone()
		defer src.Close()
	}
	original, err := src.DataPtrUint8()
	if err != nil {
		return gocv.NewMat(), err
	}
	face, err := warpedFace.DataPtrUint8()
	if err != nil {
		return gocv.NewMat(), err
	}

	out := gocv.NewMatWithSize(frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC3)
	dst, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	if err := Blend(dst, original, face, weights, 3); err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	return out, nil
}

// Mix returns alpha*a + (1-alpha)*b
func (c *Compositor) Mix(a, b gocv.Mat, alpha float64) (gocv.Mat, error) {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() || a.Type() != b.Type() {
		return gocv.NewMat(), fmt.Errorf("cannot mix %dx%d with %dx%d", a.Cols(), a.Rows(), b.Cols(), b.Rows())
	}
	out := gocv.NewMat()
	if err := gocv.AddWeighted(a, alpha, b, 1-alpha, 0, &out); err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("failed to mix images: %w", err)
	}
	return out, nil
}
