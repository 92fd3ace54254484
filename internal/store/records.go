package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/swapper"
)

// FaceRecord is everything stage one stores for one aligned face
type FaceRecord struct {
	Crop   gocv.Mat
	Mask   swapper.Mask
	Matrix swapper.Affine
}

// Close releases the crop
func (r *FaceRecord) Close() error {
	return r.Crop.Close()
}

type matrixRecord struct {
	Matrix [2][3]float64 `msgpack:"m"`
}

type embeddingRecord struct {
	Vector []float32 `msgpack:"v"`
}

// WriteFace stores the crop, mask and forward matrix of one face
func (l *Layout) WriteFace(id string, face int, crop gocv.Mat, mask swapper.Mask, m swapper.Affine) error {
	if err := WriteImage(l.CropPath(id, face), crop); err != nil {
		return err
	}
	if err := writeMsgpack(l.MaskPath(id, face), mask); err != nil {
		return err
	}
	return writeMsgpack(l.MatrixPath(id, face), matrixRecord{Matrix: m})
}

// ReadFace loads what WriteFace stored
func (l *Layout) ReadFace(id string, face int) (*FaceRecord, error) {
	var mask swapper.Mask
	if err := readMsgpack(l.MaskPath(id, face), &mask); err != nil {
		return nil, err
	}
	if !mask.Valid() {
		return nil, fmt.Errorf("mask %s: invalid dimensions %dx%d", faceName(id, face), mask.Width, mask.Height)
	}

	var mr matrixRecord
	if err := readMsgpack(l.MatrixPath(id, face), &mr); err != nil {
		return nil, err
	}

	crop, err := ReadImage(l.CropPath(id, face))
	if err != nil {
		return nil, err
	}
	return &FaceRecord{Crop: crop, Mask: mask, Matrix: swapper.Affine(mr.Matrix)}, nil
}

// WriteEmbedding stores the source identity embedding
func (l *Layout) WriteEmbedding(e *swapper.Embedding) error {
	return writeMsgpack(l.EmbeddingPath(), embeddingRecord{Vector: e[:]})
}

// ReadEmbedding loads the source identity embedding
func (l *Layout) ReadEmbedding() (*swapper.Embedding, error) {
	var rec embeddingRecord
	if err := readMsgpack(l.EmbeddingPath(), &rec); err != nil {
		return nil, err
	}
	if len(rec.Vector) != swapper.EmbeddingSize {
		return nil, fmt.Errorf("embedding has %d values, want %d", len(rec.Vector), swapper.EmbeddingSize)
	}
	var e swapper.Embedding
	copy(e[:], rec.Vector)
	return &e, nil
}

// ReadFrame loads a stored frame
func (l *Layout) ReadFrame(id string) (gocv.Mat, error) {
	return ReadImage(l.FramePath(id))
}

// WriteSwapped stores a composited frame
func (l *Layout) WriteSwapped(id string, frame gocv.Mat) error {
	return WriteImage(l.SwappedPath(id), frame)
}

// ReadImage loads a color image. Missing files report ErrNotFound.
func ReadImage(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return gocv.NewMat(), fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return gocv.NewMat(), err
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("failed to decode image %s", path)
	}
	return img, nil
}

// WriteImage encodes img by the path's extension
func WriteImage(path string, img gocv.Mat) error {
	if !gocv.IMWrite(path, img) {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}

func writeMsgpack(path string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readMsgpack(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return err
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
