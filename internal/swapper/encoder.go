package swapper

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/inference"
)

// EmbeddingSize is the length of an ArcFace identity vector
const EmbeddingSize = 512

// Embedding represents a 512-dimensional face embedding
type Embedding [EmbeddingSize]float32

// ArcFaceSpec describes the recognizer graph
func ArcFaceSpec(path string) inference.ModelSpec {
	return inference.ModelSpec{
		Path:        path,
		InputNames:  []string{"input.1"},
		OutputNames: []string{"683"},
	}
}

// ArcFaceEncoder extracts face embeddings using ArcFace
type ArcFaceEncoder struct {
	cache *inference.Cache
}

// NewArcFaceEncoder creates an encoder backed by the cache's embedder session
func NewArcFaceEncoder(cache *inference.Cache) *ArcFaceEncoder {
	return &ArcFaceEncoder{cache: cache}
}

// Extract computes the raw 512-dim embedding of a face aligned with
// EmbedderTarget
func (e *ArcFaceEncoder) Extract(alignedFace gocv.Mat) (*Embedding, error) {
	size := EmbedderTarget.Size
	if alignedFace.Rows() != size || alignedFace.Cols() != size {
		return nil, fmt.Errorf("expected %dx%d input, got %dx%d", size, size, alignedFace.Cols(), alignedFace.Rows())
	}

	session, err := e.cache.Get(inference.ModelEmbedder)
	if err != nil {
		return nil, err
	}

	// BGR -> RGB, scaled to [-1, 1]
	inputData, err := inference.PackCHW(alignedFace.ToBytes(), size, size, true, inference.Symmetric)
	if err != nil {
		return nil, err
	}

	inputTensor, err := inference.CreateTensor([]int64{1, 3, int64(size), int64(size)}, inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, EmbeddingSize})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("embedder inference failed: %w", err)
	}

	var embedding Embedding
	copy(embedding[:], outputTensor.GetData())
	return &embedding, nil
}

// Close is a no-op, the session belongs to the cache
func (e *ArcFaceEncoder) Close() error {
	return nil
}

// Norm returns the L2 norm of the embedding
func (e *Embedding) Norm() float64 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// MeanEmbedding averages embeddings element-wise
func MeanEmbedding(embeddings []*Embedding) (*Embedding, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings to average")
	}
	var sum [EmbeddingSize]float64
	for _, e := range embeddings {
		for i, v := range e {
			sum[i] += float64(v)
		}
	}
	var mean Embedding
	n := float64(len(embeddings))
	for i := range sum {
		mean[i] = float32(sum[i] / n)
	}
	return &mean, nil
}

// CosineSimilarity computes cosine similarity between two embeddings
func CosineSimilarity(a, b *Embedding) float32 {
	na, nb := a.Norm(), b.Norm()
	if na < 1e-10 || nb < 1e-10 {
		return 0
	}
	var dot float64
	for i := 0; i < EmbeddingSize; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}
