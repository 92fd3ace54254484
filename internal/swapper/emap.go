package swapper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Emap is the 512x512 transformation matrix for inswapper
type Emap [EmbeddingSize][EmbeddingSize]float32

// ONNX field numbers
const (
	modelGraphField       protowire.Number = 7
	graphInitializerField protowire.Number = 5
	tensorDimsField       protowire.Number = 1
	tensorDataTypeField   protowire.Number = 2
	tensorFloatDataField  protowire.Number = 4
	tensorNameField       protowire.Number = 8
	tensorRawDataField    protowire.Number = 9

	onnxFloat = 1
)

// LoadEmap loads the emap matrix from a raw little-endian float32 file
func LoadEmap(path string) (*Emap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read emap file: %w", err)
	}

	expectedSize := EmbeddingSize * EmbeddingSize * 4
	if len(data) != expectedSize {
		return nil, fmt.Errorf("emap file size mismatch: expected %d, got %d", expectedSize, len(data))
	}
	return emapFromFloats(decodeFloats(data), "raw file")
}

// LoadEmapFromModel reads the emap from the last initializer of an
// inswapper ONNX model
func LoadEmapFromModel(path string) (*Emap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	t, err := lastInitializer(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(t.Dims) != 2 || t.Dims[0] != EmbeddingSize || t.Dims[1] != EmbeddingSize {
		return nil, fmt.Errorf("%s: initializer %q has shape %v, want [512 512]", path, t.Name, t.Dims)
	}
	return emapFromFloats(t.Data, t.Name)
}

func emapFromFloats(values []float32, source string) (*Emap, error) {
	if len(values) != EmbeddingSize*EmbeddingSize {
		return nil, fmt.Errorf("emap from %s has %d values", source, len(values))
	}
	var emap Emap
	for i := 0; i < EmbeddingSize; i++ {
		copy(emap[i][:], values[i*EmbeddingSize:(i+1)*EmbeddingSize])
	}
	return &emap, nil
}

// Project maps an identity embedding into the generator's latent space:
//
//	latent = embedding @ emap / norm(embedding)
func (e *Emap) Project(embedding *Embedding) *Embedding {
	var latent Embedding

	norm := embedding.Norm()
	if norm < 1e-10 {
		norm = 1
	}

	for j := 0; j < EmbeddingSize; j++ {
		var sum float64
		for i := 0; i < EmbeddingSize; i++ {
			sum += float64(embedding[i]) * float64(e[i][j])
		}
		latent[j] = float32(sum / norm)
	}
	return &latent
}

// tensor is the subset of onnx.TensorProto needed for float initializers
type tensor struct {
	Name     string
	Dims     []int64
	DataType uint64
	Data     []float32
}

var errNoInitializer = errors.New("model has no graph initializers")

func lastInitializer(model []byte) (*tensor, error) {
	var graph []byte
	err := walkFields(model, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == modelGraphField && typ == protowire.BytesType {
			graph = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid model proto: %w", err)
	}
	if graph == nil {
		return nil, errors.New("model has no graph")
	}

	var last []byte
	err = walkFields(graph, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == graphInitializerField && typ == protowire.BytesType {
			last = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid graph proto: %w", err)
	}
	if last == nil {
		return nil, errNoInitializer
	}
	return parseTensor(last)
}

func parseTensor(b []byte) (*tensor, error) {
	t := &tensor{}
	var raw []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch num {
		case tensorDimsField:
			if typ == protowire.BytesType {
				for len(v) > 0 {
					d, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					t.Dims = append(t.Dims, int64(d))
					v = v[n:]
				}
			} else {
				t.Dims = append(t.Dims, int64(scalar))
			}
		case tensorDataTypeField:
			t.DataType = scalar
		case tensorFloatDataField:
			if typ == protowire.BytesType {
				t.Data = append(t.Data, decodeFloats(v)...)
			} else {
				t.Data = append(t.Data, math.Float32frombits(uint32(scalar)))
			}
		case tensorNameField:
			t.Name = string(v)
		case tensorRawDataField:
			raw = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid tensor proto: %w", err)
	}
	if t.DataType != onnxFloat {
		return nil, fmt.Errorf("initializer %q has data type %d, want float", t.Name, t.DataType)
	}
	if raw != nil {
		t.Data = decodeFloats(raw)
	}
	return t, nil
}

// walkFields calls fn for every top-level field in a protobuf message.
// Length-delimited values are passed as v, numeric values as scalar.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var (
			v      []byte
			scalar uint64
		)
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			scalar = uint64(x)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, typ, v, scalar); err != nil {
			return err
		}
	}
	return nil
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
