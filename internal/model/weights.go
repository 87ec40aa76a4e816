package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/nlpodyssey/safetensors"

	"lung-vision/internal/tensor"
)

// SafetensorsSource serves parameters from a deserialized safetensors
// buffer, keyed by their state-dict names.
type SafetensorsSource struct {
	st interface {
		Tensor(name string) (safetensors.TensorView, bool)
	}
}

// NewSafetensorsSource parses a safetensors buffer.
func NewSafetensorsSource(buf []byte) (*SafetensorsSource, error) {
	st, err := safetensors.Deserialize(buf)
	if err != nil {
		return nil, fmt.Errorf("parse safetensors: %w", err)
	}
	return &SafetensorsSource{st: st}, nil
}

func (s *SafetensorsSource) Param(name string, shape ...int) (*tensor.Tensor, error) {
	view, ok := s.st.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWeightMissing, name)
	}
	got := make([]int, len(view.Shape()))
	for i, d := range view.Shape() {
		got[i] = int(d)
	}
	if tensor.Volume(got) != tensor.Volume(shape) || len(got) != len(shape) {
		return nil, fmt.Errorf("%w: %s is %v, want %v", ErrWeightShape, name, got, shape)
	}
	data, err := decodeFloats(view.DType(), view.Data(), tensor.Volume(got))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return tensor.FromData(data, got...)
}

func decodeFloats(dt safetensors.DType, raw []byte, n int) ([]float64, error) {
	out := make([]float64, n)
	switch dt {
	case safetensors.F32:
		if len(raw) != 4*n {
			return nil, fmt.Errorf("%w: %d bytes for %d float32", ErrWeightShape, len(raw), n)
		}
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	case safetensors.F64:
		if len(raw) != 8*n {
			return nil, fmt.Errorf("%w: %d bytes for %d float64", ErrWeightShape, len(raw), n)
		}
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
	case safetensors.BF16:
		if len(raw) != 2*n {
			return nil, fmt.Errorf("%w: %d bytes for %d bfloat16", ErrWeightShape, len(raw), n)
		}
		for i := range out {
			out[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[2*i:])) << 16))
		}
	default:
		return nil, fmt.Errorf("unsupported weight dtype %v", dt)
	}
	return out, nil
}

// LoadFile builds the network from a safetensors checkpoint. Tensors the
// architecture does not declare are ignored.
func LoadFile(arch Architecture, path string) (*Hybrid, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	src, err := NewSafetensorsSource(buf)
	if err != nil {
		return nil, err
	}
	return New(arch, src)
}
