package tensor

import (
	"fmt"
)

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%w: tensor dtype is %s, not Float32", ErrDTypeMismatch, t.DType)
	}
	return t.Data.([]float32), nil
}

// ToFloat32 returns a Float32 copy of t. Float32 tensors are cloned.
func (t *Tensor) ToFloat32() (*Tensor, error) {
	out := make([]float32, t.NumElems)
	switch d := t.Data.(type) {
	case []float32:
		copy(out, d)
	case []int32:
		for i, v := range d {
			out[i] = float32(v)
		}
	case []int64:
		for i, v := range d {
			out[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: cannot convert %s to Float32", ErrDTypeMismatch, t.DType)
	}
	return NewTensor(t.Shape, Float32, out)
}

func (t *Tensor) Size() []int {
	result := make([]int, len(t.Shape))
	copy(result, t.Shape)
	return result
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}
