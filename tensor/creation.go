package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a tensor of the given shape. data may be nil, a slice
// matching dtype, or a scalar of the dtype's element type to broadcast.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	s := make([]int, len(shape))
	copy(s, shape)

	tensor := &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		DType:    dtype,
		NumElems: calculateNumElements(s),
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("%w: %d vs %d", ErrDataLength, len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("%w: unsupported data type for Float32 tensor: %T", ErrDTypeMismatch, data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("%w: %d vs %d", ErrDataLength, len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("%w: unsupported data type for Int32 tensor: %T", ErrDTypeMismatch, data)
		}
	case Int64:
		switch d := data.(type) {
		case []int64:
			if len(d) != t.NumElems {
				return fmt.Errorf("%w: %d vs %d", ErrDataLength, len(d), t.NumElems)
			}
			t.Data = d
		case int64:
			slice := make([]int64, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("%w: unsupported data type for Int64 tensor: %T", ErrDTypeMismatch, data)
		}
	default:
		return fmt.Errorf("%w: unsupported dtype: %s", ErrDTypeMismatch, t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	case Int64:
		data = make([]int64, numElems)
	default:
		return nil, fmt.Errorf("%w: unsupported dtype for Zeros: %s", ErrDTypeMismatch, dtype)
	}

	return NewTensor(shape, dtype, data)
}

func Full(shape []int, value interface{}, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, value)
}

// RandomInt fills a tensor with integers drawn uniformly from [low, high).
func RandomInt(shape []int, low, high int64, dtype DType, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if high <= low {
		return nil, fmt.Errorf("RandomInt: empty range [%d, %d)", low, high)
	}
	if rng == nil {
		return nil, fmt.Errorf("RandomInt: nil random source")
	}

	numElems := calculateNumElements(shape)
	span := high - low

	var data interface{}
	switch dtype {
	case Int64:
		slice := make([]int64, numElems)
		for i := range slice {
			slice[i] = low + rng.Int63n(span)
		}
		data = slice
	case Int32:
		slice := make([]int32, numElems)
		for i := range slice {
			slice[i] = int32(low + rng.Int63n(span))
		}
		data = slice
	case Float32:
		slice := make([]float32, numElems)
		for i := range slice {
			slice[i] = float32(low + rng.Int63n(span))
		}
		data = slice
	default:
		return nil, fmt.Errorf("%w: unsupported dtype for RandomInt: %s", ErrDTypeMismatch, dtype)
	}

	return NewTensor(shape, dtype, data)
}
