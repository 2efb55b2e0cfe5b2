package tensor

import "fmt"

// BroadcastShapes returns the shape two operands broadcast to, aligning
// dimensions from the right. An empty shape is a scalar.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	result := make([]int, maxDims)
	for i := 0; i < maxDims; i++ {
		dim1, dim2 := 1, 1
		if j := len(shape1) - 1 - i; j >= 0 {
			dim1 = shape1[j]
		}
		if j := len(shape2) - 1 - i; j >= 0 {
			dim2 = shape2[j]
		}

		switch {
		case dim1 == dim2, dim2 == 1:
			result[maxDims-1-i] = dim1
		case dim1 == 1:
			result[maxDims-1-i] = dim2
		default:
			return nil, fmt.Errorf("%w: shapes %v and %v are not broadcastable at dimension %d (%d vs %d)",
				ErrInvalidShape, shape1, shape2, i, dim1, dim2)
		}
	}
	return result, nil
}

// broadcastOffset maps a flat index of the broadcast result back to t.
func (t *Tensor) broadcastOffset(flat int, outShape, outStrides []int) int {
	lead := len(outShape) - len(t.Shape)
	off := 0
	for i := range t.Shape {
		idx := (flat / outStrides[lead+i]) % outShape[lead+i]
		if t.Shape[i] == 1 {
			idx = 0
		}
		off += idx * t.Strides[i]
	}
	return off
}

// Add returns the element-wise sum of t1 and t2 with broadcasting. Both
// operands must share a dtype.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != t2.DType {
		return nil, fmt.Errorf("%w: Add of %s and %s", ErrDTypeMismatch, t1.DType, t2.DType)
	}

	shape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}
	result, err := Zeros(shape, t1.DType)
	if err != nil {
		return nil, err
	}

	for i := 0; i < result.NumElems; i++ {
		a := t1.broadcastOffset(i, result.Shape, result.Strides)
		b := t2.broadcastOffset(i, result.Shape, result.Strides)
		switch out := result.Data.(type) {
		case []float32:
			out[i] = t1.Data.([]float32)[a] + t2.Data.([]float32)[b]
		case []int32:
			out[i] = t1.Data.([]int32)[a] + t2.Data.([]int32)[b]
		case []int64:
			out[i] = t1.Data.([]int64)[a] + t2.Data.([]int64)[b]
		}
	}
	return result, nil
}
