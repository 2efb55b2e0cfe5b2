package tensor

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("Valid Float32 tensor", func(t *testing.T) {
		shape := []int{2, 3}
		data := []float32{1, 2, 3, 4, 5, 6}

		tensor, err := NewTensor(shape, Float32, data)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if !reflect.DeepEqual(tensor.Shape, shape) {
			t.Errorf("Shape = %v, expected %v", tensor.Shape, shape)
		}
		if !reflect.DeepEqual(tensor.Strides, []int{3, 1}) {
			t.Errorf("Strides = %v, expected [3 1]", tensor.Strides)
		}
		if tensor.NumElems != 6 {
			t.Errorf("NumElems = %d, expected 6", tensor.NumElems)
		}
	})

	t.Run("Shape is copied", func(t *testing.T) {
		shape := []int{2, 2}
		tensor, err := NewTensor(shape, Int64, int64(7))
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		shape[0] = 9
		if tensor.Shape[0] != 2 {
			t.Errorf("tensor shape aliased caller slice: %v", tensor.Shape)
		}
	})

	t.Run("Scalar", func(t *testing.T) {
		tensor, err := NewTensor([]int{}, Float32, []float32{2})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tensor.NumElems != 1 {
			t.Errorf("NumElems = %d, expected 1", tensor.NumElems)
		}
	})

	t.Run("Length mismatch", func(t *testing.T) {
		_, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3})
		if !errors.Is(err, ErrDataLength) {
			t.Errorf("expected ErrDataLength, got %v", err)
		}
	})

	t.Run("Wrong element type", func(t *testing.T) {
		_, err := NewTensor([]int{2}, Int64, []float32{1, 2})
		if !errors.Is(err, ErrDTypeMismatch) {
			t.Errorf("expected ErrDTypeMismatch, got %v", err)
		}
	})

	t.Run("Invalid shape", func(t *testing.T) {
		_, err := NewTensor([]int{2, 0}, Float32, nil)
		if !errors.Is(err, ErrInvalidShape) {
			t.Errorf("expected ErrInvalidShape, got %v", err)
		}
	})
}

func TestFull(t *testing.T) {
	tensor, err := Full([]int{3}, float32(2), Float32)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	if !reflect.DeepEqual(tensor.Data, []float32{2, 2, 2}) {
		t.Errorf("Data = %v, expected [2 2 2]", tensor.Data)
	}
}

func TestRandomInt(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tensor, err := RandomInt([]int{4, 5, 6}, -10, 10, Int64, rng)
	if err != nil {
		t.Fatalf("RandomInt failed: %v", err)
	}
	if !reflect.DeepEqual(tensor.Shape, []int{4, 5, 6}) {
		t.Errorf("Shape = %v", tensor.Shape)
	}

	data := tensor.Data.([]int64)
	sawNegative := false
	for _, v := range data {
		if v < -10 || v >= 10 {
			t.Fatalf("value %d outside [-10, 10)", v)
		}
		if v < 0 {
			sawNegative = true
		}
	}
	if !sawNegative {
		t.Errorf("120 samples contained no negative values")
	}

	t.Run("Deterministic with seed", func(t *testing.T) {
		a, _ := RandomInt([]int{10}, 0, 10, Int64, rand.New(rand.NewSource(7)))
		b, _ := RandomInt([]int{10}, 0, 10, Int64, rand.New(rand.NewSource(7)))
		if !reflect.DeepEqual(a.Data, b.Data) {
			t.Errorf("same seed produced different tensors")
		}
	})

	t.Run("Empty range", func(t *testing.T) {
		if _, err := RandomInt([]int{2}, 5, 5, Int64, rng); err == nil {
			t.Errorf("expected error for empty range")
		}
	})

	t.Run("Nil source", func(t *testing.T) {
		if _, err := RandomInt([]int{2}, 0, 5, Int64, nil); err == nil {
			t.Errorf("expected error for nil source")
		}
	})
}
