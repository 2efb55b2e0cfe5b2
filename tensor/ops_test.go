package tensor

import (
	"errors"
	"reflect"
	"testing"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b     []int
		expected []int
	}{
		{[]int{4}, []int{}, []int{4}},
		{[]int{}, []int{}, []int{}},
		{[]int{2, 3}, []int{3}, []int{2, 3}},
		{[]int{2, 1}, []int{1, 5}, []int{2, 5}},
		{[]int{5}, []int{5}, []int{5}},
	}

	for _, test := range tests {
		got, err := BroadcastShapes(test.a, test.b)
		if err != nil {
			t.Errorf("BroadcastShapes(%v, %v) failed: %v", test.a, test.b, err)
			continue
		}
		if !reflect.DeepEqual(got, test.expected) {
			t.Errorf("BroadcastShapes(%v, %v) = %v, expected %v", test.a, test.b, got, test.expected)
		}
	}

	if _, err := BroadcastShapes([]int{2}, []int{3}); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("expected ErrInvalidShape, got %v", err)
	}
}

func TestAddScalar(t *testing.T) {
	mean, _ := NewTensor([]int{3}, Float32, []float32{-1, 0, 4.5})
	two, _ := Full([]int{}, float32(2), Float32)

	sum, err := Add(mean, two)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expected := []float32{1, 2, 6.5}
	if !reflect.DeepEqual(sum.Data, expected) {
		t.Errorf("Add = %v, expected %v", sum.Data, expected)
	}
	if mean.Data.([]float32)[0] != -1 {
		t.Errorf("Add modified its input")
	}
}

func TestAddBroadcastRows(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Int64, []int64{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3}, Int64, []int64{10, 20, 30})

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expected := []int64{11, 22, 33, 14, 25, 36}
	if !reflect.DeepEqual(sum.Data, expected) {
		t.Errorf("Add = %v, expected %v", sum.Data, expected)
	}

	col, _ := NewTensor([]int{2, 1}, Int64, []int64{100, 200})
	sum, err = Add(a, col)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expected = []int64{101, 102, 103, 204, 205, 206}
	if !reflect.DeepEqual(sum.Data, expected) {
		t.Errorf("Add = %v, expected %v", sum.Data, expected)
	}
}

func TestAddErrors(t *testing.T) {
	a, _ := Zeros([]int{2}, Float32)
	b, _ := Zeros([]int{2}, Int64)
	if _, err := Add(a, b); !errors.Is(err, ErrDTypeMismatch) {
		t.Errorf("expected ErrDTypeMismatch, got %v", err)
	}
	c, _ := Zeros([]int{3}, Float32)
	if _, err := Add(a, c); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("expected ErrInvalidShape, got %v", err)
	}
}
