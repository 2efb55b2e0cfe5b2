package reference

import (
	"fmt"
	"math"

	"github.com/tsawler/fbnconform/tensor"
)

// Tolerance defines acceptable numeric drift versus reference outputs.
type Tolerance struct {
	Abs float64 `json:"abs"`
	Rel float64 `json:"rel"`
}

// PrecisionTolerances are the comparison bounds recorded with each fixture.
var PrecisionTolerances = map[string]Tolerance{
	"FP32": {Abs: 1e-4, Rel: 1e-4},
	"FP16": {Abs: 1e-2, Rel: 5e-3},
}

func PrecisionTolerance(precision string) (Tolerance, error) {
	t, ok := PrecisionTolerances[precision]
	if !ok {
		return Tolerance{}, fmt.Errorf("reference: no tolerance configured for precision %q", precision)
	}
	return t, nil
}

// AllClose reports whether |a-b| <= Abs + Rel*|b| holds element-wise, and
// the first index that violates it.
func AllClose(a, b *tensor.Tensor, tol Tolerance) (bool, int, error) {
	if a.NumElems != b.NumElems {
		return false, -1, fmt.Errorf("element count mismatch: %d vs %d", a.NumElems, b.NumElems)
	}
	af, err := floats(a, "a")
	if err != nil {
		return false, -1, err
	}
	bf, err := floats(b, "b")
	if err != nil {
		return false, -1, err
	}
	for i := range af {
		diff := math.Abs(float64(af[i]) - float64(bf[i]))
		if diff > tol.Abs+tol.Rel*math.Abs(float64(bf[i])) {
			return false, i, nil
		}
	}
	return true, -1, nil
}
