package fixtures

import (
	"fmt"

	"github.com/tsawler/fbnconform/reference"
	"github.com/tsawler/fbnconform/tensor"
)

// Expected evaluates the case's network on inputs with the reference
// implementation, applying the same statistics guard BuildNet inserts.
// Results are keyed by output name.
func Expected(tc TestCase, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	feeds := make(map[string]*tensor.Tensor, 5)
	for _, role := range []string{RoleX, RoleScale, RoleOffset, RoleMean, RoleVariance} {
		t, ok := inputs[role]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, role)
		}
		f, err := t.ToFloat32()
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", role, err)
		}
		feeds[role] = f
	}

	if !tc.IsTraining {
		guard, err := tensor.Full([]int{}, float32(statsGuard), tensor.Float32)
		if err != nil {
			return nil, err
		}
		for _, role := range []string{RoleMean, RoleVariance} {
			guarded, err := tensor.Add(feeds[role], guard)
			if err != nil {
				return nil, fmt.Errorf("guard %s: %w", role, err)
			}
			feeds[role] = guarded
		}
	}

	out, err := reference.FusedBatchNorm(feeds[RoleX], feeds[RoleScale], feeds[RoleOffset], feeds[RoleMean], feeds[RoleVariance], reference.Attrs{
		Epsilon:              tc.Epsilon,
		ExponentialAvgFactor: tc.ExponentialAvgFactor,
		DataFormat:           tc.DataFormat.String(),
		IsTraining:           tc.IsTraining,
	})
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", tc.ID(), err)
	}

	return map[string]*tensor.Tensor{
		OutputY:         out.Y,
		OutputBatchMean: out.BatchMean,
		OutputBatchVar:  out.BatchVariance,
	}, nil
}
