package synth

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/fbnconform/tensor"
)

func fullInfo() map[string][]int {
	return map[string][]int{
		"x":        {2, 3, 4, 5},
		"scale":    {5},
		"offset":   {5},
		"mean":     {5},
		"variance": {5},
	}
}

func TestPrepareShapesMatchRequest(t *testing.T) {
	info := fullInfo()
	bundle, err := NewUnseeded().Prepare(info)
	require.NoError(t, err)

	if diff := cmp.Diff(info, bundle.Shapes()); diff != "" {
		t.Errorf("bundle shapes mismatch (-want +got):\n%s", diff)
	}
	for name, tt := range bundle {
		assert.Equal(t, tensor.Int64, tt.DType, name)
	}
}

func TestPrepareRanges(t *testing.T) {
	s := NewSeeded(1)
	for iter := 0; iter < 20; iter++ {
		bundle, err := s.Prepare(fullInfo())
		require.NoError(t, err)

		for _, role := range roles {
			for _, v := range bundle[role.name].Data.([]int64) {
				require.GreaterOrEqual(t, v, role.rng.Low, "%s below range", role.name)
				require.Less(t, v, role.rng.High, "%s above range", role.name)
			}
		}

		for _, v := range bundle["variance"].Data.([]int64) {
			require.GreaterOrEqual(t, v, int64(0), "variance must be non-negative")
		}
	}
}

func TestRangesTable(t *testing.T) {
	want := map[string]Range{
		"x":        {-10, 10},
		"scale":    {-10, 10},
		"offset":   {-10, 10},
		"mean":     {-10, 10},
		"variance": {0, 10},
	}
	got := make(map[string]Range, len(roles))
	for _, role := range roles {
		got[role.name] = role.rng
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sampling ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepareOptionalRoles(t *testing.T) {
	info := map[string][]int{
		"x":      {3, 2, 1, 5},
		"scale":  {2},
		"offset": {2},
	}
	bundle, err := NewSeeded(3).Prepare(info)
	require.NoError(t, err)

	assert.Len(t, bundle, 3)
	assert.NotContains(t, bundle, "mean")
	assert.NotContains(t, bundle, "variance")

	info["variance"] = []int{2}
	bundle, err = NewSeeded(3).Prepare(info)
	require.NoError(t, err)
	assert.Contains(t, bundle, "variance")
	assert.NotContains(t, bundle, "mean")
}

func TestPrepareIgnoresUnknownRoles(t *testing.T) {
	info := fullInfo()
	info["reserve_space"] = []int{5}
	bundle, err := NewSeeded(3).Prepare(info)
	require.NoError(t, err)
	assert.NotContains(t, bundle, "reserve_space")
}

func TestPrepareMissingRequired(t *testing.T) {
	for _, role := range []string{"x", "scale", "offset"} {
		info := fullInfo()
		delete(info, role)
		_, err := NewSeeded(1).Prepare(info)
		assert.True(t, errors.Is(err, ErrMissingRole), "missing %s: %v", role, err)
	}
}

func TestPrepareInvalidShape(t *testing.T) {
	info := fullInfo()
	info["x"] = []int{2, 0, 4, 5}
	_, err := NewSeeded(1).Prepare(info)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)
}

func TestSeededIsDeterministic(t *testing.T) {
	a, err := NewSeeded(99).Prepare(fullInfo())
	require.NoError(t, err)
	b, err := NewSeeded(99).Prepare(fullInfo())
	require.NoError(t, err)

	for name := range a {
		assert.Equal(t, a[name].Data, b[name].Data, "role %s differs between runs with the same seed", name)
	}
}
