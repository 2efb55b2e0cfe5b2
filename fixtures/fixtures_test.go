package fixtures

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/fbnconform/graph"
	"github.com/tsawler/fbnconform/synth"
	"github.com/tsawler/fbnconform/tensor"
)

func TestChannelDimExamples(t *testing.T) {
	nhwc := TestCase{XShape: []int{2, 3, 4, 5}, Epsilon: 1e-4, DataFormat: NHWC, Version: V1}
	assert.Equal(t, 5, nhwc.ChannelDim())
	assert.Equal(t, []int{5}, nhwc.ParamShape())

	nchw := TestCase{XShape: []int{3, 2, 1, 5}, Epsilon: 3e-5, DataFormat: NCHW, Version: V3}
	assert.Equal(t, 2, nchw.ChannelDim())

	want := map[string][]int{
		"x":        {3, 2, 1, 5},
		"scale":    {2},
		"offset":   {2},
		"mean":     {2},
		"variance": {2},
	}
	if diff := cmp.Diff(want, nchw.InputsInfo()); diff != "" {
		t.Errorf("InputsInfo mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelDimShortShape(t *testing.T) {
	tc := TestCase{XShape: []int{2, 3}, Epsilon: 1e-3, DataFormat: NHWC, Version: V1}
	assert.Equal(t, 0, tc.ChannelDim())
	assert.Equal(t, []int{0}, tc.InputsInfo()[RoleScale])
	assert.ErrorIs(t, tc.Validate(), ErrInvalidCase)

	nchw := TestCase{XShape: []int{7, 3}, Epsilon: 1e-3, DataFormat: NCHW, Version: V1}
	assert.Equal(t, 3, nchw.ChannelDim())

	assert.Equal(t, 0, TestCase{DataFormat: NCHW}.ChannelDim())
}

func TestBasicCasesMatrix(t *testing.T) {
	cases := BasicCases()
	require.Len(t, cases, 7)

	versions := map[Version]int{}
	formats := map[DataFormat]int{}
	xfail := 0
	for _, tc := range cases {
		require.NoError(t, tc.Validate(), tc.ID())
		versions[tc.Version]++
		formats[tc.DataFormat]++

		// every training case is tracked under the same defect
		if tc.IsTraining {
			assert.Equal(t, DefectTrainingMode, tc.XFail, tc.ID())
			xfail++
		} else {
			assert.Empty(t, tc.XFail, tc.ID())
		}

		axis := 3
		if tc.DataFormat == NCHW {
			axis = 1
		}
		for role, shape := range tc.InputsInfo() {
			if role == RoleX {
				assert.Equal(t, tc.XShape, shape)
				continue
			}
			assert.Equal(t, []int{tc.XShape[axis]}, shape, "%s %s", tc.ID(), role)
		}
	}

	assert.Equal(t, 4, xfail)
	assert.Len(t, versions, 3)
	assert.Len(t, formats, 2)

	first := cases[0]
	assert.Equal(t, []int{2, 3, 4, 5}, first.XShape)
	assert.Equal(t, float32(0.0001), first.Epsilon)
	assert.Equal(t, float32(1), first.ExponentialAvgFactor)
	assert.Equal(t, V1, first.Version)

	last := cases[6]
	assert.Equal(t, []int{5, 4, 3, 2}, last.XShape)
	assert.Equal(t, NCHW, last.DataFormat)
	assert.False(t, last.IsTraining)
}

func TestBasicCasesReturnsFreshSlice(t *testing.T) {
	a := BasicCases()
	a[0].XShape[0] = 100
	b := BasicCases()
	assert.Equal(t, 2, b[0].XShape[0])
}

func TestCaseIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, tc := range BasicCases() {
		id := tc.ID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, "v1_NHWC_train_2x3x4x5_eps0.0001_f1", BasicCases()[0].ID())
	assert.Equal(t, "v3_NCHW_infer_5x4x3x2_eps0.0005_f0", BasicCases()[6].ID())
}

func TestFilter(t *testing.T) {
	all := BasicCases()
	assert.Len(t, Filter(all, true), 7)

	stable := Filter(all, false)
	assert.Len(t, stable, 3)
	for _, tc := range stable {
		assert.False(t, tc.ExpectedToFail())
	}
}

func TestValidate(t *testing.T) {
	valid := TestCase{XShape: []int{2, 3, 4, 5}, Epsilon: 1e-4, ExponentialAvgFactor: 0.5, DataFormat: NHWC, Version: V2}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*TestCase)
	}{
		{"rank", func(tc *TestCase) { tc.XShape = []int{2, 3, 4} }},
		{"zero dim", func(tc *TestCase) { tc.XShape = []int{2, 0, 4, 5} }},
		{"format", func(tc *TestCase) { tc.DataFormat = DataFormat(7) }},
		{"version", func(tc *TestCase) { tc.Version = Version(9) }},
		{"epsilon", func(tc *TestCase) { tc.Epsilon = 0 }},
		{"factor high", func(tc *TestCase) { tc.ExponentialAvgFactor = 1.5 }},
		{"factor low", func(tc *TestCase) { tc.ExponentialAvgFactor = -0.1 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tc := valid
			tc.XShape = append([]int(nil), valid.XShape...)
			test.mutate(&tc)
			assert.ErrorIs(t, tc.Validate(), ErrInvalidCase)
		})
	}

	assert.Panics(t, func() { TestCase{}.MustValidate() })
}

func TestParseAndMarshal(t *testing.T) {
	df, err := ParseDataFormat("nchw")
	require.NoError(t, err)
	assert.Equal(t, NCHW, df)
	_, err = ParseDataFormat("HWCN")
	assert.True(t, errors.Is(err, ErrUnknownDataFormat))

	v, err := ParseVersion("V3")
	require.NoError(t, err)
	assert.Equal(t, V3, v)
	_, err = ParseVersion("v4")
	assert.True(t, errors.Is(err, ErrUnknownVersion))

	data, err := json.Marshal(BasicCases()[2])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data_format":"NCHW"`)
	assert.Contains(t, string(data), `"fbn_version":"v3"`)
	assert.Contains(t, string(data), `"xfail":"97191"`)

	var decoded TestCase
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(BasicCases()[2], decoded); diff != "" {
		t.Errorf("decoded case mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildNetInference(t *testing.T) {
	tc := BasicCases()[5] // v2 NCHW inference
	net, err := BuildNet(tc)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "mean", "variance", "scale", "offset"}, net.Inputs)
	assert.Equal(t, []string{OutputY, OutputBatchMean, OutputBatchVar}, net.Outputs)

	bn, ok := net.Node(NodeFusedBatchNorm)
	require.True(t, ok)
	assert.Equal(t, graph.FusedBatchNormV2, bn.Op)
	assert.Equal(t, []string{"x", "scale", "offset", "mean_guarded", "variance_guarded"}, bn.Inputs)
	assert.Equal(t, "NCHW", bn.StringParam("data_format", ""))
	assert.False(t, bn.BoolParam("is_training", true))

	guard, ok := net.Node("mean_guarded")
	require.True(t, ok)
	assert.Equal(t, graph.AddV2, guard.Op)

	if diff := cmp.Diff(tc.InputsInfo(), net.InputShapes()); diff != "" {
		t.Errorf("graph inputs disagree with case (-want +got):\n%s", diff)
	}

	shape, err := net.Shape(OutputBatchVar)
	require.NoError(t, err)
	assert.Equal(t, []int{tc.ChannelDim()}, shape)
}

func TestBuildNetTraining(t *testing.T) {
	for _, tc := range BasicCases() {
		net, err := BuildNet(tc)
		require.NoError(t, err, tc.ID())

		_, guarded := net.Node("mean_guarded")
		assert.Equal(t, !tc.IsTraining, guarded, tc.ID())

		bn, _ := net.Node(NodeFusedBatchNorm)
		op, _ := tc.Version.OpType()
		assert.Equal(t, op, bn.Op)
		assert.Equal(t, tc.IsTraining, bn.BoolParam("is_training", !tc.IsTraining))
	}
}

func TestBuildNetRejectsInvalidCase(t *testing.T) {
	_, err := BuildNet(TestCase{XShape: []int{1, 2}, Epsilon: 1e-3, Version: V1})
	assert.ErrorIs(t, err, ErrInvalidCase)
}

func TestExpectedShapes(t *testing.T) {
	for _, tc := range BasicCases() {
		bundle, err := synth.NewSeeded(11).Prepare(tc.InputsInfo())
		require.NoError(t, err)

		out, err := Expected(tc, bundle)
		require.NoError(t, err, tc.ID())

		assert.Equal(t, tc.XShape, out[OutputY].Shape)
		assert.Equal(t, tc.ParamShape(), out[OutputBatchMean].Shape)
		assert.Equal(t, tc.ParamShape(), out[OutputBatchVar].Shape)
	}
}

func TestExpectedAppliesGuardInInference(t *testing.T) {
	tc := TestCase{XShape: []int{1, 1, 1, 2}, Epsilon: 1e-3, DataFormat: NHWC, Version: V1}
	mk := func(shape []int, v ...int64) *tensor.Tensor {
		out, err := tensor.NewTensor(shape, tensor.Int64, v)
		require.NoError(t, err)
		return out
	}
	inputs := map[string]*tensor.Tensor{
		RoleX:        mk([]int{1, 1, 1, 2}, 1, 1),
		RoleScale:    mk([]int{2}, 1, 1),
		RoleOffset:   mk([]int{2}, 0, 0),
		RoleMean:     mk([]int{2}, 0, 0),
		RoleVariance: mk([]int{2}, 0, 0),
	}

	out, err := Expected(tc, inputs)
	require.NoError(t, err)

	assert.Equal(t, []float32{2, 2}, out[OutputBatchMean].Data)
	assert.Equal(t, []float32{2, 2}, out[OutputBatchVar].Data)

	// inputs are left untouched
	raw := inputs[RoleMean].Data.([]int64)
	assert.Equal(t, []int64{0, 0}, raw)

	delete(inputs, RoleVariance)
	_, err = Expected(tc, inputs)
	assert.ErrorIs(t, err, ErrMissingInput)
}
