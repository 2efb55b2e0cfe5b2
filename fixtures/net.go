package fixtures

import (
	"fmt"

	"github.com/tsawler/fbnconform/graph"
)

// Node and output names of the FusedBatchNorm network.
const (
	NodeFusedBatchNorm = "FusedBatchNorm"
	OutputY            = "y"
	OutputBatchMean    = "batch_mean"
	OutputBatchVar     = "batch_variance"

	// statsGuard is added to mean and variance in inference mode.
	statsGuard = 2.0
)

// BuildNet constructs the graph for one case. Outside training mode the mean
// and variance placeholders are routed through AddV2 with a constant: the
// layer test infrastructure resolves Parameter tensor names with a single-name
// lookup, which breaks when a Parameter is fused with a node carrying several
// names.
func BuildNet(tc TestCase) (*graph.GraphSpec, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	op, err := tc.Version.OpType()
	if err != nil {
		return nil, err
	}

	param := tc.ParamShape()
	gb := graph.NewGraphBuilder().
		AddPlaceholder(RoleX, tc.XShape).
		AddPlaceholder(RoleMean, param).
		AddPlaceholder(RoleVariance, param).
		AddPlaceholder(RoleScale, param).
		AddPlaceholder(RoleOffset, param)

	mean, variance := RoleMean, RoleVariance
	if !tc.IsTraining {
		gb.AddConst("mean_guard", statsGuard).
			AddAddV2("mean_guarded", RoleMean, "mean_guard").
			AddConst("variance_guard", statsGuard).
			AddAddV2("variance_guarded", RoleVariance, "variance_guard")
		mean, variance = "mean_guarded", "variance_guarded"
	}

	gb.AddFusedBatchNorm(op, NodeFusedBatchNorm, RoleX, RoleScale, RoleOffset, mean, variance, graph.FusedBatchNormAttrs{
		Epsilon:              tc.Epsilon,
		ExponentialAvgFactor: tc.ExponentialAvgFactor,
		DataFormat:           tc.DataFormat.String(),
		IsTraining:           tc.IsTraining,
	}).
		AddIdentity(OutputY, NodeFusedBatchNorm).
		AddIdentity(OutputBatchMean, NodeFusedBatchNorm+":1").
		AddIdentity(OutputBatchVar, NodeFusedBatchNorm+":2").
		MarkOutput(OutputY, OutputBatchMean, OutputBatchVar)

	net, err := gb.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", tc.ID(), err)
	}
	return net, nil
}
