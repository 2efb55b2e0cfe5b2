package graph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tsawler/fbnconform/tensor"
)

var (
	ErrInvalidGraph    = errors.New("invalid graph")
	ErrChannelMismatch = errors.New("channel dimension mismatch")
)

// OpType represents the type of graph operation
type OpType int

const (
	Placeholder OpType = iota
	Const
	AddV2
	FusedBatchNorm
	FusedBatchNormV2
	FusedBatchNormV3
	Identity
)

func (op OpType) String() string {
	switch op {
	case Placeholder:
		return "Placeholder"
	case Const:
		return "Const"
	case AddV2:
		return "AddV2"
	case FusedBatchNorm:
		return "FusedBatchNorm"
	case FusedBatchNormV2:
		return "FusedBatchNormV2"
	case FusedBatchNormV3:
		return "FusedBatchNormV3"
	case Identity:
		return "Identity"
	default:
		return "Unknown"
	}
}

// IsFusedBatchNorm reports whether op is one of the FusedBatchNorm versions.
func (op OpType) IsFusedBatchNorm() bool {
	return op == FusedBatchNorm || op == FusedBatchNormV2 || op == FusedBatchNormV3
}

// NumOutputs returns how many tensors a node of this type produces.
func (op OpType) NumOutputs() int {
	switch op {
	case FusedBatchNorm, FusedBatchNormV2:
		return 5
	case FusedBatchNormV3:
		return 6
	default:
		return 1
	}
}

// NodeSpec defines a single graph operation
// This is pure configuration - no execution logic
type NodeSpec struct {
	Op         OpType                 `json:"op"`
	Name       string                 `json:"name"`
	Inputs     []string               `json:"inputs,omitempty"`
	Parameters map[string]interface{} `json:"parameters"`

	// Computed during graph compilation
	OutputShapes [][]int `json:"output_shapes,omitempty"`
}

// GraphSpec is a compiled computation graph handed to the conversion
// collaborator. Nodes are stored in topological order.
type GraphSpec struct {
	Nodes    []NodeSpec `json:"nodes"`
	Inputs   []string   `json:"inputs"`
	Outputs  []string   `json:"outputs"`
	Compiled bool       `json:"compiled"`
}

// FusedBatchNormAttrs holds the attributes of a FusedBatchNorm node.
type FusedBatchNormAttrs struct {
	Epsilon              float32
	ExponentialAvgFactor float32
	DataFormat           string
	IsTraining           bool
}

// GraphBuilder helps construct computation graphs
type GraphBuilder struct {
	nodes   []NodeSpec
	outputs []string
}

// NewGraphBuilder creates a new graph builder
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{}
}

// AddNode appends a node to the graph
func (gb *GraphBuilder) AddNode(node NodeSpec) *GraphBuilder {
	gb.nodes = append(gb.nodes, node)
	return gb
}

// AddPlaceholder adds a float32 graph input of a fixed shape
func (gb *GraphBuilder) AddPlaceholder(name string, shape []int) *GraphBuilder {
	s := make([]int, len(shape))
	copy(s, shape)
	return gb.AddNode(NodeSpec{
		Op:   Placeholder,
		Name: name,
		Parameters: map[string]interface{}{
			"shape": s,
			"dtype": "float32",
		},
	})
}

// AddConst adds a scalar float32 constant
func (gb *GraphBuilder) AddConst(name string, value float32) *GraphBuilder {
	return gb.AddNode(NodeSpec{
		Op:   Const,
		Name: name,
		Parameters: map[string]interface{}{
			"value": value,
			"dtype": "float32",
		},
	})
}

// AddAddV2 adds an element-wise addition; y may be a scalar
func (gb *GraphBuilder) AddAddV2(name, x, y string) *GraphBuilder {
	return gb.AddNode(NodeSpec{
		Op:         AddV2,
		Name:       name,
		Inputs:     []string{x, y},
		Parameters: map[string]interface{}{},
	})
}

// AddFusedBatchNorm adds a FusedBatchNorm node of the given version
func (gb *GraphBuilder) AddFusedBatchNorm(op OpType, name, x, scale, offset, mean, variance string, attrs FusedBatchNormAttrs) *GraphBuilder {
	return gb.AddNode(NodeSpec{
		Op:     op,
		Name:   name,
		Inputs: []string{x, scale, offset, mean, variance},
		Parameters: map[string]interface{}{
			"epsilon":                attrs.Epsilon,
			"exponential_avg_factor": attrs.ExponentialAvgFactor,
			"data_format":            attrs.DataFormat,
			"is_training":            attrs.IsTraining,
		},
	})
}

// AddIdentity adds a named passthrough of input
func (gb *GraphBuilder) AddIdentity(name, input string) *GraphBuilder {
	return gb.AddNode(NodeSpec{
		Op:         Identity,
		Name:       name,
		Inputs:     []string{input},
		Parameters: map[string]interface{}{},
	})
}

// MarkOutput declares graph outputs by node name
func (gb *GraphBuilder) MarkOutput(names ...string) *GraphBuilder {
	gb.outputs = append(gb.outputs, names...)
	return gb
}

// Compile validates the graph and computes output shapes
func (gb *GraphBuilder) Compile() (*GraphSpec, error) {
	if len(gb.nodes) == 0 {
		return nil, fmt.Errorf("%w: cannot compile empty graph", ErrInvalidGraph)
	}

	g := &GraphSpec{
		Nodes:   make([]NodeSpec, len(gb.nodes)),
		Outputs: append([]string(nil), gb.outputs...),
	}
	copy(g.Nodes, gb.nodes)

	shapes := make(map[string][][]int, len(g.Nodes))

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Name == "" {
			return nil, fmt.Errorf("%w: node %d has no name", ErrInvalidGraph, i)
		}
		if _, dup := shapes[node.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate node name %q", ErrInvalidGraph, node.Name)
		}

		inputShapes := make([][]int, len(node.Inputs))
		for j, ref := range node.Inputs {
			shape, err := resolve(shapes, ref)
			if err != nil {
				return nil, fmt.Errorf("node %s input %d: %w", node.Name, j, err)
			}
			inputShapes[j] = shape
		}

		outputShapes, err := computeNodeInfo(node, inputShapes)
		if err != nil {
			return nil, fmt.Errorf("failed to compute node %d (%s) info: %w", i, node.Name, err)
		}
		node.OutputShapes = outputShapes
		shapes[node.Name] = outputShapes

		if node.Op == Placeholder {
			g.Inputs = append(g.Inputs, node.Name)
		}
	}

	if len(g.Outputs) == 0 {
		return nil, fmt.Errorf("%w: graph has no outputs", ErrInvalidGraph)
	}
	for _, out := range g.Outputs {
		if _, err := resolve(shapes, out); err != nil {
			return nil, fmt.Errorf("output %s: %w", out, err)
		}
	}

	g.Compiled = true
	return g, nil
}

// ParseRef splits a tensor reference "node:idx" into its parts. A bare node
// name refers to output 0.
func ParseRef(ref string) (string, int, error) {
	name, idxStr, found := strings.Cut(ref, ":")
	if !found {
		return ref, 0, nil
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("%w: bad tensor reference %q", ErrInvalidGraph, ref)
	}
	return name, idx, nil
}

func resolve(shapes map[string][][]int, ref string) ([]int, error) {
	name, idx, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	outs, ok := shapes[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %q", ErrInvalidGraph, name)
	}
	if idx >= len(outs) {
		return nil, fmt.Errorf("%w: node %q has %d outputs, %d requested", ErrInvalidGraph, name, len(outs), idx)
	}
	return outs[idx], nil
}

func computeNodeInfo(node *NodeSpec, inputShapes [][]int) ([][]int, error) {
	switch {
	case node.Op == Placeholder:
		return computePlaceholderInfo(node)
	case node.Op == Const:
		return [][]int{{}}, nil
	case node.Op == AddV2:
		return computeAddInfo(inputShapes)
	case node.Op.IsFusedBatchNorm():
		return computeFusedBatchNormInfo(node, inputShapes)
	case node.Op == Identity:
		if len(inputShapes) != 1 {
			return nil, fmt.Errorf("%w: Identity takes one input", ErrInvalidGraph)
		}
		return [][]int{copyShape(inputShapes[0])}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported op type: %s", ErrInvalidGraph, node.Op.String())
	}
}

func computePlaceholderInfo(node *NodeSpec) ([][]int, error) {
	shape, ok := node.Parameters["shape"].([]int)
	if !ok {
		return nil, fmt.Errorf("%w: placeholder missing shape parameter", ErrInvalidGraph)
	}
	for i, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("%w: placeholder dimension %d has size %d", ErrInvalidGraph, i, d)
		}
	}
	return [][]int{copyShape(shape)}, nil
}

func computeAddInfo(inputShapes [][]int) ([][]int, error) {
	if len(inputShapes) != 2 {
		return nil, fmt.Errorf("%w: AddV2 takes two inputs", ErrInvalidGraph)
	}
	shape, err := tensor.BroadcastShapes(inputShapes[0], inputShapes[1])
	if err != nil {
		return nil, fmt.Errorf("%w: AddV2: %w", ErrInvalidGraph, err)
	}
	return [][]int{shape}, nil
}

// computeFusedBatchNormInfo checks every per-channel input against the channel
// axis selected by data_format
func computeFusedBatchNormInfo(node *NodeSpec, inputShapes [][]int) ([][]int, error) {
	if len(inputShapes) != 5 {
		return nil, fmt.Errorf("%w: %s takes 5 inputs, got %d", ErrInvalidGraph, node.Op, len(inputShapes))
	}

	xShape := inputShapes[0]
	if len(xShape) != 4 {
		return nil, fmt.Errorf("%w: %s requires 4D input, got %v", ErrInvalidGraph, node.Op, xShape)
	}

	axis, err := ChannelAxis(getStringParam(node.Parameters, "data_format", "NHWC"))
	if err != nil {
		return nil, err
	}
	channels := xShape[axis]

	if eps := getFloatParam(node.Parameters, "epsilon", 0); eps <= 0 {
		return nil, fmt.Errorf("%w: epsilon must be positive, got %g", ErrInvalidGraph, eps)
	}

	roles := []string{"scale", "offset", "mean", "variance"}
	for i, role := range roles {
		shape := inputShapes[i+1]
		if len(shape) != 1 || shape[0] != channels {
			return nil, fmt.Errorf("%w: %s shape %v, expected [%d]", ErrChannelMismatch, role, shape, channels)
		}
	}

	outputs := make([][]int, node.Op.NumOutputs())
	outputs[0] = copyShape(xShape)
	for i := 1; i < len(outputs); i++ {
		outputs[i] = []int{channels}
	}
	return outputs, nil
}

// ChannelAxis returns the channel axis of a 4-D tensor for a layout name.
func ChannelAxis(dataFormat string) (int, error) {
	switch dataFormat {
	case "NHWC":
		return 3, nil
	case "NCHW":
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: unknown data format %q", ErrInvalidGraph, dataFormat)
	}
}

// Node returns the node with the given name
func (g *GraphSpec) Node(name string) (*NodeSpec, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].Name == name {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Shape returns the shape of a tensor reference in a compiled graph
func (g *GraphSpec) Shape(ref string) ([]int, error) {
	name, idx, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	node, ok := g.Node(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %q", ErrInvalidGraph, name)
	}
	if idx >= len(node.OutputShapes) {
		return nil, fmt.Errorf("%w: node %q has %d outputs, %d requested", ErrInvalidGraph, name, len(node.OutputShapes), idx)
	}
	return copyShape(node.OutputShapes[idx]), nil
}

// InputShapes returns placeholder name -> shape, the form the input
// synthesizer consumes
func (g *GraphSpec) InputShapes() map[string][]int {
	info := make(map[string][]int, len(g.Inputs))
	for _, name := range g.Inputs {
		if node, ok := g.Node(name); ok && len(node.OutputShapes) > 0 {
			info[name] = copyShape(node.OutputShapes[0])
		}
	}
	return info
}

// Summary returns a human-readable graph summary
func (g *GraphSpec) Summary() string {
	if !g.Compiled {
		return "Graph not compiled"
	}

	var sb strings.Builder
	sb.WriteString("Graph Summary:\n")
	sb.WriteString(fmt.Sprintf("Inputs: %v\n", g.Inputs))
	sb.WriteString(fmt.Sprintf("Outputs: %v\n", g.Outputs))
	sb.WriteString(fmt.Sprintf("Nodes: %d\n\n", len(g.Nodes)))

	for i, node := range g.Nodes {
		sb.WriteString(fmt.Sprintf("Node %d: %s (%s)\n", i+1, node.Name, node.Op.String()))
		if len(node.Inputs) > 0 {
			sb.WriteString(fmt.Sprintf("  Inputs:  %v\n", node.Inputs))
		}
		sb.WriteString(fmt.Sprintf("  Outputs: %v\n", node.OutputShapes))
		if len(node.Parameters) > 0 {
			sb.WriteString(fmt.Sprintf("  Config: %v\n", node.Parameters))
		}
	}

	return sb.String()
}

func getStringParam(params map[string]interface{}, key string, defaultValue string) string {
	if val, exists := params[key]; exists {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultValue
}

func getBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, exists := params[key]; exists {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultValue
}

func getFloatParam(params map[string]interface{}, key string, defaultValue float32) float32 {
	if val, exists := params[key]; exists {
		switch v := val.(type) {
		case float32:
			return v
		case float64:
			return float32(v)
		case int:
			return float32(v)
		}
	}
	return defaultValue
}

// FloatParam, BoolParam and StringParam read typed node parameters with a
// fallback.
func (n *NodeSpec) FloatParam(key string, defaultValue float32) float32 {
	return getFloatParam(n.Parameters, key, defaultValue)
}

func (n *NodeSpec) BoolParam(key string, defaultValue bool) bool {
	return getBoolParam(n.Parameters, key, defaultValue)
}

func (n *NodeSpec) StringParam(key string, defaultValue string) string {
	return getStringParam(n.Parameters, key, defaultValue)
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
