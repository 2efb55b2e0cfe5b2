// Package onnx serializes compiled FusedBatchNorm graphs as ONNX models.
package onnx

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/natefinch/atomic"

	"github.com/tsawler/fbnconform/graph"
)

var (
	ErrUnsupported = errors.New("unsupported for ONNX export")
	ErrRoundTrip   = errors.New("exported ONNX model does not decode to its graph")
)

const (
	DefaultIRVersion = 8
	DefaultOpset     = 15
	ProducerName     = "fbnconform"
	ProducerVersion  = "1.0.0"
)

// Exporter handles conversion of compiled graphs to ONNX format
type Exporter struct {
	IRVersion       int64
	Opset           int64
	ProducerName    string
	ProducerVersion string
	DocString       string
}

// NewExporter creates an exporter with the default IR version and opset
func NewExporter() *Exporter {
	return &Exporter{
		IRVersion:       DefaultIRVersion,
		Opset:           DefaultOpset,
		ProducerName:    ProducerName,
		ProducerVersion: ProducerVersion,
	}
}

// Export encodes g as a serialized ModelProto
func (e *Exporter) Export(g *graph.GraphSpec, name string) ([]byte, error) {
	if g == nil || !g.Compiled {
		return nil, fmt.Errorf("%w: graph is not compiled", ErrUnsupported)
	}

	graphBytes, err := e.buildGraph(g, name)
	if err != nil {
		return nil, fmt.Errorf("failed to build ONNX graph: %w", err)
	}

	var b []byte
	b = appendVarint(b, modelIRVersion, uint64(e.IRVersion))
	b = appendString(b, modelProducerName, e.ProducerName)
	b = appendString(b, modelProducerVersion, e.ProducerVersion)
	b = appendVarint(b, modelModelVersion, 1)
	if e.DocString != "" {
		b = appendString(b, modelDocString, e.DocString)
	}
	b = appendMessage(b, modelGraph, graphBytes)

	var opset []byte
	opset = appendString(opset, opsetDomain, "")
	opset = appendVarint(opset, opsetVersion, uint64(e.Opset))
	b = appendMessage(b, modelOpsetImport, opset)

	return b, nil
}

// ExportToFile writes the model to path atomically
func (e *Exporter) ExportToFile(g *graph.GraphSpec, name, path string) error {
	data, err := e.Export(g, name)
	if err != nil {
		return err
	}
	if err := e.check(data, g, name); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write ONNX file: %w", err)
	}
	return nil
}

// check decodes data and compares the header and graph signature with what
// Export was asked to write.
func (e *Exporter) check(data []byte, g *graph.GraphSpec, name string) error {
	info, err := Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRoundTrip, err)
	}
	switch {
	case info.IRVersion != e.IRVersion:
		return fmt.Errorf("%w: ir_version %d, want %d", ErrRoundTrip, info.IRVersion, e.IRVersion)
	case info.Opset != e.Opset:
		return fmt.Errorf("%w: opset %d, want %d", ErrRoundTrip, info.Opset, e.Opset)
	case info.GraphName != name:
		return fmt.Errorf("%w: graph name %q, want %q", ErrRoundTrip, info.GraphName, name)
	case len(info.Inputs) != len(g.Inputs) || len(info.Outputs) != len(g.Outputs):
		return fmt.Errorf("%w: %d inputs and %d outputs, want %d and %d", ErrRoundTrip,
			len(info.Inputs), len(info.Outputs), len(g.Inputs), len(g.Outputs))
	}

	for i, in := range info.Inputs {
		if in.Name != g.Inputs[i] {
			return fmt.Errorf("%w: input %d is %q, want %q", ErrRoundTrip, i, in.Name, g.Inputs[i])
		}
		shape, err := g.Shape(in.Name)
		if err != nil {
			return err
		}
		if !sameDims(in.Dims, shape) {
			return fmt.Errorf("%w: input %s dims %v, want %v", ErrRoundTrip, in.Name, in.Dims, shape)
		}
	}
	for i, out := range info.Outputs {
		shape, err := g.Shape(g.Outputs[i])
		if err != nil {
			return err
		}
		if !sameDims(out.Dims, shape) {
			return fmt.Errorf("%w: output %s dims %v, want %v", ErrRoundTrip, out.Name, out.Dims, shape)
		}
	}
	return nil
}

func sameDims(dims []int64, shape []int) bool {
	return slices.EqualFunc(dims, shape, func(d int64, s int) bool { return d == int64(s) })
}

// graphWriter accumulates nodes and initializers while tracking which ONNX
// tensor name each graph reference resolves to.
type graphWriter struct {
	nodes        [][]byte
	initializers [][]byte
	names        map[string]string
}

func (e *Exporter) buildGraph(g *graph.GraphSpec, name string) ([]byte, error) {
	w := &graphWriter{names: make(map[string]string)}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		var err error
		switch {
		case node.Op == graph.Placeholder:
			w.names[node.Name] = node.Name
		case node.Op == graph.Const:
			w.initializers = append(w.initializers, createTensorProto(node.Name, nil, []float32{node.FloatParam("value", 0)}))
			w.names[node.Name] = node.Name
		case node.Op == graph.AddV2:
			err = w.simpleNode(node, "Add")
		case node.Op == graph.Identity:
			err = w.simpleNode(node, "Identity")
		case node.Op.IsFusedBatchNorm():
			err = w.batchNormNodes(node)
		default:
			err = fmt.Errorf("%w: op %s", ErrUnsupported, node.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name, err)
		}
	}

	var b []byte
	for _, n := range w.nodes {
		b = appendMessage(b, graphNode, n)
	}
	b = appendString(b, graphName, name)
	for _, init := range w.initializers {
		b = appendMessage(b, graphInitializer, init)
	}
	b = appendString(b, graphDocString, "FusedBatchNorm conformance fixture")

	for _, in := range g.Inputs {
		shape, err := g.Shape(in)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, graphInput, createValueInfo(in, shape))
	}
	for _, out := range g.Outputs {
		shape, err := g.Shape(out)
		if err != nil {
			return nil, err
		}
		tensorName, err := w.resolve(out)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, graphOutput, createValueInfo(tensorName, shape))
	}

	return b, nil
}

func (w *graphWriter) resolve(ref string) (string, error) {
	if name, ok := w.names[ref]; ok {
		return name, nil
	}
	name, idx, err := graph.ParseRef(ref)
	if err != nil {
		return "", err
	}
	if idx == 0 {
		if n, ok := w.names[name]; ok {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: tensor %q has no ONNX equivalent", ErrUnsupported, ref)
}

func (w *graphWriter) simpleNode(node *graph.NodeSpec, opType string) error {
	inputs := make([]string, len(node.Inputs))
	for i, ref := range node.Inputs {
		name, err := w.resolve(ref)
		if err != nil {
			return err
		}
		inputs[i] = name
	}
	w.nodes = append(w.nodes, createNode(node.Name, opType, inputs, []string{node.Name}, nil))
	w.names[node.Name] = node.Name
	return nil
}

// batchNormNodes lowers FusedBatchNorm to BatchNormalization. ONNX expects
// NCHW, so NHWC inputs are wrapped in a pair of Transpose nodes.
//
// ONNX blends running statistics as input*momentum + batch*(1-momentum), so
// momentum is 1 - exponential_avg_factor. ONNX uses the population variance
// for running_var where TensorFlow reports the Bessel-corrected one.
func (w *graphWriter) batchNormNodes(node *graph.NodeSpec) error {
	inputs := make([]string, len(node.Inputs))
	for i, ref := range node.Inputs {
		name, err := w.resolve(ref)
		if err != nil {
			return err
		}
		inputs[i] = name
	}

	format := node.StringParam("data_format", "NHWC")
	training := node.BoolParam("is_training", false)

	x := inputs[0]
	if format == "NHWC" {
		transposed := node.Name + "_x_nchw"
		w.nodes = append(w.nodes, createNode(node.Name+"_to_nchw", "Transpose", []string{x}, []string{transposed},
			[][]byte{intsAttribute("perm", []int64{0, 3, 1, 2})}))
		x = transposed
	}

	y := node.Name + "_y"
	bnOut := y
	if format == "NHWC" {
		bnOut = node.Name + "_y_nchw"
	}

	outputs := []string{bnOut}
	meanOut, varOut := inputs[3], inputs[4]
	trainingMode := int64(0)
	if training {
		meanOut = node.Name + "_running_mean"
		varOut = node.Name + "_running_var"
		outputs = append(outputs, meanOut, varOut)
		trainingMode = 1
	}

	attrs := [][]byte{
		floatAttribute("epsilon", node.FloatParam("epsilon", 1e-5)),
		floatAttribute("momentum", 1-node.FloatParam("exponential_avg_factor", 1)),
		intAttribute("training_mode", trainingMode),
	}
	w.nodes = append(w.nodes, createNode(node.Name, "BatchNormalization",
		[]string{x, inputs[1], inputs[2], inputs[3], inputs[4]}, outputs, attrs))

	if format == "NHWC" {
		w.nodes = append(w.nodes, createNode(node.Name+"_to_nhwc", "Transpose", []string{bnOut}, []string{y},
			[][]byte{intsAttribute("perm", []int64{0, 2, 3, 1})}))
	}

	w.names[node.Name] = y
	w.names[node.Name+":0"] = y
	w.names[node.Name+":1"] = meanOut
	w.names[node.Name+":2"] = varOut
	return nil
}

func createNode(name, opType string, inputs, outputs []string, attrs [][]byte) []byte {
	var b []byte
	for _, in := range inputs {
		b = appendString(b, nodeInput, in)
	}
	for _, out := range outputs {
		b = appendString(b, nodeOutput, out)
	}
	b = appendString(b, nodeName, name)
	b = appendString(b, nodeOpType, opType)
	for _, a := range attrs {
		b = appendMessage(b, nodeAttribute, a)
	}
	return b
}

func floatAttribute(name string, f float32) []byte {
	var b []byte
	b = appendString(b, attrName, name)
	b = appendFloat(b, attrF, f)
	return appendVarint(b, attrType, uint64(AttrFloat))
}

func intAttribute(name string, i int64) []byte {
	var b []byte
	b = appendString(b, attrName, name)
	b = appendVarint(b, attrI, uint64(i))
	return appendVarint(b, attrType, uint64(AttrInt))
}

func intsAttribute(name string, ints []int64) []byte {
	var b []byte
	b = appendString(b, attrName, name)
	for _, v := range ints {
		b = appendVarint(b, attrInts, uint64(v))
	}
	return appendVarint(b, attrType, uint64(AttrInts))
}

// createTensorProto creates a FLOAT initializer; a nil shape is a scalar
func createTensorProto(name string, shape []int, data []float32) []byte {
	var b []byte
	for _, d := range shape {
		b = appendVarint(b, tensorDims, uint64(d))
	}
	b = appendVarint(b, tensorDataType, DataTypeFloat)
	b = appendPackedFloats(b, tensorFloatData, data)
	return appendString(b, tensorName, name)
}

// createValueInfo creates a FLOAT tensor ValueInfoProto with static dims
func createValueInfo(name string, shape []int) []byte {
	var dims []byte
	for _, d := range shape {
		var dim []byte
		dim = appendVarint(dim, dimValue, uint64(d))
		dims = appendMessage(dims, shapeDim, dim)
	}

	var tensorType []byte
	tensorType = appendVarint(tensorType, tensorTypeElemType, DataTypeFloat)
	tensorType = appendMessage(tensorType, tensorTypeShape, dims)

	var typ []byte
	typ = appendMessage(typ, typeTensorType, tensorType)

	var b []byte
	b = appendString(b, valueInfoName, name)
	return appendMessage(b, valueInfoType, typ)
}
