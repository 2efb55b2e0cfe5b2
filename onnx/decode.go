package onnx

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ModelInfo is the subset of a ModelProto needed to inspect exported fixtures
type ModelInfo struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Opset           int64
	GraphName       string
	Nodes           []NodeInfo
	Initializers    []TensorInfo
	Inputs          []ValueInfo
	Outputs         []ValueInfo
}

type NodeInfo struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes map[string]Attribute
}

type Attribute struct {
	Type AttributeType
	F    float32
	I    int64
	S    string
	Ints []int64
}

type TensorInfo struct {
	Name      string
	Dims      []int64
	FloatData []float32
}

type ValueInfo struct {
	Name string
	Dims []int64
}

// OpTypes lists node op types in graph order
func (m *ModelInfo) OpTypes() []string {
	out := make([]string, len(m.Nodes))
	for i, n := range m.Nodes {
		out[i] = n.OpType
	}
	return out
}

// Node finds a node by name
func (m *ModelInfo) Node(name string) (*NodeInfo, bool) {
	for i := range m.Nodes {
		if m.Nodes[i].Name == name {
			return &m.Nodes[i], true
		}
	}
	return nil, false
}

// Decode parses a serialized ModelProto
func Decode(data []byte) (*ModelInfo, error) {
	m := &ModelInfo{}
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte, v uint64) error {
		switch num {
		case modelIRVersion:
			m.IRVersion = int64(v)
		case modelProducerName:
			m.ProducerName = string(val)
		case modelProducerVersion:
			m.ProducerVersion = string(val)
		case modelOpsetImport:
			return forEachField(val, func(num protowire.Number, _ protowire.Type, _ []byte, v uint64) error {
				if num == opsetVersion {
					m.Opset = int64(v)
				}
				return nil
			})
		case modelGraph:
			return decodeGraph(m, val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode ONNX model: %w", err)
	}
	return m, nil
}

func decodeGraph(m *ModelInfo, b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte, v uint64) error {
		switch num {
		case graphName:
			m.GraphName = string(val)
		case graphNode:
			n, err := decodeNode(val)
			if err != nil {
				return err
			}
			m.Nodes = append(m.Nodes, n)
		case graphInitializer:
			t, err := decodeTensor(val)
			if err != nil {
				return err
			}
			m.Initializers = append(m.Initializers, t)
		case graphInput, graphOutput:
			vi, err := decodeValueInfo(val)
			if err != nil {
				return err
			}
			if num == graphInput {
				m.Inputs = append(m.Inputs, vi)
			} else {
				m.Outputs = append(m.Outputs, vi)
			}
		}
		return nil
	})
}

func decodeNode(b []byte) (NodeInfo, error) {
	n := NodeInfo{Attributes: map[string]Attribute{}}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte, v uint64) error {
		switch num {
		case nodeInput:
			n.Inputs = append(n.Inputs, string(val))
		case nodeOutput:
			n.Outputs = append(n.Outputs, string(val))
		case nodeName:
			n.Name = string(val)
		case nodeOpType:
			n.OpType = string(val)
		case nodeAttribute:
			name, a, err := decodeAttribute(val)
			if err != nil {
				return err
			}
			n.Attributes[name] = a
		}
		return nil
	})
	return n, err
}

func decodeAttribute(b []byte) (string, Attribute, error) {
	var name string
	var a Attribute
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte, v uint64) error {
		switch num {
		case attrName:
			name = string(val)
		case attrType:
			a.Type = AttributeType(v)
		case attrF:
			a.F = math.Float32frombits(uint32(v))
		case attrI:
			a.I = int64(v)
		case attrS:
			a.S = string(val)
		case attrInts:
			ints, err := consumeInts(typ, val, v)
			if err != nil {
				return err
			}
			a.Ints = append(a.Ints, ints...)
		}
		return nil
	})
	return name, a, err
}

func decodeTensor(b []byte) (TensorInfo, error) {
	var t TensorInfo
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte, v uint64) error {
		switch num {
		case tensorName:
			t.Name = string(val)
		case tensorDims:
			dims, err := consumeInts(typ, val, v)
			if err != nil {
				return err
			}
			t.Dims = append(t.Dims, dims...)
		case tensorFloatData:
			if typ == protowire.Fixed32Type {
				t.FloatData = append(t.FloatData, math.Float32frombits(uint32(v)))
				return nil
			}
			for len(val) > 0 {
				x, n := protowire.ConsumeFixed32(val)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.FloatData = append(t.FloatData, math.Float32frombits(x))
				val = val[n:]
			}
		}
		return nil
	})
	return t, err
}

// decodeValueInfo walks ValueInfoProto -> TypeProto -> Tensor -> Shape -> Dim
func decodeValueInfo(b []byte) (ValueInfo, error) {
	var vi ValueInfo
	err := forEachField(b, func(num protowire.Number, _ protowire.Type, val []byte, _ uint64) error {
		switch num {
		case valueInfoName:
			vi.Name = string(val)
		case valueInfoType:
			return forEachField(val, func(num protowire.Number, _ protowire.Type, val []byte, _ uint64) error {
				if num != typeTensorType {
					return nil
				}
				return forEachField(val, func(num protowire.Number, _ protowire.Type, val []byte, _ uint64) error {
					if num != tensorTypeShape {
						return nil
					}
					return forEachField(val, func(num protowire.Number, _ protowire.Type, val []byte, _ uint64) error {
						if num != shapeDim {
							return nil
						}
						return forEachField(val, func(num protowire.Number, _ protowire.Type, _ []byte, v uint64) error {
							if num == dimValue {
								vi.Dims = append(vi.Dims, int64(v))
							}
							return nil
						})
					})
				})
			})
		}
		return nil
	})
	return vi, err
}
