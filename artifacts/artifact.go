// Package artifacts persists generated fixtures as JSON documents and ONNX
// models.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/tsawler/fbnconform/fixtures"
	"github.com/tsawler/fbnconform/graph"
	"github.com/tsawler/fbnconform/onnx"
	"github.com/tsawler/fbnconform/reference"
	"github.com/tsawler/fbnconform/tensor"
)

var (
	ErrUnknownFormat = errors.New("unknown artifact format")
	ErrNoNetwork     = errors.New("ONNX artifact requires a network")
	ErrMismatch      = errors.New("fixture does not match the reference")
)

// Format defines the serialization format
type Format int

const (
	FormatJSON Format = iota
	FormatONNX
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// Extension returns the file suffix for the format
func (f Format) Extension() string {
	switch f {
	case FormatONNX:
		return ".onnx"
	default:
		return ".json"
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "onnx":
		return FormatONNX, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Fixture is everything a comparison run needs for one case on one device
// and precision
type Fixture struct {
	Case      fixtures.TestCase   `json:"case"`
	Inputs    []Tensor            `json:"inputs"`
	Expected  []Tensor            `json:"expected,omitempty"`
	Tolerance reference.Tolerance `json:"tolerance"`
	Metadata  Metadata            `json:"metadata"`
}

// Tensor is a named tensor with its data widened to float64 for JSON
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	DType string    `json:"dtype"`
	Data  []float64 `json:"data"`
}

// Metadata contains fixture metadata
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id"`
	Seed        int64     `json:"seed"`
	Device      string    `json:"device"`
	Precision   string    `json:"precision"`
	IRVersion   int       `json:"ir_version"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// NewFixture captures inputs and expected outputs, ordered by name
func NewFixture(tc fixtures.TestCase, inputs, expected map[string]*tensor.Tensor, tol reference.Tolerance, meta Metadata) (*Fixture, error) {
	in, err := toTensors(inputs)
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	exp, err := toTensors(expected)
	if err != nil {
		return nil, fmt.Errorf("expected: %w", err)
	}
	if tc.ExpectedToFail() {
		meta.Tags = append(meta.Tags, "xfail:"+tc.XFail)
	}
	return &Fixture{
		Case:      tc,
		Inputs:    in,
		Expected:  exp,
		Tolerance: tol,
		Metadata:  meta,
	}, nil
}

func toTensors(m map[string]*tensor.Tensor) ([]Tensor, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tensor, 0, len(names))
	for _, name := range names {
		t := m[name]
		data := make([]float64, t.NumElems)
		switch d := t.Data.(type) {
		case []float32:
			for i, v := range d {
				data[i] = float64(v)
			}
		case []int32:
			for i, v := range d {
				data[i] = float64(v)
			}
		case []int64:
			for i, v := range d {
				data[i] = float64(v)
			}
		default:
			return nil, fmt.Errorf("%s: unsupported dtype %s", name, t.DType)
		}
		out = append(out, Tensor{Name: name, Shape: t.Size(), DType: t.DType.String(), Data: data})
	}
	return out, nil
}

// ToTensor rebuilds a host tensor of the recorded dtype
func (t Tensor) ToTensor() (*tensor.Tensor, error) {
	switch t.DType {
	case tensor.Float32.String():
		data := make([]float32, len(t.Data))
		for i, v := range t.Data {
			data[i] = float32(v)
		}
		return tensor.NewTensor(t.Shape, tensor.Float32, data)
	case tensor.Int32.String():
		data := make([]int32, len(t.Data))
		for i, v := range t.Data {
			data[i] = int32(v)
		}
		return tensor.NewTensor(t.Shape, tensor.Int32, data)
	case tensor.Int64.String():
		data := make([]int64, len(t.Data))
		for i, v := range t.Data {
			data[i] = int64(v)
		}
		return tensor.NewTensor(t.Shape, tensor.Int64, data)
	default:
		return nil, fmt.Errorf("tensor %s: unsupported dtype %q", t.Name, t.DType)
	}
}

// Input returns the named input tensor
func (f *Fixture) Input(name string) (*tensor.Tensor, error) {
	for _, t := range f.Inputs {
		if t.Name == name {
			return t.ToTensor()
		}
	}
	return nil, fmt.Errorf("%w: %s", fixtures.ErrMissingInput, name)
}

// Verify recomputes the expected outputs from the recorded inputs and checks
// the stored ones against them within the fixture tolerance.
func (f *Fixture) Verify() error {
	inputs := make(map[string]*tensor.Tensor, len(f.Inputs))
	for _, role := range []string{fixtures.RoleX, fixtures.RoleScale, fixtures.RoleOffset, fixtures.RoleMean, fixtures.RoleVariance} {
		t, err := f.Input(role)
		if err != nil {
			return err
		}
		inputs[role] = t
	}

	want, err := fixtures.Expected(f.Case, inputs)
	if err != nil {
		return err
	}
	if len(f.Expected) != len(want) {
		return fmt.Errorf("%w: %d expected outputs, reference has %d", ErrMismatch, len(f.Expected), len(want))
	}

	for _, exp := range f.Expected {
		ref, ok := want[exp.Name]
		if !ok {
			return fmt.Errorf("%w: unknown output %s", ErrMismatch, exp.Name)
		}
		got, err := exp.ToTensor()
		if err != nil {
			return err
		}
		if !slices.Equal(got.Shape, ref.Shape) {
			return fmt.Errorf("%w: %s shape %v, reference %v", ErrMismatch, exp.Name, got.Shape, ref.Shape)
		}
		ok, idx, err := reference.AllClose(got, ref, f.Tolerance)
		if err != nil {
			return fmt.Errorf("%s: %w", exp.Name, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s[%d] = %v outside tolerance", ErrMismatch, exp.Name, idx, exp.Data[idx])
		}
	}
	return nil
}

// BaseName is the file name stem shared by all formats of a fixture
func (f *Fixture) BaseName() string {
	return fmt.Sprintf("%s_%s_%s", f.Case.ID(), f.Metadata.Device, f.Metadata.Precision)
}

// Saver handles writing fixtures in one or more formats
type Saver struct {
	formats  []Format
	exporter *onnx.Exporter
	logger   *zap.Logger
}

// NewSaver creates a saver for the given formats; JSON when none are given
func NewSaver(logger *zap.Logger, formats ...Format) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(formats) == 0 {
		formats = []Format{FormatJSON}
	}
	return &Saver{
		formats:  formats,
		exporter: onnx.NewExporter(),
		logger:   logger,
	}
}

// Save writes the fixture into dir and returns the written paths. net is
// required for ONNX output.
func (s *Saver) Save(f *Fixture, net *graph.GraphSpec, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var paths []string
	for _, format := range s.formats {
		path := filepath.Join(dir, f.BaseName()+format.Extension())
		var err error
		switch format {
		case FormatJSON:
			err = s.saveJSON(f, path)
		case FormatONNX:
			err = s.saveONNX(f, net, path)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownFormat, format)
		}
		if err != nil {
			return paths, err
		}
		s.logger.Debug("wrote fixture",
			zap.String("case", f.Case.ID()),
			zap.Stringer("format", format),
			zap.String("path", path))
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *Saver) saveJSON(f *Fixture, path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fixture: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write fixture: %w", err)
	}
	return nil
}

func (s *Saver) saveONNX(f *Fixture, net *graph.GraphSpec, path string) error {
	if net == nil {
		return ErrNoNetwork
	}
	return s.exporter.ExportToFile(net, f.Case.ID(), path)
}

// Load reads a JSON fixture
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fixture %s: %w", path, err)
	}
	return &f, nil
}
