// Package fixtures describes the FusedBatchNorm conformance cases: the
// parameter matrix, the network each case builds, and its expected outputs.
package fixtures

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tsawler/fbnconform/graph"
)

// DataFormat selects where the channel dimension lives in a 4-D tensor.
type DataFormat int

const (
	NHWC DataFormat = iota
	NCHW
)

func (df DataFormat) String() string {
	switch df {
	case NHWC:
		return "NHWC"
	case NCHW:
		return "NCHW"
	default:
		return "Unknown"
	}
}

// ChannelAxis returns the axis holding channels: last for NHWC, second for NCHW.
func (df DataFormat) ChannelAxis() int {
	if df == NCHW {
		return 1
	}
	return 3
}

func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToUpper(s) {
	case "NHWC":
		return NHWC, nil
	case "NCHW":
		return NCHW, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDataFormat, s)
	}
}

func (df DataFormat) MarshalText() ([]byte, error) {
	if df != NHWC && df != NCHW {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDataFormat, int(df))
	}
	return []byte(df.String()), nil
}

func (df *DataFormat) UnmarshalText(text []byte) error {
	v, err := ParseDataFormat(string(text))
	if err != nil {
		return err
	}
	*df = v
	return nil
}

// Version is the FusedBatchNorm operator generation under test.
type Version int

const (
	V1 Version = iota + 1
	V2
	V3
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	case V3:
		return "v3"
	default:
		return "unknown"
	}
}

// OpType maps the version to its graph operation.
func (v Version) OpType() (graph.OpType, error) {
	switch v {
	case V1:
		return graph.FusedBatchNorm, nil
	case V2:
		return graph.FusedBatchNormV2, nil
	case V3:
		return graph.FusedBatchNormV3, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownVersion, int(v))
	}
}

func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(s) {
	case "v1":
		return V1, nil
	case "v2":
		return V2, nil
	case "v3":
		return V3, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVersion, s)
	}
}

func (v Version) MarshalText() ([]byte, error) {
	if v < V1 || v > V3 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, int(v))
	}
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Input roles fed to the FusedBatchNorm network.
const (
	RoleX        = "x"
	RoleScale    = "scale"
	RoleOffset   = "offset"
	RoleMean     = "mean"
	RoleVariance = "variance"
)

// TestCase is one operator configuration of the conformance suite.
type TestCase struct {
	XShape               []int      `json:"x_shape"`
	Epsilon              float32    `json:"epsilon"`
	ExponentialAvgFactor float32    `json:"exponential_avg_factor"`
	DataFormat           DataFormat `json:"data_format"`
	IsTraining           bool       `json:"is_training"`
	Version              Version    `json:"fbn_version"`

	// XFail names the tracked defect when the case is expected to fail.
	XFail string `json:"xfail,omitempty"`
}

// ChannelDim returns the size of the channel axis of XShape, or 0 when
// XShape is too short to have one. Validate rejects such cases.
func (tc TestCase) ChannelDim() int {
	axis := tc.DataFormat.ChannelAxis()
	if axis >= len(tc.XShape) {
		return 0
	}
	return tc.XShape[axis]
}

// ParamShape is the shape shared by mean, variance, scale and offset.
func (tc TestCase) ParamShape() []int {
	return []int{tc.ChannelDim()}
}

// InputsInfo maps every input role of the network to its shape. Parameter
// shapes are [0] for a case without a channel axis.
func (tc TestCase) InputsInfo() map[string][]int {
	xShape := make([]int, len(tc.XShape))
	copy(xShape, tc.XShape)
	return map[string][]int{
		RoleX:        xShape,
		RoleScale:    tc.ParamShape(),
		RoleOffset:   tc.ParamShape(),
		RoleMean:     tc.ParamShape(),
		RoleVariance: tc.ParamShape(),
	}
}

// ExpectedToFail reports whether the case carries an xfail marker.
func (tc TestCase) ExpectedToFail() bool {
	return tc.XFail != ""
}

// Validate checks that the case can be handed to the graph builder.
func (tc TestCase) Validate() error {
	if len(tc.XShape) != 4 {
		return fmt.Errorf("%w: x_shape %v must be 4-D", ErrInvalidCase, tc.XShape)
	}
	for i, d := range tc.XShape {
		if d <= 0 {
			return fmt.Errorf("%w: x_shape dimension %d is %d", ErrInvalidCase, i, d)
		}
	}
	if tc.DataFormat != NHWC && tc.DataFormat != NCHW {
		return fmt.Errorf("%w: %w: %d", ErrInvalidCase, ErrUnknownDataFormat, int(tc.DataFormat))
	}
	if _, err := tc.Version.OpType(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCase, err)
	}
	if tc.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon must be positive, got %g", ErrInvalidCase, tc.Epsilon)
	}
	if tc.ExponentialAvgFactor < 0 || tc.ExponentialAvgFactor > 1 {
		return fmt.Errorf("%w: exponential_avg_factor %g outside [0, 1]", ErrInvalidCase, tc.ExponentialAvgFactor)
	}
	return nil
}

// MustValidate panics on an invalid case. Static matrices use it since a bad
// entry there is a programming error.
func (tc TestCase) MustValidate() TestCase {
	if err := tc.Validate(); err != nil {
		panic(err)
	}
	return tc
}

// ID renders a stable, filesystem-safe name for the parameter tuple.
func (tc TestCase) ID() string {
	dims := make([]string, len(tc.XShape))
	for i, d := range tc.XShape {
		dims[i] = strconv.Itoa(d)
	}
	mode := "infer"
	if tc.IsTraining {
		mode = "train"
	}
	return fmt.Sprintf("%s_%s_%s_%s_eps%s_f%s",
		tc.Version, tc.DataFormat, mode, strings.Join(dims, "x"),
		strconv.FormatFloat(float64(tc.Epsilon), 'g', -1, 32),
		strconv.FormatFloat(float64(tc.ExponentialAvgFactor), 'g', -1, 32))
}

func (tc TestCase) String() string {
	return fmt.Sprintf("%s(x_shape=%v, epsilon=%g, exponential_avg_factor=%g, data_format=%s, is_training=%t)",
		tc.Version, tc.XShape, tc.Epsilon, tc.ExponentialAvgFactor, tc.DataFormat, tc.IsTraining)
}
