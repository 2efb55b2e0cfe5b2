// Package reference computes expected FusedBatchNorm outputs on the host.
package reference

import (
	"fmt"
	"math"

	"github.com/tsawler/fbnconform/graph"
	"github.com/tsawler/fbnconform/tensor"
)

// Attrs mirrors the FusedBatchNorm node attributes.
type Attrs struct {
	Epsilon              float32
	ExponentialAvgFactor float32
	DataFormat           string
	IsTraining           bool
}

// Outputs holds the first three FusedBatchNorm results.
type Outputs struct {
	Y             *tensor.Tensor
	BatchMean     *tensor.Tensor
	BatchVariance *tensor.Tensor
}

// FusedBatchNorm evaluates y = scale*(x-mean)/sqrt(var+eps)+offset per channel.
//
// In inference mode mean and variance are used as given and passed through to
// the statistics outputs. In training mode y uses the biased batch variance,
// while the statistics outputs blend the inputs with the batch statistics by
// ExponentialAvgFactor, the variance output using the Bessel-corrected
// estimate.
func FusedBatchNorm(x, scale, offset, mean, variance *tensor.Tensor, attrs Attrs) (*Outputs, error) {
	if x.Dim() != 4 {
		return nil, fmt.Errorf("x must be 4-D, got %v", x.Shape)
	}
	axis, err := graph.ChannelAxis(attrs.DataFormat)
	if err != nil {
		return nil, err
	}
	channels := x.Shape[axis]

	xs, err := floats(x, "x")
	if err != nil {
		return nil, err
	}
	params := make([][]float32, 4)
	for i, p := range []struct {
		name string
		t    *tensor.Tensor
	}{{"scale", scale}, {"offset", offset}, {"mean", mean}, {"variance", variance}} {
		if p.t == nil {
			return nil, fmt.Errorf("%s is required", p.name)
		}
		if p.t.Dim() != 1 || p.t.Shape[0] != channels {
			return nil, fmt.Errorf("%s shape %v, expected [%d]", p.name, p.t.Shape, channels)
		}
		if params[i], err = floats(p.t, p.name); err != nil {
			return nil, err
		}
	}
	gamma, beta, inMean, inVar := params[0], params[1], params[2], params[3]

	stride := x.Strides[axis]
	channelOf := func(i int) int { return (i / stride) % channels }

	useMean := make([]float64, channels)
	useVar := make([]float64, channels)
	outMean := make([]float32, channels)
	outVar := make([]float32, channels)

	if attrs.IsTraining {
		n := x.NumElems / channels
		sum := make([]float64, channels)
		for i, v := range xs {
			sum[channelOf(i)] += float64(v)
		}
		for c := range sum {
			useMean[c] = sum[c] / float64(n)
		}
		sq := make([]float64, channels)
		for i, v := range xs {
			c := channelOf(i)
			d := float64(v) - useMean[c]
			sq[c] += d * d
		}

		correction := 1.0
		if n > 1 {
			correction = float64(n) / float64(n-1)
		}
		f := float64(attrs.ExponentialAvgFactor)
		for c := 0; c < channels; c++ {
			useVar[c] = sq[c] / float64(n)
			unbiased := useVar[c] * correction
			outMean[c] = float32((1-f)*float64(inMean[c]) + f*useMean[c])
			outVar[c] = float32((1-f)*float64(inVar[c]) + f*unbiased)
		}
	} else {
		for c := 0; c < channels; c++ {
			useMean[c] = float64(inMean[c])
			useVar[c] = float64(inVar[c])
			outMean[c] = inMean[c]
			outVar[c] = inVar[c]
		}
	}

	eps := float64(attrs.Epsilon)
	invStd := make([]float64, channels)
	for c := range invStd {
		invStd[c] = 1 / math.Sqrt(useVar[c]+eps)
	}

	ys := make([]float32, len(xs))
	for i, v := range xs {
		c := channelOf(i)
		ys[i] = float32(float64(gamma[c])*(float64(v)-useMean[c])*invStd[c] + float64(beta[c]))
	}

	y, err := tensor.NewTensor(x.Shape, tensor.Float32, ys)
	if err != nil {
		return nil, err
	}
	bm, err := tensor.NewTensor([]int{channels}, tensor.Float32, outMean)
	if err != nil {
		return nil, err
	}
	bv, err := tensor.NewTensor([]int{channels}, tensor.Float32, outVar)
	if err != nil {
		return nil, err
	}
	return &Outputs{Y: y, BatchMean: bm, BatchVariance: bv}, nil
}

func floats(t *tensor.Tensor, name string) ([]float32, error) {
	if t.DType == tensor.Float32 {
		return t.GetFloat32Data()
	}
	f, err := t.ToFloat32()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f.Data.([]float32), nil
}
