// Package synth generates random input bundles for the FusedBatchNorm network.
package synth

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tsawler/fbnconform/tensor"
)

var ErrMissingRole = errors.New("missing required input role")

// Range is a half-open integer sampling interval [Low, High).
type Range struct {
	Low  int64
	High int64
}

// roleSpec describes how one input role is sampled.
type roleSpec struct {
	name     string
	rng      Range
	required bool
}

// roles is ordered; generation follows this order so seeded runs repeat.
// variance must stay non-negative.
var roles = []roleSpec{
	{name: "x", rng: Range{-10, 10}, required: true},
	{name: "scale", rng: Range{-10, 10}, required: true},
	{name: "offset", rng: Range{-10, 10}, required: true},
	{name: "mean", rng: Range{-10, 10}},
	{name: "variance", rng: Range{0, 10}},
}

// Bundle maps an input role to its synthesized Int64 tensor.
type Bundle map[string]*tensor.Tensor

// Shapes returns role -> shape for the bundle.
func (b Bundle) Shapes() map[string][]int {
	out := make(map[string][]int, len(b))
	for name, t := range b {
		out[name] = t.Size()
	}
	return out
}

// Synthesizer draws input bundles from a random source. It is not safe for
// concurrent use; give each goroutine its own.
type Synthesizer struct {
	rng *rand.Rand
}

// New wraps an existing random source.
func New(rng *rand.Rand) *Synthesizer {
	return &Synthesizer{rng: rng}
}

// NewSeeded returns a synthesizer that repeats its output for a given seed.
func NewSeeded(seed int64) *Synthesizer {
	return New(rand.New(rand.NewSource(seed)))
}

// NewUnseeded returns a synthesizer seeded from the clock, so every test
// invocation sees different data.
func NewUnseeded() *Synthesizer {
	return NewSeeded(time.Now().UnixNano())
}

// Prepare produces one tensor per requested role with the requested shape.
// x, scale and offset are required; mean and variance are produced only when
// requested. Unknown roles are ignored.
func (s *Synthesizer) Prepare(inputsInfo map[string][]int) (Bundle, error) {
	bundle := make(Bundle, len(roles))
	for _, role := range roles {
		shape, ok := inputsInfo[role.name]
		if !ok {
			if role.required {
				return nil, fmt.Errorf("%w: %s", ErrMissingRole, role.name)
			}
			continue
		}
		t, err := tensor.RandomInt(shape, role.rng.Low, role.rng.High, tensor.Int64, s.rng)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", role.name, err)
		}
		bundle[role.name] = t
	}
	return bundle, nil
}
