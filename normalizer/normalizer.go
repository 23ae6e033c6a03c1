// Package normalizer fits and applies per-feature affine normalization over
// replay arrays, mapping raw feature ranges into a target range for training
// stability.
package normalizer

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/robostack/boxdelivery/replay"
)

// Fit modes.
const (
	// ModeLimits maps the observed per-feature min/max onto the output range.
	ModeLimits = "limits"
	// ModeGaussian maps each feature to zero mean and unit variance.
	ModeGaussian = "gaussian"
)

// Params holds the affine transform for one key: out = in*Scale + Offset per
// feature. A length-1 Scale/Offset broadcasts across all features. The input
// statistics observed during fitting are retained for inspection.
type Params struct {
	Scale  []float32
	Offset []float32

	InputMin  []float32
	InputMax  []float32
	InputMean []float32
	InputStd  []float32
}

type fitOptions struct {
	outputMin float64
	outputMax float64
	rangeEps  float64
}

// Option adjusts fitting behavior.
type Option func(*fitOptions)

// WithOutputRange sets the target range for ModeLimits. Default is [-1, 1].
func WithOutputRange(min, max float64) Option {
	return func(o *fitOptions) {
		o.outputMin = min
		o.outputMax = max
	}
}

// WithRangeEps sets the threshold below which a feature's observed range is
// treated as constant. Constant features map to the output midpoint. Default
// is 1e-4.
func WithRangeEps(eps float64) Option {
	return func(o *fitOptions) { o.rangeEps = eps }
}

// LinearNormalizer holds fitted (or manually installed) affine params per
// feature key.
type LinearNormalizer struct {
	params map[string]*Params
}

// New returns an empty normalizer.
func New() *LinearNormalizer {
	return &LinearNormalizer{params: make(map[string]*Params)}
}

// Fit computes affine params for every key in data. The last lastNDims
// dimensions of each array form the feature axis; all leading dimensions are
// treated as observations.
func (n *LinearNormalizer) Fit(data map[string]*replay.Array, lastNDims int, mode string, opts ...Option) error {
	if mode != ModeLimits && mode != ModeGaussian {
		return fmt.Errorf("unknown normalization mode %q", mode)
	}
	if lastNDims < 1 {
		return fmt.Errorf("lastNDims must be >= 1, got %d", lastNDims)
	}
	o := fitOptions{outputMin: -1, outputMax: 1, rangeEps: 1e-4}
	for _, opt := range opts {
		opt(&o)
	}
	if o.outputMax <= o.outputMin {
		return fmt.Errorf("output range [%g, %g] is empty", o.outputMin, o.outputMax)
	}

	for key, arr := range data {
		p, err := fitOne(arr, lastNDims, mode, o)
		if err != nil {
			return fmt.Errorf("failed to fit %q: %w", key, err)
		}
		n.params[key] = p
	}
	return nil
}

func fitOne(arr *replay.Array, lastNDims int, mode string, o fitOptions) (*Params, error) {
	if lastNDims >= len(arr.Shape) {
		return nil, fmt.Errorf("array with shape %v cannot have %d feature dims", arr.Shape, lastNDims)
	}
	featureDim := 1
	for _, d := range arr.Shape[len(arr.Shape)-lastNDims:] {
		featureDim *= d
	}
	rows := len(arr.Data) / featureDim
	if rows == 0 {
		return nil, fmt.Errorf("no observations")
	}

	p := &Params{
		Scale:     make([]float32, featureDim),
		Offset:    make([]float32, featureDim),
		InputMin:  make([]float32, featureDim),
		InputMax:  make([]float32, featureDim),
		InputMean: make([]float32, featureDim),
		InputStd:  make([]float32, featureDim),
	}

	col := make([]float64, rows)
	for j := 0; j < featureDim; j++ {
		for t := 0; t < rows; t++ {
			col[t] = float64(arr.Data[t*featureDim+j])
		}
		lo, hi := floats.Min(col), floats.Max(col)
		mean, std := stat.MeanStdDev(col, nil)
		if rows == 1 {
			std = 0
		}
		p.InputMin[j] = float32(lo)
		p.InputMax[j] = float32(hi)
		p.InputMean[j] = float32(mean)
		p.InputStd[j] = float32(std)

		var scale, offset float64
		switch mode {
		case ModeLimits:
			if hi-lo < o.rangeEps {
				// Constant feature: park it at the output midpoint.
				scale = 1
				offset = (o.outputMin+o.outputMax)/2 - lo
			} else {
				scale = (o.outputMax - o.outputMin) / (hi - lo)
				offset = o.outputMin - scale*lo
			}
		case ModeGaussian:
			if std < o.rangeEps {
				scale = 1
			} else {
				scale = 1 / std
			}
			offset = -mean * scale
		}
		p.Scale[j] = float32(scale)
		p.Offset[j] = float32(offset)
	}
	return p, nil
}

// Set installs params for key without fitting, replacing any fitted params.
func (n *LinearNormalizer) Set(key string, p *Params) {
	n.params[key] = p
}

// Params returns the params for key.
func (n *LinearNormalizer) Params(key string) (*Params, bool) {
	p, ok := n.params[key]
	return p, ok
}

// Keys returns the fitted keys in sorted order.
func (n *LinearNormalizer) Keys() []string {
	keys := make([]string, 0, len(n.params))
	for key := range n.params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Normalize applies key's affine transform to arr, returning a new array.
func (n *LinearNormalizer) Normalize(key string, arr *replay.Array) (*replay.Array, error) {
	return n.apply(key, arr, false)
}

// Unnormalize inverts key's affine transform on arr, returning a new array.
func (n *LinearNormalizer) Unnormalize(key string, arr *replay.Array) (*replay.Array, error) {
	return n.apply(key, arr, true)
}

func (n *LinearNormalizer) apply(key string, arr *replay.Array, invert bool) (*replay.Array, error) {
	p, ok := n.params[key]
	if !ok {
		return nil, fmt.Errorf("no params for key %q", key)
	}
	featureDim := len(p.Scale)
	if featureDim > 1 && len(arr.Data)%featureDim != 0 {
		return nil, fmt.Errorf("array size %d is not a multiple of feature dim %d", len(arr.Data), featureDim)
	}

	out := arr.Clone()
	for i := range out.Data {
		j := 0
		if featureDim > 1 {
			j = i % featureDim
		}
		if invert {
			out.Data[i] = (out.Data[i] - p.Offset[j]) / p.Scale[j]
		} else {
			out.Data[i] = out.Data[i]*p.Scale[j] + p.Offset[j]
		}
	}
	return out, nil
}

// ImageRangeParams returns the fixed, unfitted transform for image pixels:
// values already scaled to [0,1] map linearly onto [-1,1]. The scalar params
// broadcast across all pixel positions.
func ImageRangeParams() *Params {
	return &Params{
		Scale:    []float32{2},
		Offset:   []float32{-1},
		InputMin: []float32{0},
		InputMax: []float32{1},
	}
}
