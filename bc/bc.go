// Package bc trains a small behavior-cloning regressor on windows drawn from
// a lowdim box-delivery dataset. The trainer is a self-contained, pure-Go
// mini-batch SGD loop so it runs quickly and deterministically in tests; it
// consumes any dataset exposing the Batch surface.
package bc

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Dataset is the minimal surface bc needs from a dataset. The lowdim adapter
// satisfies it: inputs are flattened observation windows, labels the
// corresponding flattened action windows.
type Dataset interface {
	Len() int
	Batch(indices []int) (inputs [][]float32, labels [][]float32, err error)
}

// Config holds the trainer hyperparameters. Zero values pick the documented
// defaults in NewModel.
type Config struct {
	// HiddenSizes lists the hidden layer widths (default one layer of 64).
	HiddenSizes []int

	// LearningRate for SGD updates (default 0.001).
	LearningRate float64

	// Epochs to train for (default 10).
	Epochs int

	// BatchSize for mini-batch updates (default 8).
	BatchSize int

	// Seed controls weight init and shuffling (default 1).
	Seed int64
}

// Model is an MLP with ReLU hidden activations and a linear output layer,
// mapping a flattened observation window to a flattened action window.
type Model struct {
	Config Config

	// sizes includes input dim, hidden dims, then output dim.
	sizes []int

	// weights[l][j][i] connects unit i of layer l to unit j of layer l+1.
	weights [][][]float32
	biases  [][]float32

	rng *rand.Rand
}

// NewModel creates a model for the given input and output dimensions.
func NewModel(cfg Config, inputDim, outputDim int) (*Model, error) {
	if inputDim < 1 || outputDim < 1 {
		return nil, fmt.Errorf("dimensions must be >= 1, got in=%d out=%d", inputDim, outputDim)
	}
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 8
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	m.sizes = append(append([]int{inputDim}, cfg.HiddenSizes...), outputDim)

	layers := len(m.sizes) - 1
	m.weights = make([][][]float32, layers)
	m.biases = make([][]float32, layers)
	for l := 0; l < layers; l++ {
		in, out := m.sizes[l], m.sizes[l+1]
		// Glorot uniform init.
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		mat := make([][]float32, out)
		for j := range mat {
			row := make([]float32, in)
			for i := range row {
				row[i] = (m.rng.Float32()*2 - 1) * limit
			}
			mat[j] = row
		}
		m.weights[l] = mat
		m.biases[l] = make([]float32, out)
	}
	return m, nil
}

// forward runs one input through the network, returning the pre-activation
// and activation vectors per layer (acts[0] is the input).
func (m *Model) forward(input []float32) (preActs, acts [][]float32, err error) {
	if len(input) != m.sizes[0] {
		return nil, nil, fmt.Errorf("input has dimension %d, model expects %d", len(input), m.sizes[0])
	}
	layers := len(m.weights)
	acts = make([][]float32, layers+1)
	acts[0] = input
	preActs = make([][]float32, layers)

	for l := 0; l < layers; l++ {
		in := acts[l]
		out := make([]float32, m.sizes[l+1])
		for j := range out {
			sum := m.biases[l][j]
			row := m.weights[l][j]
			for i, v := range in {
				sum += row[i] * v
			}
			out[j] = sum
		}
		preActs[l] = out

		act := make([]float32, len(out))
		copy(act, out)
		if l < layers-1 {
			for i := range act {
				if act[i] < 0 {
					act[i] = 0
				}
			}
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// PredictBatch runs a forward pass over a batch of inputs.
func (m *Model) PredictBatch(inputs [][]float32) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forward(in)
		if err != nil {
			return nil, err
		}
		out[i] = acts[len(acts)-1]
	}
	return out, nil
}

// Train runs mini-batch SGD with mean-squared-error loss over the dataset
// for the configured number of epochs.
func (m *Model) Train(ds Dataset) error {
	if ds == nil {
		return errors.New("dataset is nil")
	}
	n := ds.Len()
	if n == 0 {
		return errors.New("dataset has no examples")
	}

	lr := float32(m.Config.LearningRate)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	for ep := 0; ep < m.Config.Epochs; ep++ {
		m.rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		for start := 0; start < n; start += m.Config.BatchSize {
			end := min(start+m.Config.BatchSize, n)
			inputs, labels, err := ds.Batch(indices[start:end])
			if err != nil {
				return fmt.Errorf("failed to read batch: %w", err)
			}
			if err := m.step(inputs, labels, lr); err != nil {
				return err
			}
		}
	}
	return nil
}

// step applies one averaged SGD update over a mini-batch.
func (m *Model) step(inputs, labels [][]float32, lr float32) error {
	layers := len(m.weights)
	gradW := make([][][]float32, layers)
	gradB := make([][]float32, layers)
	for l := 0; l < layers; l++ {
		gradW[l] = make([][]float32, m.sizes[l+1])
		for j := range gradW[l] {
			gradW[l][j] = make([]float32, m.sizes[l])
		}
		gradB[l] = make([]float32, m.sizes[l+1])
	}

	for ex := range inputs {
		if len(labels[ex]) != m.sizes[len(m.sizes)-1] {
			return fmt.Errorf("label has dimension %d, model expects %d", len(labels[ex]), m.sizes[len(m.sizes)-1])
		}
		preActs, acts, err := m.forward(inputs[ex])
		if err != nil {
			return err
		}

		pred := acts[len(acts)-1]
		delta := make([]float32, len(pred))
		for j := range delta {
			delta[j] = 2 * (pred[j] - labels[ex][j])
		}

		for l := layers - 1; l >= 0; l-- {
			in := acts[l]
			for j, dj := range delta {
				gradB[l][j] += dj
				for i, vi := range in {
					gradW[l][j][i] += dj * vi
				}
			}
			if l == 0 {
				continue
			}
			prev := make([]float32, m.sizes[l])
			for i := range prev {
				var sum float32
				for j, dj := range delta {
					sum += m.weights[l][j][i] * dj
				}
				if preActs[l-1][i] <= 0 {
					sum = 0
				}
				prev[i] = sum
			}
			delta = prev
		}
	}

	inv := 1 / float32(len(inputs))
	for l := 0; l < layers; l++ {
		for j := range m.weights[l] {
			m.biases[l][j] -= lr * gradB[l][j] * inv
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= lr * gradW[l][j][i] * inv
			}
		}
	}
	return nil
}
