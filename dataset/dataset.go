package dataset

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/robostack/boxdelivery/replay"
)

// This file provides the surface shared by the two box-delivery dataset
// adapters. Both load a replay store once at construction, restrict a
// sequence sampler to the train split, and expose windows of `horizon`
// consecutive timesteps as gomlx tensors.
//
// The datasets implement this interface in order to interact with gomlx
// training loops and batching utilities. Yield returns io.EOF once an epoch
// is exhausted; Restart rewinds for the next epoch.
type Dataset interface {
	Len() int
	Name() string
	Restart() error

	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
}

// toTensor converts an array into a gomlx tensor with the same shape.
func toTensor(a *replay.Array) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(a.Data, a.Shape...)
}

// stackWindows stacks same-shaped windows into one array with a leading
// batch dimension.
func stackWindows(ws []*replay.Array) (*replay.Array, error) {
	if len(ws) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	per := len(ws[0].Data)
	data := make([]float32, len(ws)*per)
	for i, w := range ws {
		if len(w.Data) != per {
			return nil, fmt.Errorf("window %d has %d elements, expected %d", i, len(w.Data), per)
		}
		copy(data[i*per:], w.Data)
	}
	shape := append([]int{len(ws)}, ws[0].Shape...)
	return &replay.Array{Data: data, Shape: shape}, nil
}

// firstColumns returns the first n feature columns of a 2D array.
func firstColumns(arr *replay.Array, n int) (*replay.Array, error) {
	if len(arr.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D array, got shape %v", arr.Shape)
	}
	if arr.Shape[1] < n {
		return nil, fmt.Errorf("array has %d columns, need %d", arr.Shape[1], n)
	}
	steps, cols := arr.Shape[0], arr.Shape[1]
	data := make([]float32, steps*n)
	for t := 0; t < steps; t++ {
		copy(data[t*n:], arr.Data[t*cols:t*cols+n])
	}
	return &replay.Array{Data: data, Shape: []int{steps, n}}, nil
}

// batchIndices returns the next window indices for an epoch cursor, or nil
// when the epoch is exhausted.
func batchIndices(cursor, total, batchSize int) []int {
	if cursor >= total {
		return nil
	}
	end := cursor + batchSize
	if end > total {
		end = total
	}
	indices := make([]int, 0, end-cursor)
	for i := cursor; i < end; i++ {
		indices = append(indices, i)
	}
	return indices
}
