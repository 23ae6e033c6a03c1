// Package replay stores pre-recorded robot-manipulation episodes as named,
// per-timestep arrays and persists them as gob snapshots on disk.
//
// A store holds one array per field (image, state, action, ...) laid out
// contiguously across all episodes, plus the cumulative episode end offsets.
// Consumers read windows of timesteps out of the arrays; the store is
// read-only after loading.
package replay

import "fmt"

// Array is a dense, row-major float32 array with an explicit shape. The
// leading dimension is always time (one entry per stored timestep); trailing
// dimensions describe the per-timestep feature layout.
type Array struct {
	Data  []float32
	Shape []int
}

// NewArray wraps data in an Array after checking that the buffer length
// matches the product of the shape dimensions.
func NewArray(data []float32, shape ...int) (*Array, error) {
	n := numElements(shape)
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Array{Data: data, Shape: shape}, nil
}

// Steps returns the size of the leading (time) dimension.
func (a *Array) Steps() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// FeatureSize returns the number of elements in one timestep (the product of
// all trailing dimensions).
func (a *Array) FeatureSize() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return numElements(a.Shape[1:])
}

// Row returns the flat feature slice for timestep t. The returned slice
// aliases the array's backing buffer.
func (a *Array) Row(t int) []float32 {
	fs := a.FeatureSize()
	return a.Data[t*fs : (t+1)*fs]
}

// Slice returns a view of timesteps [start, end). The view shares the backing
// buffer with the original array.
func (a *Array) Slice(start, end int) *Array {
	fs := a.FeatureSize()
	shape := make([]int, len(a.Shape))
	copy(shape, a.Shape)
	shape[0] = end - start
	return &Array{Data: a.Data[start*fs : end*fs], Shape: shape}
}

// Reshape2D returns a view of the array with shape (steps, featureSize),
// flattening all trailing dimensions into one.
func (a *Array) Reshape2D() *Array {
	return &Array{Data: a.Data, Shape: []int{a.Steps(), a.FeatureSize()}}
}

// Clone returns a deep copy of the array.
func (a *Array) Clone() *Array {
	data := make([]float32, len(a.Data))
	copy(data, a.Data)
	shape := make([]int, len(a.Shape))
	copy(shape, a.Shape)
	return &Array{Data: data, Shape: shape}
}

// ConcatFeatures concatenates two 2D arrays along the feature axis. Both
// arrays must have the same number of timesteps.
func ConcatFeatures(a, b *Array) (*Array, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("ConcatFeatures needs 2D arrays, got shapes %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, fmt.Errorf("timestep mismatch: %d vs %d", a.Shape[0], b.Shape[0])
	}
	steps := a.Shape[0]
	fa, fb := a.Shape[1], b.Shape[1]
	out := make([]float32, steps*(fa+fb))
	for t := 0; t < steps; t++ {
		copy(out[t*(fa+fb):], a.Data[t*fa:(t+1)*fa])
		copy(out[t*(fa+fb)+fa:], b.Data[t*fb:(t+1)*fb])
	}
	return &Array{Data: out, Shape: []int{steps, fa + fb}}, nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameTrailingShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
