package replay

import (
	"fmt"
	"sort"
)

// Buffer is an in-memory episode store: one contiguous array per named field,
// with episode boundaries recorded as cumulative step offsets. The first
// episode added fixes the field set and the per-timestep shape of every
// field; later episodes must match.
//
// Buffers are safe for concurrent reads once fully built. Building and
// reading must not be interleaved across goroutines.
type Buffer struct {
	episodeEnds []int
	fields      map[string]*Array
}

// NewBuffer returns an empty buffer ready for AddEpisode.
func NewBuffer() *Buffer {
	return &Buffer{fields: make(map[string]*Array)}
}

// AddEpisode appends one episode. Every field in the episode must have the
// same number of timesteps, and the field set and trailing shapes must match
// any previously added episode.
func (b *Buffer) AddEpisode(fields map[string]*Array) error {
	if len(fields) == 0 {
		return fmt.Errorf("episode has no fields")
	}
	steps := -1
	for key, arr := range fields {
		if arr.Steps() == 0 {
			return fmt.Errorf("field %q has no timesteps", key)
		}
		if steps == -1 {
			steps = arr.Steps()
		} else if arr.Steps() != steps {
			return fmt.Errorf("field %q has %d timesteps, expected %d", key, arr.Steps(), steps)
		}
	}

	if len(b.episodeEnds) == 0 {
		for key, arr := range fields {
			b.fields[key] = arr.Clone()
		}
		b.episodeEnds = append(b.episodeEnds, steps)
		return nil
	}

	if len(fields) != len(b.fields) {
		return fmt.Errorf("episode has %d fields, store has %d", len(fields), len(b.fields))
	}
	for key, arr := range fields {
		stored, ok := b.fields[key]
		if !ok {
			return fmt.Errorf("field %q not present in store", key)
		}
		if !sameTrailingShape(stored.Shape, arr.Shape) {
			return fmt.Errorf("field %q shape %v does not match stored shape %v", key, arr.Shape, stored.Shape)
		}
	}
	for key, arr := range fields {
		stored := b.fields[key]
		stored.Data = append(stored.Data, arr.Data...)
		stored.Shape[0] += arr.Steps()
	}
	b.episodeEnds = append(b.episodeEnds, b.episodeEnds[len(b.episodeEnds)-1]+steps)
	return nil
}

// NumEpisodes returns the number of stored episodes.
func (b *Buffer) NumEpisodes() int {
	return len(b.episodeEnds)
}

// NumSteps returns the total number of timesteps across all episodes.
func (b *Buffer) NumSteps() int {
	if len(b.episodeEnds) == 0 {
		return 0
	}
	return b.episodeEnds[len(b.episodeEnds)-1]
}

// EpisodeEnds returns a copy of the cumulative episode end offsets.
func (b *Buffer) EpisodeEnds() []int {
	ends := make([]int, len(b.episodeEnds))
	copy(ends, b.episodeEnds)
	return ends
}

// EpisodeBounds returns the [start, end) timestep range of episode i.
func (b *Buffer) EpisodeBounds(i int) (start, end int) {
	if i > 0 {
		start = b.episodeEnds[i-1]
	}
	return start, b.episodeEnds[i]
}

// Get returns the stored array for key.
func (b *Buffer) Get(key string) (*Array, error) {
	arr, ok := b.fields[key]
	if !ok {
		return nil, fmt.Errorf("field %q not found in store (have %v)", key, b.Keys())
	}
	return arr, nil
}

// Keys returns the stored field names in sorted order.
func (b *Buffer) Keys() []string {
	keys := make([]string, 0, len(b.fields))
	for key := range b.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
