package replay

import (
	"encoding/gob"
	"fmt"
	"os"
)

// storeVersion is incremented when the on-disk snapshot format changes.
const storeVersion = 1

type storeArray struct {
	Data  []float32
	Shape []int
}

type storeSnapshot struct {
	Version     int
	EpisodeEnds []int
	Fields      map[string]storeArray
}

// Save writes the buffer to path as a gob snapshot.
func (b *Buffer) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create store %s: %w", path, err)
	}
	defer f.Close()

	snap := storeSnapshot{
		Version:     storeVersion,
		EpisodeEnds: b.episodeEnds,
		Fields:      make(map[string]storeArray, len(b.fields)),
	}
	for key, arr := range b.fields {
		snap.Fields[key] = storeArray{Data: arr.Data, Shape: arr.Shape}
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode store %s: %w", path, err)
	}
	return nil
}

// CopyFromPath loads a gob snapshot from path, keeping only the named fields.
// A nil or empty key list loads every stored field. A requested key that is
// not present in the snapshot is an error.
func CopyFromPath(path string, keys []string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	defer f.Close()

	var snap storeSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", path, err)
	}
	if snap.Version != storeVersion {
		return nil, fmt.Errorf("store %s has version %d, want %d", path, snap.Version, storeVersion)
	}

	if len(keys) == 0 {
		keys = make([]string, 0, len(snap.Fields))
		for key := range snap.Fields {
			keys = append(keys, key)
		}
	}

	b := NewBuffer()
	b.episodeEnds = snap.EpisodeEnds
	for _, key := range keys {
		sa, ok := snap.Fields[key]
		if !ok {
			return nil, fmt.Errorf("store %s has no field %q", path, key)
		}
		arr, err := NewArray(sa.Data, sa.Shape...)
		if err != nil {
			return nil, fmt.Errorf("field %q in store %s is malformed: %w", key, path, err)
		}
		if arr.Steps() != b.NumSteps() {
			return nil, fmt.Errorf("field %q has %d timesteps, store has %d", key, arr.Steps(), b.NumSteps())
		}
		b.fields[key] = arr
	}
	return b, nil
}
