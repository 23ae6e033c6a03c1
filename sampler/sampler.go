package sampler

import (
	"fmt"

	"github.com/robostack/boxdelivery/replay"
)

// window describes one fixed-length sample. bufferStart/bufferEnd bound the
// stored timesteps it covers; sampleStart/sampleEnd bound where those steps
// land inside the output sequence. Steps outside [sampleStart, sampleEnd)
// are padding filled by replicating the nearest real step.
type window struct {
	bufferStart, bufferEnd int
	sampleStart, sampleEnd int
}

// SequenceSampler yields fixed-length windows of consecutive timesteps from
// episodes admitted by an episode mask. Windows never cross episode
// boundaries; padBefore and padAfter extend the set of windows past an
// episode's edges, with the missing steps filled by edge replication.
type SequenceSampler struct {
	buffer         *replay.Buffer
	sequenceLength int
	windows        []window
}

// NewSequenceSampler precomputes the window index over buf. episodeMask
// selects which episodes contribute windows; a nil mask admits all episodes.
func NewSequenceSampler(buf *replay.Buffer, sequenceLength, padBefore, padAfter int, episodeMask []bool) (*SequenceSampler, error) {
	if buf == nil {
		return nil, fmt.Errorf("buffer is nil")
	}
	if sequenceLength < 1 {
		return nil, fmt.Errorf("sequence length must be >= 1, got %d", sequenceLength)
	}
	if padBefore < 0 || padAfter < 0 {
		return nil, fmt.Errorf("padding must be >= 0, got before=%d after=%d", padBefore, padAfter)
	}
	if episodeMask != nil && len(episodeMask) != buf.NumEpisodes() {
		return nil, fmt.Errorf("episode mask has %d entries, store has %d episodes", len(episodeMask), buf.NumEpisodes())
	}

	s := &SequenceSampler{buffer: buf, sequenceLength: sequenceLength}
	for ep := 0; ep < buf.NumEpisodes(); ep++ {
		if episodeMask != nil && !episodeMask[ep] {
			continue
		}
		start, end := buf.EpisodeBounds(ep)
		epLen := end - start
		minStart := -padBefore
		maxStart := epLen - sequenceLength + padAfter
		for idx := minStart; idx <= maxStart; idx++ {
			bufStart := max(idx, 0) + start
			bufEnd := min(idx+sequenceLength, epLen) + start
			sampleStart := bufStart - idx - start
			sampleEnd := sequenceLength - (idx + sequenceLength + start - bufEnd)
			s.windows = append(s.windows, window{
				bufferStart: bufStart,
				bufferEnd:   bufEnd,
				sampleStart: sampleStart,
				sampleEnd:   sampleEnd,
			})
		}
	}
	return s, nil
}

// Len returns the number of available windows.
func (s *SequenceSampler) Len() int {
	return len(s.windows)
}

// SequenceLength returns the length of every yielded window.
func (s *SequenceSampler) SequenceLength() int {
	return s.sequenceLength
}

// SampleSequence returns window idx as one array per stored field, each with
// leading dimension sequenceLength. Padded regions repeat the first or last
// real timestep of the window.
func (s *SequenceSampler) SampleSequence(idx int) (map[string]*replay.Array, error) {
	if idx < 0 || idx >= len(s.windows) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(s.windows))
	}
	w := s.windows[idx]

	out := make(map[string]*replay.Array)
	for _, key := range s.buffer.Keys() {
		arr, err := s.buffer.Get(key)
		if err != nil {
			return nil, err
		}
		fs := arr.FeatureSize()
		data := make([]float32, s.sequenceLength*fs)
		seg := arr.Slice(w.bufferStart, w.bufferEnd)
		copy(data[w.sampleStart*fs:], seg.Data)
		for t := 0; t < w.sampleStart; t++ {
			copy(data[t*fs:(t+1)*fs], seg.Data[:fs])
		}
		for t := w.sampleEnd; t < s.sequenceLength; t++ {
			copy(data[t*fs:(t+1)*fs], seg.Data[len(seg.Data)-fs:])
		}
		shape := append([]int{s.sequenceLength}, arr.Shape[1:]...)
		out[key] = &replay.Array{Data: data, Shape: shape}
	}
	return out, nil
}
