package sampler

import (
	"testing"

	"github.com/robostack/boxdelivery/replay"
)

// buildBuffer creates a store with the given episode lengths. Each episode
// carries an "id" field (constant per episode) and a "step" field counting
// timesteps within the episode.
func buildBuffer(t *testing.T, epLens []int) *replay.Buffer {
	t.Helper()
	buf := replay.NewBuffer()
	for ep, n := range epLens {
		id := make([]float32, n)
		step := make([]float32, n)
		for i := 0; i < n; i++ {
			id[i] = float32(ep)
			step[i] = float32(i)
		}
		idArr, err := replay.NewArray(id, n, 1)
		if err != nil {
			t.Fatalf("NewArray error: %v", err)
		}
		stepArr, err := replay.NewArray(step, n, 1)
		if err != nil {
			t.Fatalf("NewArray error: %v", err)
		}
		if err := buf.AddEpisode(map[string]*replay.Array{"id": idArr, "step": stepArr}); err != nil {
			t.Fatalf("AddEpisode error: %v", err)
		}
	}
	return buf
}

func TestValMaskDeterministic(t *testing.T) {
	a := ValMask(20, 0.25, 7)
	b := ValMask(20, 0.25, 7)
	if len(a) != 20 {
		t.Fatalf("unexpected mask length: %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("masks differ at %d despite identical seed", i)
		}
	}
	if got := CountTrue(a); got != 5 {
		t.Fatalf("expected 5 validation episodes, got %d", got)
	}

	c := ValMask(20, 0.25, 8)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different masks for different seeds")
	}
}

func TestValMaskEdgeCases(t *testing.T) {
	if got := CountTrue(ValMask(10, 0, 1)); got != 0 {
		t.Fatalf("expected empty mask for zero ratio, got %d", got)
	}
	// A tiny ratio still holds out one episode.
	if got := CountTrue(ValMask(10, 0.001, 1)); got != 1 {
		t.Fatalf("expected 1 validation episode, got %d", got)
	}
	// A huge ratio never consumes every episode.
	if got := CountTrue(ValMask(10, 0.99, 1)); got != 9 {
		t.Fatalf("expected 9 validation episodes, got %d", got)
	}
	if got := CountTrue(ValMask(1, 0.5, 1)); got != 0 {
		t.Fatalf("single-episode store must stay in train, got %d", got)
	}
}

func TestComplementAndDownsample(t *testing.T) {
	mask := ValMask(12, 0.25, 3)
	comp := Complement(mask)
	for i := range mask {
		if mask[i] == comp[i] {
			t.Fatalf("complement matches mask at %d", i)
		}
	}

	down := DownsampleMask(comp, 4, 3)
	if got := CountTrue(down); got != 4 {
		t.Fatalf("expected 4 episodes after downsampling, got %d", got)
	}
	for i := range down {
		if down[i] && !comp[i] {
			t.Fatalf("downsampling enabled episode %d outside the source mask", i)
		}
	}

	// No limit and above-count limits leave the mask unchanged.
	for _, maxN := range []int{0, 100} {
		same := DownsampleMask(comp, maxN, 3)
		for i := range comp {
			if same[i] != comp[i] {
				t.Fatalf("maxN=%d changed the mask at %d", maxN, i)
			}
		}
	}

	again := DownsampleMask(comp, 4, 3)
	for i := range down {
		if down[i] != again[i] {
			t.Fatalf("downsampling differs at %d despite identical seed", i)
		}
	}
}

func TestSequenceSamplerWindowCount(t *testing.T) {
	buf := buildBuffer(t, []int{5, 3})

	// No padding: epLen - seqLen + 1 windows per episode.
	s, err := NewSequenceSampler(buf, 3, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewSequenceSampler error: %v", err)
	}
	if got := s.Len(); got != 3+1 {
		t.Fatalf("expected 4 windows, got %d", got)
	}

	// Padding extends the range on both sides.
	s, err = NewSequenceSampler(buf, 3, 1, 1, nil)
	if err != nil {
		t.Fatalf("NewSequenceSampler error: %v", err)
	}
	if got := s.Len(); got != 5+3 {
		t.Fatalf("expected 8 windows, got %d", got)
	}
}

func TestSequenceSamplerPadding(t *testing.T) {
	buf := buildBuffer(t, []int{4})
	s, err := NewSequenceSampler(buf, 3, 1, 1, nil)
	if err != nil {
		t.Fatalf("NewSequenceSampler error: %v", err)
	}
	// Windows start at offsets -1..2.
	if got := s.Len(); got != 4 {
		t.Fatalf("expected 4 windows, got %d", got)
	}

	first, err := s.SampleSequence(0)
	if err != nil {
		t.Fatalf("SampleSequence(0) error: %v", err)
	}
	steps := first["step"]
	if steps.Shape[0] != 3 {
		t.Fatalf("unexpected window length: %v", steps.Shape)
	}
	// Start padding repeats the episode's first step.
	if steps.Data[0] != 0 || steps.Data[1] != 0 || steps.Data[2] != 1 {
		t.Fatalf("unexpected front-padded window: %v", steps.Data)
	}

	last, err := s.SampleSequence(s.Len() - 1)
	if err != nil {
		t.Fatalf("SampleSequence(last) error: %v", err)
	}
	steps = last["step"]
	// End padding repeats the episode's last step.
	if steps.Data[0] != 2 || steps.Data[1] != 3 || steps.Data[2] != 3 {
		t.Fatalf("unexpected back-padded window: %v", steps.Data)
	}

	if _, err := s.SampleSequence(s.Len()); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}

func TestSequenceSamplerRespectsMask(t *testing.T) {
	buf := buildBuffer(t, []int{4, 4, 4})
	mask := []bool{true, false, true}
	s, err := NewSequenceSampler(buf, 2, 0, 0, mask)
	if err != nil {
		t.Fatalf("NewSequenceSampler error: %v", err)
	}
	if got := s.Len(); got != 6 {
		t.Fatalf("expected 6 windows, got %d", got)
	}
	for i := 0; i < s.Len(); i++ {
		win, err := s.SampleSequence(i)
		if err != nil {
			t.Fatalf("SampleSequence(%d) error: %v", i, err)
		}
		for _, v := range win["id"].Data {
			if v == 1 {
				t.Fatalf("window %d references the masked-out episode", i)
			}
		}
	}

	if _, err := NewSequenceSampler(buf, 2, 0, 0, []bool{true}); err == nil {
		t.Fatalf("expected error for mask length mismatch")
	}
}
