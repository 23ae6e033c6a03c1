package bc

import (
	"path/filepath"
	"testing"

	"github.com/robostack/boxdelivery/dataset"
	"github.com/robostack/boxdelivery/replay"
)

// mockDataset implements the minimal Dataset surface required by the trainer.
type mockDataset struct {
	inputs [][]float32
	labels [][]float32
}

func (m *mockDataset) Len() int { return len(m.inputs) }

func (m *mockDataset) Batch(indices []int) ([][]float32, [][]float32, error) {
	in := make([][]float32, len(indices))
	la := make([][]float32, len(indices))
	for i, idx := range indices {
		in[i] = m.inputs[idx]
		la[i] = m.labels[idx]
	}
	return in, la, nil
}

func mse(preds, labels [][]float32) float64 {
	var sum float64
	var n int
	for i := range preds {
		for j := range preds[i] {
			d := float64(preds[i][j] - labels[i][j])
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// TestTrainReducesLoss verifies the trainer reduces MSE on a synthetic
// linear regression problem.
func TestTrainReducesLoss(t *testing.T) {
	const N = 120
	inputs := make([][]float32, N)
	labels := make([][]float32, N)
	for i := 0; i < N; i++ {
		x := float32(i%10) / 10
		y := float32((i/10)%10) / 10
		inputs[i] = []float32{x, y, 0}
		labels[i] = []float32{2*x + 0.5*y, x - y}
	}
	ds := &mockDataset{inputs: inputs, labels: labels}

	model, err := NewModel(Config{
		HiddenSizes:  []int{32, 16},
		LearningRate: 0.01,
		Epochs:       40,
		BatchSize:    16,
		Seed:         42,
	}, 3, 2)
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}

	predBefore, err := model.PredictBatch(inputs[:20])
	if err != nil {
		t.Fatalf("PredictBatch(before) error: %v", err)
	}
	before := mse(predBefore, labels[:20])

	if err := model.Train(ds); err != nil {
		t.Fatalf("Train error: %v", err)
	}

	predAfter, err := model.PredictBatch(inputs[:20])
	if err != nil {
		t.Fatalf("PredictBatch(after) error: %v", err)
	}
	after := mse(predAfter, labels[:20])

	if after >= before {
		t.Fatalf("training did not reduce loss: before=%v after=%v", before, after)
	}
}

func TestModelValidation(t *testing.T) {
	if _, err := NewModel(Config{}, 0, 2); err == nil {
		t.Fatalf("expected error for zero input dim")
	}
	model, err := NewModel(Config{Seed: 1}, 3, 2)
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if err := model.Train(nil); err == nil {
		t.Fatalf("expected error for nil dataset")
	}
	if _, err := model.PredictBatch([][]float32{{1, 2}}); err == nil {
		t.Fatalf("expected error for wrong input dim")
	}
}

// TestTrainFromLowdimDataset wires the trainer to a real lowdim adapter over
// a tiny on-disk store.
func TestTrainFromLowdimDataset(t *testing.T) {
	buf := replay.NewBuffer()
	step := 0
	for _, n := range []int{6, 6, 6} {
		state := make([]float32, n*2)
		goal := make([]float32, n*2)
		action := make([]float32, n*2)
		valid := make([]float32, n)
		for i := 0; i < n; i++ {
			state[i*2] = float32(step) / 20
			state[i*2+1] = 1 - float32(step)/20
			goal[i*2] = 0.5
			goal[i*2+1] = 0.25
			// Action is a linear function of state, learnable by the MLP.
			action[i*2] = state[i*2] * 2
			action[i*2+1] = state[i*2+1] - 0.5
			valid[i] = 1
			step++
		}
		fields := map[string]*replay.Array{}
		var err error
		if fields["state_positions"], err = replay.NewArray(state, n, 2); err != nil {
			t.Fatalf("NewArray error: %v", err)
		}
		if fields["goal"], err = replay.NewArray(goal, n, 2); err != nil {
			t.Fatalf("NewArray error: %v", err)
		}
		if fields["action"], err = replay.NewArray(action, n, 2); err != nil {
			t.Fatalf("NewArray error: %v", err)
		}
		if fields["valid_obs_mask"], err = replay.NewArray(valid, n, 1); err != nil {
			t.Fatalf("NewArray error: %v", err)
		}
		if err := buf.AddEpisode(fields); err != nil {
			t.Fatalf("AddEpisode error: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "lowdim.gob")
	if err := buf.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	ds, err := dataset.NewLowdimDataset(dataset.LowdimConfig{StorePath: path, Horizon: 2})
	if err != nil {
		t.Fatalf("NewLowdimDataset error: %v", err)
	}

	// One window flattens to horizon * (state+goal) inputs and
	// horizon * action labels.
	model, err := NewModel(Config{Epochs: 30, BatchSize: 4, LearningRate: 0.05, Seed: 3}, 2*4, 2*2)
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	inputs, labels, err := ds.Batch(indices)
	if err != nil {
		t.Fatalf("Batch error: %v", err)
	}
	predBefore, err := model.PredictBatch(inputs)
	if err != nil {
		t.Fatalf("PredictBatch(before) error: %v", err)
	}
	before := mse(predBefore, labels)

	if err := model.Train(ds); err != nil {
		t.Fatalf("Train error: %v", err)
	}
	predAfter, err := model.PredictBatch(inputs)
	if err != nil {
		t.Fatalf("PredictBatch(after) error: %v", err)
	}
	after := mse(predAfter, labels)

	if after >= before {
		t.Fatalf("training did not reduce loss: before=%v after=%v", before, after)
	}
}
