package dataset

import (
	"fmt"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/robostack/boxdelivery/normalizer"
	"github.com/robostack/boxdelivery/replay"
	"github.com/robostack/boxdelivery/sampler"
)

// Normalizer keys produced by the lowdim adapter.
const (
	lowdimObsKey    = "obs"
	lowdimActionKey = "action"
)

// LowdimConfig configures a LowdimDataset. Field-name parameters select
// which store fields participate; the defaults match the recorded
// box-delivery stores.
type LowdimConfig struct {
	// StorePath is the on-disk replay store to load.
	StorePath string

	// Horizon is the number of consecutive timesteps per sample (default 1).
	Horizon int

	// PadBefore and PadAfter extend sampling past episode edges.
	PadBefore int
	PadAfter  int

	// ObsKey names the per-timestep state field (default "state_positions").
	ObsKey string
	// StateKey names the per-timestep goal field appended to the observation
	// (default "goal").
	StateKey string
	// ActionKey names the action field (default "action").
	ActionKey string
	// MaskKey names the per-timestep validity field (default
	// "valid_obs_mask"). It is loaded alongside the others but not consumed
	// by the sample transform.
	MaskKey string

	// Seed drives the train/validation split and train downsampling
	// (default 42).
	Seed int64

	// ValRatio is the fraction of episodes held out for validation.
	ValRatio float64

	// MaxTrainEpisodes caps the train split. Zero keeps all train episodes.
	MaxTrainEpisodes int

	// BatchSize used by Yield (default 32).
	BatchSize int
}

func (c *LowdimConfig) setDefaults() {
	if c.Horizon <= 0 {
		c.Horizon = 1
	}
	if c.ObsKey == "" {
		c.ObsKey = "state_positions"
	}
	if c.StateKey == "" {
		c.StateKey = "goal"
	}
	if c.ActionKey == "" {
		c.ActionKey = "action"
	}
	if c.MaskKey == "" {
		c.MaskKey = "valid_obs_mask"
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
}

// LowdimSample is one training sample from a LowdimDataset.
type LowdimSample struct {
	// Obs has shape (horizon, flattenedStateDim+goalDim).
	Obs *tensors.Tensor
	// Action has shape (horizon, actionDim).
	Action *tensors.Tensor
}

// LowdimDataset adapts flattened state+goal fields of a replay store into
// lowdim policy training sequences.
type LowdimDataset struct {
	cfg       LowdimConfig
	buffer    *replay.Buffer
	smp       *sampler.SequenceSampler
	trainMask []bool
	cursor    int
}

// NewLowdimDataset loads the four named fields from cfg.StorePath, computes
// the train split, and builds a sampler restricted to it.
func NewLowdimDataset(cfg LowdimConfig) (*LowdimDataset, error) {
	cfg.setDefaults()
	keys := []string{cfg.ObsKey, cfg.StateKey, cfg.ActionKey, cfg.MaskKey}
	buf, err := replay.CopyFromPath(cfg.StorePath, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	valMask := sampler.ValMask(buf.NumEpisodes(), cfg.ValRatio, cfg.Seed)
	trainMask := sampler.DownsampleMask(sampler.Complement(valMask), cfg.MaxTrainEpisodes, cfg.Seed)
	return newLowdimView(cfg, buf, trainMask)
}

func newLowdimView(cfg LowdimConfig, buf *replay.Buffer, mask []bool) (*LowdimDataset, error) {
	smp, err := sampler.NewSequenceSampler(buf, cfg.Horizon, cfg.PadBefore, cfg.PadAfter, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to build sampler: %w", err)
	}
	return &LowdimDataset{cfg: cfg, buffer: buf, smp: smp, trainMask: mask}, nil
}

// ValidationDataset returns a new adapter over the same store whose sampler
// covers exactly the episodes this dataset excludes.
func (d *LowdimDataset) ValidationDataset() (*LowdimDataset, error) {
	return newLowdimView(d.cfg, d.buffer, sampler.Complement(d.trainMask))
}

// TrainMask returns a copy of the episode mask this dataset samples from.
func (d *LowdimDataset) TrainMask() []bool {
	mask := make([]bool, len(d.trainMask))
	copy(mask, d.trainMask)
	return mask
}

// buildRecord applies the per-timestep transform to a set of fields: the
// state field is flattened to (T, -1) and the goal field appended along the
// feature axis; the action field passes through unchanged.
func (d *LowdimDataset) buildRecord(fields map[string]*replay.Array) (obs, action *replay.Array, err error) {
	state, ok := fields[d.cfg.ObsKey]
	if !ok {
		return nil, nil, fmt.Errorf("record has no field %q", d.cfg.ObsKey)
	}
	goal, ok := fields[d.cfg.StateKey]
	if !ok {
		return nil, nil, fmt.Errorf("record has no field %q", d.cfg.StateKey)
	}
	action, ok = fields[d.cfg.ActionKey]
	if !ok {
		return nil, nil, fmt.Errorf("record has no field %q", d.cfg.ActionKey)
	}
	obs, err = replay.ConcatFeatures(state.Reshape2D(), goal.Reshape2D())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build observation: %w", err)
	}
	return obs, action, nil
}

// bufferFields returns the full, unwindowed store arrays keyed for
// buildRecord.
func (d *LowdimDataset) bufferFields() (map[string]*replay.Array, error) {
	fields := make(map[string]*replay.Array, 3)
	for _, key := range []string{d.cfg.ObsKey, d.cfg.StateKey, d.cfg.ActionKey} {
		arr, err := d.buffer.Get(key)
		if err != nil {
			return nil, err
		}
		fields[key] = arr
	}
	return fields, nil
}

// Normalizer fits on the record transform applied to the entire unwindowed
// store. Unlike the image adapter, which fits directly on raw per-timestep
// arrays, the lowdim normalizer sees the concatenated observation vector.
func (d *LowdimDataset) Normalizer(mode string, opts ...normalizer.Option) (*normalizer.LinearNormalizer, error) {
	fields, err := d.bufferFields()
	if err != nil {
		return nil, err
	}
	obs, action, err := d.buildRecord(fields)
	if err != nil {
		return nil, err
	}
	n := normalizer.New()
	data := map[string]*replay.Array{
		lowdimObsKey:    obs,
		lowdimActionKey: action,
	}
	if err := n.Fit(data, 1, mode, opts...); err != nil {
		return nil, err
	}
	return n, nil
}

// AllActions returns the entire action column, unwindowed, as one tensor.
func (d *LowdimDataset) AllActions() (*tensors.Tensor, error) {
	action, err := d.buffer.Get(d.cfg.ActionKey)
	if err != nil {
		return nil, err
	}
	return toTensor(action), nil
}

// Len returns the number of windows available from the sampler.
func (d *LowdimDataset) Len() int {
	return d.smp.Len()
}

// Name implements Dataset.
func (d *LowdimDataset) Name() string {
	return "BoxDeliveryLowdim"
}

func (d *LowdimDataset) sampleArrays(idx int) (obs, action *replay.Array, err error) {
	win, err := d.smp.SampleSequence(idx)
	if err != nil {
		return nil, nil, err
	}
	return d.buildRecord(win)
}

// Sample returns window idx as tensors.
func (d *LowdimDataset) Sample(idx int) (*LowdimSample, error) {
	obs, action, err := d.sampleArrays(idx)
	if err != nil {
		return nil, err
	}
	return &LowdimSample{Obs: toTensor(obs), Action: toTensor(action)}, nil
}

// Batch returns the windows at the given indices as flat per-window feature
// vectors: each observation is the horizon*obsDim flattening of the window,
// each label the horizon*actionDim flattening of its actions. This is the
// surface consumed by the bc trainer.
func (d *LowdimDataset) Batch(indices []int) (inputs [][]float32, labels [][]float32, err error) {
	inputs = make([][]float32, len(indices))
	labels = make([][]float32, len(indices))
	for i, idx := range indices {
		obs, action, err := d.sampleArrays(idx)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = obs.Data
		labels[i] = action.Data
	}
	return inputs, labels, nil
}

// Yield returns the next mini-batch for the gomlx training loop: inputs are
// [obs] and labels are [action], each with a leading batch dimension.
// Returns io.EOF once the epoch is exhausted.
func (d *LowdimDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	indices := batchIndices(d.cursor, d.Len(), d.cfg.BatchSize)
	if indices == nil {
		return nil, nil, nil, io.EOF
	}
	d.cursor += len(indices)

	obsWindows := make([]*replay.Array, len(indices))
	actionWindows := make([]*replay.Array, len(indices))
	for i, idx := range indices {
		obsWindows[i], actionWindows[i], err = d.sampleArrays(idx)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	obsBatch, err := stackWindows(obsWindows)
	if err != nil {
		return nil, nil, nil, err
	}
	actionBatch, err := stackWindows(actionWindows)
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{toTensor(obsBatch)}, []*tensors.Tensor{toTensor(actionBatch)}, nil
}

// Restart rewinds Yield for a new epoch.
func (d *LowdimDataset) Restart() error {
	d.cursor = 0
	return nil
}
