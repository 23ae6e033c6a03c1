// Package dataset exposes pre-recorded box-delivery manipulation episodes as
// fixed-length training sequences for policy learning. Two adapters cover the
// two observation modalities: image+state and flattened lowdim state+goal.
package dataset

import (
	"fmt"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/robostack/boxdelivery/normalizer"
	"github.com/robostack/boxdelivery/replay"
	"github.com/robostack/boxdelivery/sampler"
)

// Store fields consumed by the image adapter.
const (
	imageKey       = "img"
	imageStateKey  = "state"
	imageActionKey = "action"
)

// Normalizer keys produced by the image adapter.
const (
	obsImageKey    = "image"
	obsAgentPosKey = "agent_pos"
)

// ImageConfig configures an ImageDataset.
type ImageConfig struct {
	// StorePath is the on-disk replay store to load.
	StorePath string

	// Horizon is the number of consecutive timesteps per sample (default 1).
	Horizon int

	// PadBefore and PadAfter extend sampling past episode edges; missing
	// steps are filled by edge replication.
	PadBefore int
	PadAfter  int

	// Seed drives the train/validation split and train downsampling
	// (default 42).
	Seed int64

	// ValRatio is the fraction of episodes held out for validation.
	ValRatio float64

	// MaxTrainEpisodes caps the train split after the validation split is
	// taken. Zero keeps all train episodes.
	MaxTrainEpisodes int

	// BatchSize used by Yield (default 32).
	BatchSize int
}

func (c *ImageConfig) setDefaults() {
	if c.Horizon <= 0 {
		c.Horizon = 1
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
}

// ImageSample is one training sample from an ImageDataset.
type ImageSample struct {
	// Image has shape (horizon, C, H, W) with pixel values in [0, 1].
	Image *tensors.Tensor
	// AgentPos has shape (horizon, 2): the first two state columns.
	AgentPos *tensors.Tensor
	// Action has shape (horizon, actionDim).
	Action *tensors.Tensor
}

// ImageDataset adapts the img/state/action fields of a replay store into
// image+state policy training sequences. The store is loaded once at
// construction and shared, read-only, with any validation view.
type ImageDataset struct {
	cfg       ImageConfig
	buffer    *replay.Buffer
	smp       *sampler.SequenceSampler
	trainMask []bool
	cursor    int
}

// NewImageDataset loads the store at cfg.StorePath, computes the train
// split, and builds a sampler restricted to it.
func NewImageDataset(cfg ImageConfig) (*ImageDataset, error) {
	cfg.setDefaults()
	buf, err := replay.CopyFromPath(cfg.StorePath, []string{imageKey, imageStateKey, imageActionKey})
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	valMask := sampler.ValMask(buf.NumEpisodes(), cfg.ValRatio, cfg.Seed)
	trainMask := sampler.DownsampleMask(sampler.Complement(valMask), cfg.MaxTrainEpisodes, cfg.Seed)
	return newImageView(cfg, buf, trainMask)
}

// newImageView builds an adapter over an already-loaded store with an
// explicit episode mask. Used for both construction and validation views.
func newImageView(cfg ImageConfig, buf *replay.Buffer, mask []bool) (*ImageDataset, error) {
	smp, err := sampler.NewSequenceSampler(buf, cfg.Horizon, cfg.PadBefore, cfg.PadAfter, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to build sampler: %w", err)
	}
	return &ImageDataset{cfg: cfg, buffer: buf, smp: smp, trainMask: mask}, nil
}

// ValidationDataset returns a new adapter over the same store whose sampler
// covers exactly the episodes this dataset excludes.
func (d *ImageDataset) ValidationDataset() (*ImageDataset, error) {
	return newImageView(d.cfg, d.buffer, sampler.Complement(d.trainMask))
}

// TrainMask returns a copy of the episode mask this dataset samples from.
func (d *ImageDataset) TrainMask() []bool {
	mask := make([]bool, len(d.trainMask))
	copy(mask, d.trainMask)
	return mask
}

// Normalizer fits a normalizer on the full action array and the agent
// position (first two state columns), and installs the fixed image-range
// transform under "image". Fitting uses the whole store, not just the train
// split.
func (d *ImageDataset) Normalizer(mode string, opts ...normalizer.Option) (*normalizer.LinearNormalizer, error) {
	action, err := d.buffer.Get(imageActionKey)
	if err != nil {
		return nil, err
	}
	state, err := d.buffer.Get(imageStateKey)
	if err != nil {
		return nil, err
	}
	agentPos, err := firstColumns(state, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to extract agent position: %w", err)
	}

	n := normalizer.New()
	data := map[string]*replay.Array{
		imageActionKey: action,
		obsAgentPosKey: agentPos,
	}
	if err := n.Fit(data, 1, mode, opts...); err != nil {
		return nil, err
	}
	n.Set(obsImageKey, normalizer.ImageRangeParams())
	return n, nil
}

// Len returns the number of windows available from the sampler.
func (d *ImageDataset) Len() int {
	return d.smp.Len()
}

// Name implements Dataset.
func (d *ImageDataset) Name() string {
	return "BoxDeliveryImage"
}

// sampleArrays fetches window idx and applies the per-timestep transform:
// image to channel-first in [0,1], agent position from the leading state
// columns, action passed through.
func (d *ImageDataset) sampleArrays(idx int) (image, agentPos, action *replay.Array, err error) {
	win, err := d.smp.SampleSequence(idx)
	if err != nil {
		return nil, nil, nil, err
	}
	image, err = imageToCHW(win[imageKey])
	if err != nil {
		return nil, nil, nil, err
	}
	agentPos, err = firstColumns(win[imageStateKey], 2)
	if err != nil {
		return nil, nil, nil, err
	}
	return image, agentPos, win[imageActionKey], nil
}

// Sample returns window idx as tensors.
func (d *ImageDataset) Sample(idx int) (*ImageSample, error) {
	image, agentPos, action, err := d.sampleArrays(idx)
	if err != nil {
		return nil, err
	}
	return &ImageSample{
		Image:    toTensor(image),
		AgentPos: toTensor(agentPos),
		Action:   toTensor(action),
	}, nil
}

// Yield returns the next mini-batch for the gomlx training loop: inputs are
// [image, agent_pos] and labels are [action], each with a leading batch
// dimension. Returns io.EOF once the epoch is exhausted.
func (d *ImageDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	indices := batchIndices(d.cursor, d.Len(), d.cfg.BatchSize)
	if indices == nil {
		return nil, nil, nil, io.EOF
	}
	d.cursor += len(indices)

	images := make([]*replay.Array, len(indices))
	positions := make([]*replay.Array, len(indices))
	actions := make([]*replay.Array, len(indices))
	for i, idx := range indices {
		images[i], positions[i], actions[i], err = d.sampleArrays(idx)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	imageBatch, err := stackWindows(images)
	if err != nil {
		return nil, nil, nil, err
	}
	posBatch, err := stackWindows(positions)
	if err != nil {
		return nil, nil, nil, err
	}
	actionBatch, err := stackWindows(actions)
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{toTensor(imageBatch), toTensor(posBatch)}
	labels = []*tensors.Tensor{toTensor(actionBatch)}
	return nil, inputs, labels, nil
}

// Restart rewinds Yield for a new epoch.
func (d *ImageDataset) Restart() error {
	d.cursor = 0
	return nil
}

// imageToCHW converts a (T, H, W, C) image window to channel-first
// (T, C, H, W) and rescales pixel values from [0, 255] to [0, 1].
func imageToCHW(arr *replay.Array) (*replay.Array, error) {
	if len(arr.Shape) != 4 {
		return nil, fmt.Errorf("expected (T, H, W, C) image array, got shape %v", arr.Shape)
	}
	t, h, w, c := arr.Shape[0], arr.Shape[1], arr.Shape[2], arr.Shape[3]
	out := make([]float32, len(arr.Data))
	for ti := 0; ti < t; ti++ {
		base := ti * h * w * c
		for hi := 0; hi < h; hi++ {
			for wi := 0; wi < w; wi++ {
				for ci := 0; ci < c; ci++ {
					src := base + (hi*w+wi)*c + ci
					dst := base + ((ci*h+hi)*w + wi)
					out[dst] = arr.Data[src] / 255
				}
			}
		}
	}
	return &replay.Array{Data: out, Shape: []int{t, c, h, w}}, nil
}
