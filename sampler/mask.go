// Package sampler splits stored episodes into train/validation sets and
// yields fixed-length, padded timestep windows indexed by a linear index.
package sampler

import (
	"math"
	"math/rand"
)

// ValMask returns a deterministic validation mask over nEpisodes episodes.
// For valRatio > 0 the number of validation episodes is
// min(max(1, round(nEpisodes*valRatio)), nEpisodes-1), so a split always
// leaves at least one episode on each side. valRatio <= 0 selects none.
func ValMask(nEpisodes int, valRatio float64, seed int64) []bool {
	mask := make([]bool, nEpisodes)
	if valRatio <= 0 || nEpisodes < 2 {
		return mask
	}
	nVal := int(math.Round(float64(nEpisodes) * valRatio))
	if nVal < 1 {
		nVal = 1
	}
	if nVal > nEpisodes-1 {
		nVal = nEpisodes - 1
	}
	rng := rand.New(rand.NewSource(seed))
	for _, i := range rng.Perm(nEpisodes)[:nVal] {
		mask[i] = true
	}
	return mask
}

// Complement returns the element-wise negation of mask.
func Complement(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, m := range mask {
		out[i] = !m
	}
	return out
}

// DownsampleMask returns a copy of mask with at most maxN entries left true,
// chosen deterministically from seed. maxN <= 0 means no limit.
func DownsampleMask(mask []bool, maxN int, seed int64) []bool {
	out := make([]bool, len(mask))
	copy(out, mask)
	if maxN <= 0 {
		return out
	}
	trueIdx := make([]int, 0, len(mask))
	for i, m := range mask {
		if m {
			trueIdx = append(trueIdx, i)
		}
	}
	if len(trueIdx) <= maxN {
		return out
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = false
	}
	for _, j := range rng.Perm(len(trueIdx))[:maxN] {
		out[trueIdx[j]] = true
	}
	return out
}

// CountTrue returns the number of true entries in mask.
func CountTrue(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}
