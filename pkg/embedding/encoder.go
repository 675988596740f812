// Package embedding turns instance crops into feature vectors and writes
// them out next to their spatial coordinates.
package embedding

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"cellcrops/internal/models"
)

// Encoder maps a batch of crops to one embedding per crop, in order
type Encoder interface {
	Encode(ctx context.Context, batch []models.Stack) ([][]float64, error)
}

// MaskedEncoder is an Encoder that can also take the exact instance
// membership of every crop pixel. members[i] has one entry per pixel of
// batch[i] in row-major order.
type MaskedEncoder interface {
	Encoder
	EncodeMasked(ctx context.Context, batch []models.Stack, members [][]bool) ([][]float64, error)
}

// Membership marks the pixels of maskCrop that belong to instance id
func Membership(maskCrop models.LabelMask, id int32) []bool {
	in := make([]bool, len(maskCrop.Labels))
	for i, v := range maskCrop.Labels {
		in[i] = v == id
	}
	return in
}

// StatsEncoder is a model-free baseline. For every channel it reports the
// mean, standard deviation and maximum over the instance's pixels (scaled to
// [0,1]), followed by the fraction of the crop the instance covers.
//
// Instance pixels come from the membership passed to EncodeMasked. Encode,
// which has none, counts every pixel with a nonzero channel.
type StatsEncoder struct{}

// Dims is the embedding length for crops with the given channel count
func (StatsEncoder) Dims(channels int) int {
	return 3*channels + 1
}

// Encode computes the statistics vector for every crop in batch
func (e StatsEncoder) Encode(ctx context.Context, batch []models.Stack) ([][]float64, error) {
	return e.EncodeMasked(ctx, batch, nil)
}

// EncodeMasked computes the statistics over the given instance pixels. A nil
// members slice, or a nil entry, falls back to the nonzero-pixel rule.
func (e StatsEncoder) EncodeMasked(ctx context.Context, batch []models.Stack, members [][]bool) ([][]float64, error) {
	if members != nil && len(members) != len(batch) {
		return nil, fmt.Errorf("%d membership masks for %d crops", len(members), len(batch))
	}
	out := make([][]float64, len(batch))
	for i, crop := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var in []bool
		if members != nil {
			in = members[i]
		}
		if in != nil && len(in) != crop.Rows*crop.Cols {
			return nil, fmt.Errorf("crop %d: membership has %d pixels, crop has %d", i, len(in), crop.Rows*crop.Cols)
		}
		out[i] = e.encodeOne(crop, in)
	}
	return out, nil
}

func (e StatsEncoder) encodeOne(crop models.Stack, in []bool) []float64 {
	n := crop.Rows * crop.Cols
	fg := make([]int, 0, n)
	for px := 0; px < n; px++ {
		if in != nil {
			if in[px] {
				fg = append(fg, px)
			}
			continue
		}
		for ch := 0; ch < crop.Channels; ch++ {
			if crop.Pix[px*crop.Channels+ch] != 0 {
				fg = append(fg, px)
				break
			}
		}
	}

	vec := make([]float64, e.Dims(crop.Channels))
	if len(fg) == 0 {
		return vec
	}

	values := make([]float64, len(fg))
	for ch := 0; ch < crop.Channels; ch++ {
		peak := 0.0
		for i, px := range fg {
			v := float64(crop.Pix[px*crop.Channels+ch]) / models.MaxIntensity
			values[i] = v
			peak = math.Max(peak, v)
		}
		mean, std := stat.MeanStdDev(values, nil)
		if math.IsNaN(std) {
			std = 0
		}
		vec[3*ch] = mean
		vec[3*ch+1] = std
		vec[3*ch+2] = peak
	}
	vec[len(vec)-1] = float64(len(fg)) / float64(n)
	return vec
}

// EncodeAll feeds crops to enc in batches of batchSize, keeping input order
func EncodeAll(ctx context.Context, enc Encoder, crops []models.Stack, batchSize int) ([][]float64, error) {
	return EncodeInstances(ctx, enc, crops, nil, batchSize)
}

// EncodeInstances is EncodeAll with per-crop instance membership. members is
// handed to enc in matching batches when enc is a MaskedEncoder and ignored
// otherwise.
func EncodeInstances(ctx context.Context, enc Encoder, crops []models.Stack, members [][]bool, batchSize int) ([][]float64, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if members != nil && len(members) != len(crops) {
		return nil, fmt.Errorf("%d membership masks for %d crops", len(members), len(crops))
	}
	masked, useMembers := enc.(MaskedEncoder)
	useMembers = useMembers && members != nil

	out := make([][]float64, 0, len(crops))
	for start := 0; start < len(crops); start += batchSize {
		end := start + batchSize
		if end > len(crops) {
			end = len(crops)
		}
		var (
			vecs [][]float64
			err  error
		)
		if useMembers {
			vecs, err = masked.EncodeMasked(ctx, crops[start:end], members[start:end])
		} else {
			vecs, err = enc.Encode(ctx, crops[start:end])
		}
		if err != nil {
			return nil, fmt.Errorf("batch at %d: %w", start, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("batch at %d: encoder returned %d vectors for %d crops", start, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
