// Package segmentation defines the boundary to the instance segmentation
// model and ships two implementations: one that reads masks an external model
// already produced, and a threshold + connected-components reference.
package segmentation

import (
	"context"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"cellcrops/internal/models"
	"cellcrops/pkg/imageio"
)

// Segmenter turns composites into one instance label mask per composite
type Segmenter interface {
	Segment(ctx context.Context, composites []models.Stack) ([]models.LabelMask, error)
}

// MaskDir serves masks written by an external model as mask_<i>.png
type MaskDir struct {
	Dir string
}

// Segment loads one mask per composite and checks the shapes line up
func (m MaskDir) Segment(ctx context.Context, composites []models.Stack) ([]models.LabelMask, error) {
	masks := make([]models.LabelMask, len(composites))
	for i, comp := range composites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mask, err := imageio.LoadMask(filepath.Join(m.Dir, imageio.MaskName(i)))
		if err != nil {
			return nil, fmt.Errorf("failed to load mask %d: %w", i, err)
		}
		if mask.Rows != comp.Rows || mask.Cols != comp.Cols {
			return nil, fmt.Errorf("mask %d is %dx%d, composite is %dx%d", i, mask.Rows, mask.Cols, comp.Rows, comp.Cols)
		}
		masks[i] = mask
	}
	return masks, nil
}

// Threshold labels 4-connected foreground components of one composite plane.
// Foreground is every pixel above mean + Sigma*stddev of that plane.
type Threshold struct {
	// Channel is the composite plane to threshold (2 = structural marker)
	Channel int

	// Sigma scales the standard deviation added to the mean
	Sigma float64

	// MinArea drops components with fewer pixels
	MinArea int
}

// Segment labels every composite independently
func (t Threshold) Segment(ctx context.Context, composites []models.Stack) ([]models.LabelMask, error) {
	masks := make([]models.LabelMask, len(composites))
	for i, comp := range composites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Channel < 0 || t.Channel >= comp.Channels {
			return nil, fmt.Errorf("composite %d has no channel %d", i, t.Channel)
		}
		masks[i] = t.label(comp.Channel(t.Channel))
	}
	return masks, nil
}

// Level is the foreground cut-off for a plane
func (t Threshold) Level(p models.Plane) float64 {
	values := make([]float64, len(p.Pix))
	for i, v := range p.Pix {
		values[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(values, nil)
	return mean + t.Sigma*std
}

func (t Threshold) label(p models.Plane) models.LabelMask {
	level := t.Level(p)
	mask := models.NewLabelMask(p.Rows, p.Cols)

	var (
		next  int32
		sizes = []int{0}
		queue []int
	)
	for start, v := range p.Pix {
		if float64(v) <= level || mask.Labels[start] != 0 {
			continue
		}
		next++
		sizes = append(sizes, 0)
		mask.Labels[start] = next
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			sizes[next]++

			r, c := i/p.Cols, i%p.Cols
			for _, n := range [4][2]int{{r - 1, c}, {r + 1, c}, {r, c - 1}, {r, c + 1}} {
				if n[0] < 0 || n[0] >= p.Rows || n[1] < 0 || n[1] >= p.Cols {
					continue
				}
				j := n[0]*p.Cols + n[1]
				if mask.Labels[j] == 0 && float64(p.Pix[j]) > level {
					mask.Labels[j] = next
					queue = append(queue, j)
				}
			}
		}
	}

	// Renumber so surviving ids stay dense and in raster order
	remap := make([]int32, len(sizes))
	var id int32
	for old := 1; old < len(sizes); old++ {
		if sizes[old] >= t.MinArea {
			id++
			remap[old] = id
		}
	}
	for i, v := range mask.Labels {
		if v > 0 {
			mask.Labels[i] = remap[v]
		}
	}
	return mask
}
