// Package extraction turns instance label masks plus raw multi-channel images
// into fixed-size, single-instance crops.
//
// The engine is made of four pieces that share one Params value:
//
//   - Locator finds an instance's bounding box and center
//   - IsCroppable drops instances centered too close to a border
//   - Extractor copies a clamped fixed-size window around a center
//   - MaskToInstance zeroes pixels that belong to other instances
//
// Orchestrator runs them over every (field of view, instance) pair and keeps
// the output ordered by field of view, then by ascending instance id.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cellcrops/internal/logger"
	"cellcrops/internal/models"
)

const component = "extraction"

// InstanceRef identifies the source of one crop
type InstanceRef struct {
	FOV int
	ID  int32
}

// FOVError records a failure contained to one field of view
type FOVError struct {
	FOV int
	Err error
}

func (e FOVError) Error() string {
	return fmt.Sprintf("fov %d: %v", e.FOV, e.Err)
}

// Diagnostics counts what happened to every instance id seen
type Diagnostics struct {
	FOVs        int
	Instances   int
	Extracted   int
	Degenerate  int
	Uncroppable int
	NearBorder  int

	// Only populated in verify mode
	AlignmentFailures    int
	ContiguityViolations int

	FOVErrors []FOVError
}

func (d *Diagnostics) add(o Diagnostics) {
	d.Instances += o.Instances
	d.Extracted += o.Extracted
	d.Degenerate += o.Degenerate
	d.Uncroppable += o.Uncroppable
	d.NearBorder += o.NearBorder
	d.AlignmentFailures += o.AlignmentFailures
	d.ContiguityViolations += o.ContiguityViolations
}

// Result holds parallel sequences: Crops[i], MaskCrops[i], Centers[i] and
// Instances[i] all describe the same instance.
type Result struct {
	Crops     []models.Stack
	MaskCrops []models.LabelMask
	Centers   []models.Point
	Instances []InstanceRef

	Diagnostics Diagnostics
}

// Len is the number of extracted crops
func (r *Result) Len() int {
	return len(r.Crops)
}

type fovResult struct {
	crops     []models.Stack
	maskCrops []models.LabelMask
	centers   []models.Point
	ids       []int32
	diag      Diagnostics
	err       error
}

// Orchestrator drives crop extraction across fields of view
type Orchestrator struct {
	params    Params
	locator   *Locator
	reference *Locator
	extractor *Extractor
	log       logger.Logger
}

// NewOrchestrator validates p and wires the engine components
func NewOrchestrator(p Params, log logger.Logger) (*Orchestrator, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction params: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	full := p
	full.ScanMode = ScanFull
	return &Orchestrator{
		params:    p,
		locator:   NewLocator(p),
		reference: NewLocator(full),
		extractor: NewExtractor(p),
		log:       log,
	}, nil
}

// ExtractAll crops every instance of every field of view. masks[i] labels
// images[i]. Failures inside one field of view are recorded in the result's
// diagnostics and do not stop the run. A length mismatch between masks and
// images, or cancellation of ctx, is returned as an error.
func (o *Orchestrator) ExtractAll(ctx context.Context, masks []models.LabelMask, images []models.Stack) (*Result, error) {
	if len(masks) != len(images) {
		return nil, fmt.Errorf("%w: %d masks, %d images", ErrLengthMismatch, len(masks), len(images))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slots := make([]fovResult, len(masks))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < o.params.workers(len(masks)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fov := range jobs {
				slots[fov] = o.extractFOV(fov, masks[fov], images[fov])
			}
		}()
	}

	var cancelled error
dispatch:
	for fov := range masks {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		case jobs <- fov:
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return nil, cancelled
	}

	// Merge in FOV order so the output order does not depend on scheduling
	res := &Result{}
	res.Diagnostics.FOVs = len(masks)
	for fov, s := range slots {
		if s.err != nil {
			res.Diagnostics.FOVErrors = append(res.Diagnostics.FOVErrors, FOVError{FOV: fov, Err: s.err})
			o.log.Warning(component, "field of view skipped", map[string]interface{}{
				"fov":   fov,
				"error": s.err.Error(),
			})
		}
		res.Diagnostics.add(s.diag)
		res.Crops = append(res.Crops, s.crops...)
		res.MaskCrops = append(res.MaskCrops, s.maskCrops...)
		res.Centers = append(res.Centers, s.centers...)
		for _, id := range s.ids {
			res.Instances = append(res.Instances, InstanceRef{FOV: fov, ID: id})
		}
	}

	o.log.Info(component, "extraction finished", map[string]interface{}{
		"fovs":        res.Diagnostics.FOVs,
		"instances":   res.Diagnostics.Instances,
		"extracted":   res.Diagnostics.Extracted,
		"degenerate":  res.Diagnostics.Degenerate,
		"uncroppable": res.Diagnostics.Uncroppable,
		"near_border": res.Diagnostics.NearBorder,
	})
	return res, nil
}

func (o *Orchestrator) extractFOV(fov int, mask models.LabelMask, img models.Stack) fovResult {
	var out fovResult
	if mask.Rows != img.Rows || mask.Cols != img.Cols {
		out.err = fmt.Errorf("%w: mask %dx%d, image %dx%d", ErrShapeMismatch, mask.Rows, mask.Cols, img.Rows, img.Cols)
		return out
	}
	if len(mask.Labels) != mask.Rows*mask.Cols || len(img.Pix) != img.Rows*img.Cols*img.Channels {
		out.err = fmt.Errorf("%w: buffer size does not match dimensions", ErrShapeMismatch)
		return out
	}

	for _, id := range Labels(mask) {
		out.diag.Instances++

		rec, err := o.locator.Locate(mask, id)
		switch {
		case errors.Is(err, ErrDegenerateInstance):
			out.diag.Degenerate++
			continue
		case errors.Is(err, ErrInstanceUncroppable):
			if o.params.SkipUncroppable {
				out.diag.Uncroppable++
				continue
			}
		}
		rec.FOV = fov

		if o.params.Verify && o.params.ScanMode == ScanFast {
			if ref, _ := o.reference.Locate(mask, id); ref.Box != rec.Box {
				out.diag.ContiguityViolations++
				o.log.Warning(component, "instance violates contiguity precondition", map[string]interface{}{
					"fov":      fov,
					"id":       id,
					"fast_box": rec.Box,
					"full_box": ref.Box,
				})
			}
		}

		if !IsCroppable(rec.Center, img.Rows, img.Cols, o.params.Margin) {
			out.diag.NearBorder++
			continue
		}

		crop, win := o.extractor.Extract(rec.Center, img)
		maskCrop := cropLabels(mask, win)
		MaskToInstance(crop, mask, id, win)

		if o.params.Verify {
			if err := checkAlignment(crop, img, mask, id, win); err != nil {
				out.diag.AlignmentFailures++
				o.log.Error(component, err, map[string]interface{}{"fov": fov, "id": id})
				continue
			}
		}

		out.crops = append(out.crops, crop)
		out.maskCrops = append(out.maskCrops, maskCrop)
		out.centers = append(out.centers, rec.Center)
		out.ids = append(out.ids, id)
		out.diag.Extracted++
	}

	o.log.Debug(component, "field of view processed", map[string]interface{}{
		"fov":       fov,
		"instances": out.diag.Instances,
		"extracted": out.diag.Extracted,
	})
	return out
}
