package extraction

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"cellcrops/internal/models"
)

// twoFOVs builds the fixture used by several tests: FOV 0 holds ids {1,2},
// FOV 1 holds ids {1,3}.
func twoFOVs() ([]models.LabelMask, []models.Stack) {
	m0 := models.NewLabelMask(200, 200)
	paintRect(m0, 2, 100, 109, 100, 109)
	paintRect(m0, 1, 80, 89, 80, 89)

	m1 := models.NewLabelMask(200, 200)
	paintRect(m1, 3, 110, 119, 80, 89)
	paintRect(m1, 1, 85, 94, 110, 119)

	return []models.LabelMask{m0, m1}, []models.Stack{gradientStack(200, 200, 4), gradientStack(200, 200, 4)}
}

func newTestOrchestrator(t *testing.T, p Params) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(p, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

func TestExtractAllOrdering(t *testing.T) {
	masks, images := twoFOVs()
	res, err := newTestOrchestrator(t, DefaultParams()).ExtractAll(context.Background(), masks, images)
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}

	want := []InstanceRef{{0, 1}, {0, 2}, {1, 1}, {1, 3}}
	if !reflect.DeepEqual(res.Instances, want) {
		t.Fatalf("Expected order %v, got %v", want, res.Instances)
	}
	if len(res.Crops) != 4 || len(res.MaskCrops) != 4 || len(res.Centers) != 4 {
		t.Fatalf("Output sequences are not parallel: %d crops, %d mask crops, %d centers",
			len(res.Crops), len(res.MaskCrops), len(res.Centers))
	}
	wantCenters := []models.Point{{Row: 84, Col: 84}, {Row: 104, Col: 104}, {Row: 89, Col: 114}, {Row: 114, Col: 84}}
	if !reflect.DeepEqual(res.Centers, wantCenters) {
		t.Errorf("Expected centers %v, got %v", wantCenters, res.Centers)
	}
	if res.Diagnostics.Extracted != 4 || res.Diagnostics.Instances != 4 {
		t.Errorf("Unexpected diagnostics: %+v", res.Diagnostics)
	}
}

func TestExtractAllNonLeakage(t *testing.T) {
	masks, images := twoFOVs()
	// Make FOV 0's instances touch
	paintRect(masks[0], 2, 80, 89, 90, 99)

	p := DefaultParams()
	o := newTestOrchestrator(t, p)
	res, err := o.ExtractAll(context.Background(), masks, images)
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}

	for i, crop := range res.Crops {
		ref := res.Instances[i]
		win := o.extractor.Window(res.Centers[i], images[ref.FOV].Rows, images[ref.FOV].Cols)
		mask := masks[ref.FOV]
		for h := 0; h < crop.Rows; h++ {
			for w := 0; w < crop.Cols; w++ {
				for ch := 0; ch < crop.Channels; ch++ {
					if crop.At(h, w, ch) != 0 && mask.At(win.Row0+h, win.Col0+w) != ref.ID {
						t.Fatalf("Crop %d (%v): pixel (%d,%d) leaks from label %d",
							i, ref, h, w, mask.At(win.Row0+h, win.Col0+w))
					}
				}
				if res.MaskCrops[i].At(h, w) != mask.At(win.Row0+h, win.Col0+w) {
					t.Fatalf("Mask crop %d misaligned at (%d,%d)", i, h, w)
				}
			}
		}
	}
}

func TestExtractAllMaskCropIsUnmasked(t *testing.T) {
	masks, images := twoFOVs()
	paintRect(masks[0], 2, 80, 89, 90, 99)

	res, err := newTestOrchestrator(t, DefaultParams()).ExtractAll(context.Background(), masks, images)
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}

	// The mask crop of (fov 0, id 1) should still show its neighbour
	found := false
	for _, v := range res.MaskCrops[0].Labels {
		if v == 2 {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected neighbouring label 2 inside the mask crop of id 1")
	}
}

func TestExtractAllBoundaryExclusion(t *testing.T) {
	mask := models.NewLabelMask(200, 200)
	paintRect(mask, 1, 5, 14, 90, 99)    // center row 9
	paintRect(mask, 2, 90, 99, 185, 194) // center col 189
	paintRect(mask, 3, 90, 99, 90, 99)   // well inside
	images := []models.Stack{gradientStack(200, 200, 1)}

	p := DefaultParams()
	p.SkipUncroppable = false
	res, err := newTestOrchestrator(t, p).ExtractAll(context.Background(), []models.LabelMask{mask}, images)
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}
	if !reflect.DeepEqual(res.Instances, []InstanceRef{{0, 3}}) {
		t.Errorf("Expected only id 3, got %v", res.Instances)
	}
	if res.Diagnostics.NearBorder != 2 {
		t.Errorf("Expected 2 near-border instances, got %d", res.Diagnostics.NearBorder)
	}

	// With the default settings the same instances are dropped by the locator
	res, err = newTestOrchestrator(t, DefaultParams()).ExtractAll(context.Background(), []models.LabelMask{mask}, images)
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}
	if !reflect.DeepEqual(res.Instances, []InstanceRef{{0, 3}}) {
		t.Errorf("Expected only id 3, got %v", res.Instances)
	}
	if res.Diagnostics.Uncroppable != 2 {
		t.Errorf("Expected 2 uncroppable instances, got %d", res.Diagnostics.Uncroppable)
	}
}

func TestExtractAllIdempotentAcrossWorkers(t *testing.T) {
	masks, images := twoFOVs()
	for i := 0; i < 4; i++ {
		m := models.NewLabelMask(200, 200)
		paintRect(m, int32(i+1), 80+i, 95+i, 90, 110)
		paintRect(m, int32(i+10), 110, 120, 80+2*i, 95+2*i)
		masks = append(masks, m)
		images = append(images, gradientStack(200, 200, 4))
	}

	serial, err := newTestOrchestrator(t, DefaultParams()).ExtractAll(context.Background(), masks, images)
	if err != nil {
		t.Fatalf("Serial ExtractAll failed: %v", err)
	}

	p := DefaultParams()
	p.NumWorkers = 4
	par := newTestOrchestrator(t, p)
	for run := 0; run < 3; run++ {
		res, err := par.ExtractAll(context.Background(), masks, images)
		if err != nil {
			t.Fatalf("Parallel ExtractAll failed: %v", err)
		}
		if !reflect.DeepEqual(res.Instances, serial.Instances) || !reflect.DeepEqual(res.Centers, serial.Centers) {
			t.Fatalf("Run %d: ordering differs from serial run", run)
		}
		for i := range res.Crops {
			if !equalPix(res.Crops[i].Pix, serial.Crops[i].Pix) {
				t.Fatalf("Run %d: crop %d differs from serial run", run, i)
			}
			if !reflect.DeepEqual(res.MaskCrops[i], serial.MaskCrops[i]) {
				t.Fatalf("Run %d: mask crop %d differs from serial run", run, i)
			}
		}
	}
}

func equalPix(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	ab := make([]byte, 0, len(a)*2)
	bb := make([]byte, 0, len(b)*2)
	for i := range a {
		ab = append(ab, byte(a[i]), byte(a[i]>>8))
		bb = append(bb, byte(b[i]), byte(b[i]>>8))
	}
	return bytes.Equal(ab, bb)
}

func TestExtractAllLengthMismatch(t *testing.T) {
	masks, images := twoFOVs()
	_, err := newTestOrchestrator(t, DefaultParams()).ExtractAll(context.Background(), masks, images[:1])
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("Expected ErrLengthMismatch, got %v", err)
	}
}

func TestExtractAllContainsShapeMismatch(t *testing.T) {
	masks, images := twoFOVs()
	images[0] = gradientStack(150, 200, 4)

	res, err := newTestOrchestrator(t, DefaultParams()).ExtractAll(context.Background(), masks, images)
	if err != nil {
		t.Fatalf("Shape mismatch in one FOV should not abort the run: %v", err)
	}
	if len(res.Diagnostics.FOVErrors) != 1 || res.Diagnostics.FOVErrors[0].FOV != 0 {
		t.Fatalf("Expected one error for FOV 0, got %v", res.Diagnostics.FOVErrors)
	}
	if !errors.Is(res.Diagnostics.FOVErrors[0].Err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", res.Diagnostics.FOVErrors[0].Err)
	}
	if !reflect.DeepEqual(res.Instances, []InstanceRef{{1, 1}, {1, 3}}) {
		t.Errorf("Expected FOV 1 results only, got %v", res.Instances)
	}
}

func TestExtractAllSkipsMissingIDs(t *testing.T) {
	mask := models.NewLabelMask(200, 200)
	paintRect(mask, 2, 80, 89, 80, 89)
	paintRect(mask, 7, 100, 109, 100, 109)

	res, err := newTestOrchestrator(t, DefaultParams()).ExtractAll(context.Background(),
		[]models.LabelMask{mask}, []models.Stack{gradientStack(200, 200, 1)})
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}
	// The maximum id must be included and the gap ids never visited
	if !reflect.DeepEqual(res.Instances, []InstanceRef{{0, 2}, {0, 7}}) {
		t.Errorf("Expected ids 2 and 7, got %v", res.Instances)
	}
	if res.Diagnostics.Instances != 2 || res.Diagnostics.Degenerate != 0 {
		t.Errorf("Unexpected diagnostics: %+v", res.Diagnostics)
	}
}

func TestExtractAllCancelled(t *testing.T) {
	masks, images := twoFOVs()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 2} {
		p := DefaultParams()
		p.NumWorkers = workers
		res, err := newTestOrchestrator(t, p).ExtractAll(ctx, masks, images)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Workers %d: expected context.Canceled, got %v", workers, err)
		}
		if res != nil {
			t.Errorf("Workers %d: expected no partial result, got %d crops", workers, res.Len())
		}
	}
}

func TestExtractAllVerifyMode(t *testing.T) {
	masks, images := twoFOVs()
	// id 3 in FOV 1 gains a detached fragment below it
	paintRect(masks[1], 3, 125, 128, 80, 89)

	p := DefaultParams()
	p.Verify = true
	res, err := newTestOrchestrator(t, p).ExtractAll(context.Background(), masks, images)
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}
	if res.Diagnostics.AlignmentFailures != 0 {
		t.Errorf("Expected no alignment failures, got %d", res.Diagnostics.AlignmentFailures)
	}
	if res.Diagnostics.ContiguityViolations != 1 {
		t.Errorf("Expected one contiguity violation, got %d", res.Diagnostics.ContiguityViolations)
	}
	if res.Len() != 4 {
		t.Errorf("Expected 4 crops, got %d", res.Len())
	}
}

func TestNewOrchestratorRejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.EdgeLength = 0
	if _, err := NewOrchestrator(p, nil); err == nil {
		t.Error("Expected error for zero edge length")
	}
}
