package extraction

import (
	"fmt"
	"runtime"
)

// ScanMode selects how the bounding box locator walks the mask
type ScanMode int

const (
	// ScanFast stops early under the contiguity precondition: each instance
	// occupies one unbroken run of rows, and one unbroken run of columns per row.
	ScanFast ScanMode = iota

	// ScanFull visits every pixel. It is the reference implementation.
	ScanFull
)

func (m ScanMode) String() string {
	switch m {
	case ScanFast:
		return "fast"
	case ScanFull:
		return "full"
	default:
		return fmt.Sprintf("ScanMode(%d)", int(m))
	}
}

// ParseScanMode maps "fast" or "full" onto a ScanMode
func ParseScanMode(s string) (ScanMode, error) {
	switch s {
	case "fast", "":
		return ScanFast, nil
	case "full":
		return ScanFull, nil
	default:
		return ScanFast, fmt.Errorf("unknown scan mode %q (must be fast or full)", s)
	}
}

// Params holds the crop geometry and orchestration settings shared by every
// component of the engine.
type Params struct {
	// EdgeLength is the crop size in both axes
	EdgeLength int

	// HalfLow and HalfHigh split the window around the center.
	// HalfLow+HalfHigh must equal EdgeLength.
	HalfLow  int
	HalfHigh int

	// Margin is the minimum distance between a center and any image border
	Margin int

	// ScanMode picks the bounding box scan strategy
	ScanMode ScanMode

	// SkipUncroppable drops instances whose bounding box fails the
	// edge-distance check of the locator
	SkipUncroppable bool

	// Verify turns on the alignment and scan cross-checks
	Verify bool

	// NumWorkers bounds FOV-level parallelism. 1 keeps processing sequential.
	NumWorkers int
}

// DefaultParams returns the 75 pixel geometry (38 low, 37 high, margin 38)
func DefaultParams() Params {
	return Params{
		EdgeLength:      75,
		HalfLow:         38,
		HalfHigh:        37,
		Margin:          MarginFor(75),
		ScanMode:        ScanFast,
		SkipUncroppable: true,
		NumWorkers:      1,
	}
}

// MarginFor is half the edge length rounded half up (75 -> 38)
func MarginFor(edgeLength int) int {
	return (edgeLength + 1) / 2
}

// Validate checks the geometry is self-consistent
func (p Params) Validate() error {
	if p.EdgeLength <= 0 {
		return fmt.Errorf("edge length must be positive, got %d", p.EdgeLength)
	}
	if p.HalfLow < 0 || p.HalfHigh < 0 {
		return fmt.Errorf("window halves must be non-negative, got %d/%d", p.HalfLow, p.HalfHigh)
	}
	if p.HalfLow+p.HalfHigh != p.EdgeLength {
		return fmt.Errorf("window halves %d+%d do not sum to edge length %d", p.HalfLow, p.HalfHigh, p.EdgeLength)
	}
	if p.Margin < 0 {
		return fmt.Errorf("margin must be non-negative, got %d", p.Margin)
	}
	if p.NumWorkers < 0 {
		return fmt.Errorf("worker count must be non-negative, got %d", p.NumWorkers)
	}
	return nil
}

func (p Params) workers(jobs int) int {
	n := p.NumWorkers
	if n == 0 {
		n = runtime.NumCPU()
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}
