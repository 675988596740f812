package composite

import (
	"fmt"

	"cellcrops/internal/models"
)

// Layout describes how a flat, ordered list of scans maps onto fields of view.
// Scans are grouped channel-major: the scan of FOV i in channel group g sits
// at index i + g*FOVCount.
type Layout struct {
	// FOVCount is the number of fields of view. Zero means derive it from the
	// number of scans.
	FOVCount int

	// ChannelOrder names the channel groups in acquisition order
	ChannelOrder []string

	// Reference is the marker added into every composite plane
	Reference string

	// Planes are the markers for composite planes 0, 1 and 2. The last one is
	// the structural (nuclear) marker.
	Planes [3]string
}

// DefaultLayout is the four-marker panel: DAPI, CK, CD45 and FITC
func DefaultLayout() Layout {
	return Layout{
		ChannelOrder: []string{"dapi", "ck", "cd45", "fitc"},
		Reference:    "fitc",
		Planes:       [3]string{"ck", "cd45", "dapi"},
	}
}

// Validate checks that every composite marker is part of the channel order
func (l Layout) Validate() error {
	if len(l.ChannelOrder) == 0 {
		return fmt.Errorf("layout: empty channel order")
	}
	if l.FOVCount < 0 {
		return fmt.Errorf("layout: negative fov count %d", l.FOVCount)
	}
	seen := make(map[string]bool, len(l.ChannelOrder))
	for _, name := range l.ChannelOrder {
		if seen[name] {
			return fmt.Errorf("layout: channel %q listed twice", name)
		}
		seen[name] = true
	}
	for _, name := range append([]string{l.Reference}, l.Planes[:]...) {
		if !seen[name] {
			return fmt.Errorf("layout: composite marker %q not in channel order %v", name, l.ChannelOrder)
		}
	}
	return nil
}

func (l Layout) channelIndex(name string) int {
	for i, n := range l.ChannelOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// GroupFOVs splits the flat scan list into per-FOV plane sets ordered like
// ChannelOrder. Scans beyond FOVCount*len(ChannelOrder) are ignored.
func (l Layout) GroupFOVs(scans []models.Plane) ([][]models.Plane, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	groups := len(l.ChannelOrder)
	fovCount := l.FOVCount
	if fovCount == 0 {
		if len(scans)%groups != 0 {
			return nil, fmt.Errorf("layout: %d scans do not divide into %d channel groups", len(scans), groups)
		}
		fovCount = len(scans) / groups
	}
	if len(scans) < fovCount*groups {
		return nil, fmt.Errorf("layout: need %d scans for %d fields of view, got %d",
			fovCount*groups, fovCount, len(scans))
	}

	fovs := make([][]models.Plane, fovCount)
	for i := 0; i < fovCount; i++ {
		planes := make([]models.Plane, groups)
		for g := 0; g < groups; g++ {
			planes[g] = scans[i+g*fovCount]
		}
		fovs[i] = planes
	}
	return fovs, nil
}

// Composite synthesizes the segmentation input for one FOV's planes
func (l Layout) Composite(fov []models.Plane) (models.Stack, error) {
	if len(fov) != len(l.ChannelOrder) {
		return models.Stack{}, fmt.Errorf("layout: expected %d planes, got %d", len(l.ChannelOrder), len(fov))
	}
	return Synthesize(
		fov[l.channelIndex(l.Reference)],
		fov[l.channelIndex(l.Planes[0])],
		fov[l.channelIndex(l.Planes[1])],
		fov[l.channelIndex(l.Planes[2])],
	)
}

// StackPlanes interleaves same-shape planes into one multi-channel image
func StackPlanes(planes []models.Plane) (models.Stack, error) {
	if len(planes) == 0 {
		return models.Stack{}, fmt.Errorf("composite: no planes to stack")
	}
	first := planes[0]
	for _, p := range planes[1:] {
		if !first.SameShape(p) {
			return models.Stack{}, fmt.Errorf("%w: %dx%d vs %dx%d",
				ErrShapeMismatch, first.Rows, first.Cols, p.Rows, p.Cols)
		}
	}

	n := len(planes)
	out := models.NewStack(first.Rows, first.Cols, n)
	for ch, p := range planes {
		for i, v := range p.Pix {
			out.Pix[i*n+ch] = v
		}
	}
	return out, nil
}
