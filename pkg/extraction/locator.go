package extraction

import (
	"fmt"
	"sort"

	"cellcrops/internal/models"
)

// Locator finds the bounding box and center of one instance in a label mask
type Locator struct {
	edgeLength int
	mode       ScanMode
}

// NewLocator creates a locator using the crop edge length and scan mode in p
func NewLocator(p Params) *Locator {
	return &Locator{edgeLength: p.EdgeLength, mode: p.ScanMode}
}

// Locate computes the bounding box and center of instance id.
//
// ErrDegenerateInstance is returned when no pixel carries id. When the box
// sits within the crop edge length of an image border, the record is still
// returned together with an error wrapping ErrInstanceUncroppable.
func (l *Locator) Locate(mask models.LabelMask, id int32) (models.InstanceRecord, error) {
	var (
		box   models.Box
		found bool
	)
	if l.mode == ScanFull {
		box, found = scanFull(mask, id)
	} else {
		box, found = scanFast(mask, id)
	}
	if !found {
		return models.InstanceRecord{}, fmt.Errorf("%w: id %d", ErrDegenerateInstance, id)
	}

	rec := models.InstanceRecord{ID: id, Box: box, Center: box.Center()}

	w := l.edgeLength
	switch {
	case box.ColMin > mask.Cols-w:
		return rec, fmt.Errorf("%w: id %d left edge %d beyond %d", ErrInstanceUncroppable, id, box.ColMin, mask.Cols-w)
	case box.ColMax < w:
		return rec, fmt.Errorf("%w: id %d right edge %d before %d", ErrInstanceUncroppable, id, box.ColMax, w)
	case box.RowMin > mask.Rows-w:
		return rec, fmt.Errorf("%w: id %d top edge %d beyond %d", ErrInstanceUncroppable, id, box.RowMin, mask.Rows-w)
	case box.RowMax < w:
		return rec, fmt.Errorf("%w: id %d bottom edge %d before %d", ErrInstanceUncroppable, id, box.RowMax, w)
	}
	return rec, nil
}

// scanFast relies on contiguity: a row scan ends at the first non-matching
// pixel after a match, and the whole scan ends at the first empty row after
// a matching one. Instances split into vertical fragments are under-scanned.
func scanFast(mask models.LabelMask, id int32) (models.Box, bool) {
	box := models.Box{RowMin: mask.Rows, ColMin: mask.Cols, RowMax: -1, ColMax: -1}
	seen := false

	for r := 0; r < mask.Rows; r++ {
		row := mask.Labels[r*mask.Cols : (r+1)*mask.Cols]
		inRow := false
		for c, v := range row {
			if v != id {
				if inRow {
					break
				}
				continue
			}
			inRow = true
			extend(&box, r, c)
		}
		if inRow {
			seen = true
		} else if seen {
			break
		}
	}
	return box, seen
}

func scanFull(mask models.LabelMask, id int32) (models.Box, bool) {
	box := models.Box{RowMin: mask.Rows, ColMin: mask.Cols, RowMax: -1, ColMax: -1}
	found := false
	for i, v := range mask.Labels {
		if v == id {
			extend(&box, i/mask.Cols, i%mask.Cols)
			found = true
		}
	}
	return box, found
}

func extend(b *models.Box, r, c int) {
	if r < b.RowMin {
		b.RowMin = r
	}
	if r > b.RowMax {
		b.RowMax = r
	}
	if c < b.ColMin {
		b.ColMin = c
	}
	if c > b.ColMax {
		b.ColMax = c
	}
}

// Labels returns the distinct positive instance ids present in mask, ascending
func Labels(mask models.LabelMask) []int32 {
	set := make(map[int32]struct{})
	for _, v := range mask.Labels {
		if v > 0 {
			set[v] = struct{}{}
		}
	}
	ids := make([]int32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
