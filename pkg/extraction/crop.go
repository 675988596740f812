package extraction

import "cellcrops/internal/models"

// IsCroppable reports whether center is at least margin pixels away from
// every image border.
func IsCroppable(center models.Point, rows, cols, margin int) bool {
	return center.Row >= margin && center.Row <= rows-margin &&
		center.Col >= margin && center.Col <= cols-margin
}

// Extractor copies fixed-size windows around instance centers
type Extractor struct {
	halfLow  int
	halfHigh int
}

// NewExtractor creates an extractor with the window split from p
func NewExtractor(p Params) *Extractor {
	return &Extractor{halfLow: p.HalfLow, halfHigh: p.HalfHigh}
}

// Size is the crop edge length
func (e *Extractor) Size() int {
	return e.halfLow + e.halfHigh
}

// Window places the crop window for center inside an image of the given
// size. The window spans [center-halfLow, center+halfHigh) on each axis and
// is shifted, never shrunk, to stay inside the image.
func (e *Extractor) Window(center models.Point, rows, cols int) models.Window {
	return models.Window{
		Row0: e.origin(center.Row, rows),
		Col0: e.origin(center.Col, cols),
		Size: e.Size(),
	}
}

func (e *Extractor) origin(c, n int) int {
	size := e.Size()
	start := c - e.halfLow
	if start < 0 {
		return 0
	}
	if start+size > n {
		start = n - size
		if start < 0 {
			return 0
		}
	}
	return start
}

// Extract copies the window around center out of every channel of img.
// The crop never aliases img.
func (e *Extractor) Extract(center models.Point, img models.Stack) (models.Stack, models.Window) {
	win := e.Window(center, img.Rows, img.Cols)
	return cropStack(img, win), win
}

// ExtractLabels copies the same window out of a label mask
func (e *Extractor) ExtractLabels(center models.Point, mask models.LabelMask) (models.LabelMask, models.Window) {
	win := e.Window(center, mask.Rows, mask.Cols)
	return cropLabels(mask, win), win
}

func cropStack(img models.Stack, win models.Window) models.Stack {
	out := models.NewStack(win.Size, win.Size, img.Channels)
	rows, cols := clip(win, img.Rows, img.Cols)
	span := cols * img.Channels
	for r := 0; r < rows; r++ {
		src := ((win.Row0+r)*img.Cols + win.Col0) * img.Channels
		dst := r * win.Size * img.Channels
		copy(out.Pix[dst:dst+span], img.Pix[src:src+span])
	}
	return out
}

func cropLabels(mask models.LabelMask, win models.Window) models.LabelMask {
	out := models.NewLabelMask(win.Size, win.Size)
	rows, cols := clip(win, mask.Rows, mask.Cols)
	for r := 0; r < rows; r++ {
		src := (win.Row0+r)*mask.Cols + win.Col0
		copy(out.Labels[r*win.Size:r*win.Size+cols], mask.Labels[src:src+cols])
	}
	return out
}

// clip limits the copy extent for images smaller than the window. The crop
// keeps its full size and the uncovered part stays zero.
func clip(win models.Window, rows, cols int) (int, int) {
	h, w := win.Size, win.Size
	if win.Row0+h > rows {
		h = rows - win.Row0
	}
	if win.Col0+w > cols {
		w = cols - win.Col0
	}
	return h, w
}
