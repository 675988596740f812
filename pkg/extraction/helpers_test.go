package extraction

import "cellcrops/internal/models"

// paintRect labels the inclusive rectangle [r0,r1]x[c0,c1] with id
func paintRect(m models.LabelMask, id int32, r0, r1, c0, c1 int) {
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			m.Set(r, c, id)
		}
	}
}

// gradientStack creates an image whose every pixel and channel is nonzero and
// distinct enough to detect misplaced copies
func gradientStack(rows, cols, channels int) models.Stack {
	s := models.NewStack(rows, cols, channels)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for ch := 0; ch < channels; ch++ {
				s.Set(r, c, ch, uint16((r*cols+c)%60000+1+ch*1000))
			}
		}
	}
	return s
}
