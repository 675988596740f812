package extraction

import (
	"fmt"

	"cellcrops/internal/models"
)

// MaskToInstance zeroes, across all channels, every crop pixel whose aligned
// mask label is not id. Crop pixel (h, w) maps to mask pixel
// (win.Row0+h, win.Col0+w), where win is the window the crop was taken from.
func MaskToInstance(crop models.Stack, mask models.LabelMask, id int32, win models.Window) {
	for h := 0; h < crop.Rows; h++ {
		mr := win.Row0 + h
		for w := 0; w < crop.Cols; w++ {
			mc := win.Col0 + w
			if mr < mask.Rows && mc < mask.Cols && mask.At(mr, mc) == id {
				continue
			}
			base := (h*crop.Cols + w) * crop.Channels
			for ch := 0; ch < crop.Channels; ch++ {
				crop.Pix[base+ch] = 0
			}
		}
	}
}

// checkAlignment verifies a masked crop against its source: no pixel outside
// the instance may be nonzero, and every instance pixel must carry the source
// intensity unchanged.
func checkAlignment(crop models.Stack, img models.Stack, mask models.LabelMask, id int32, win models.Window) error {
	inside := 0
	for h := 0; h < crop.Rows; h++ {
		for w := 0; w < crop.Cols; w++ {
			mr, mc := win.Row0+h, win.Col0+w
			own := mr < mask.Rows && mc < mask.Cols && mask.At(mr, mc) == id
			if own {
				inside++
			}
			for ch := 0; ch < crop.Channels; ch++ {
				v := crop.At(h, w, ch)
				if !own && v != 0 {
					return fmt.Errorf("%w: id %d leaks at crop (%d,%d)", ErrAlignmentInvariant, id, h, w)
				}
				if own && v != img.At(mr, mc, ch) {
					return fmt.Errorf("%w: id %d pixel (%d,%d) channel %d altered", ErrAlignmentInvariant, id, h, w, ch)
				}
			}
		}
	}
	if inside == 0 {
		return fmt.Errorf("%w: id %d absent from its own window", ErrAlignmentInvariant, id)
	}
	return nil
}
