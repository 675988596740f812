package imageio

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"cellcrops/internal/models"
)

// MaskName is the file name of the mask for field of view i
func MaskName(i int) string {
	return fmt.Sprintf("mask_%d.png", i)
}

// SaveMasks writes every mask as a 16-bit PNG named mask_<i>.png
func SaveMasks(dir string, masks []models.LabelMask) error {
	for i, m := range masks {
		img, err := maskImage(m)
		if err != nil {
			return fmt.Errorf("mask %d: %w", i, err)
		}
		if err := SavePNG(filepath.Join(dir, MaskName(i)), img); err != nil {
			return fmt.Errorf("mask %d: %w", i, err)
		}
	}
	return nil
}

func maskImage(m models.LabelMask) (*image.Gray16, error) {
	img := image.NewGray16(image.Rect(0, 0, m.Cols, m.Rows))
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			v := m.At(r, c)
			if v < 0 || v > models.MaxIntensity {
				return nil, fmt.Errorf("label %d at (%d,%d) does not fit in 16 bits", v, r, c)
			}
			img.SetGray16(c, r, color.Gray16{Y: uint16(v)})
		}
	}
	return img, nil
}

// LoadMask reads a label mask. 16-bit images keep their raw values; 8-bit
// images are read as-is without widening, since labels are ids and not
// intensities.
func LoadMask(path string) (models.LabelMask, error) {
	img, err := decode(path)
	if err != nil {
		return models.LabelMask{}, err
	}

	b := img.Bounds()
	m := models.NewLabelMask(b.Dy(), b.Dx())
	switch src := img.(type) {
	case *image.Gray16:
		for r := 0; r < m.Rows; r++ {
			for c := 0; c < m.Cols; c++ {
				m.Set(r, c, int32(src.Gray16At(b.Min.X+c, b.Min.Y+r).Y))
			}
		}
	case *image.Gray:
		for r := 0; r < m.Rows; r++ {
			for c := 0; c < m.Cols; c++ {
				m.Set(r, c, int32(src.GrayAt(b.Min.X+c, b.Min.Y+r).Y))
			}
		}
	default:
		return models.LabelMask{}, fmt.Errorf("mask %s is %T, expected grayscale", filepath.Base(path), img)
	}
	return m, nil
}

// LoadMasks reads mask_0.png .. mask_<n-1>.png from dir
func LoadMasks(dir string, n int) ([]models.LabelMask, error) {
	masks := make([]models.LabelMask, n)
	for i := 0; i < n; i++ {
		m, err := LoadMask(filepath.Join(dir, MaskName(i)))
		if err != nil {
			return nil, fmt.Errorf("failed to load mask %d: %w", i, err)
		}
		masks[i] = m
	}
	return masks, nil
}

// SaveComposite writes a 3-channel composite as a 16-bit RGB PNG
func SaveComposite(path string, s models.Stack) error {
	if s.Channels != 3 {
		return fmt.Errorf("composite has %d channels, expected 3", s.Channels)
	}
	img := image.NewNRGBA64(image.Rect(0, 0, s.Cols, s.Rows))
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			img.SetNRGBA64(c, r, color.NRGBA64{
				R: s.At(r, c, 0),
				G: s.At(r, c, 1),
				B: s.At(r, c, 2),
				A: 0xffff,
			})
		}
	}
	return SavePNG(path, img)
}

// SaveCrop writes each channel of a crop as crop_<index>_c<channel>.png
func SaveCrop(dir string, index int, crop models.Stack) error {
	for ch := 0; ch < crop.Channels; ch++ {
		name := fmt.Sprintf("crop_%05d_c%d.png", index, ch)
		if err := SavePNG(filepath.Join(dir, name), PlaneImage(crop.Channel(ch))); err != nil {
			return err
		}
	}
	return nil
}
