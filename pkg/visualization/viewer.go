package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"cellcrops/internal/models"
	"cellcrops/pkg/imageio"
)

// Viewer renders extracted crops for visual inspection
type Viewer struct {
	// crops all share one shape
	crops []models.Stack

	// dimensions of every crop
	rows     int
	cols     int
	channels int
}

// NewViewer creates a viewer over crops. Every crop must have the same shape.
func NewViewer(crops []models.Stack) (*Viewer, error) {
	v := &Viewer{crops: crops}
	if len(crops) == 0 {
		return v, nil
	}
	v.rows, v.cols, v.channels = crops[0].Rows, crops[0].Cols, crops[0].Channels
	for i, c := range crops {
		if c.Rows != v.rows || c.Cols != v.cols || c.Channels != v.channels {
			return nil, fmt.Errorf("crop %d is %dx%dx%d, expected %dx%dx%d",
				i, c.Rows, c.Cols, c.Channels, v.rows, v.cols, v.channels)
		}
	}
	return v, nil
}

// Len is the number of crops in the viewer
func (v *Viewer) Len() int {
	return len(v.crops)
}

// Channels is the channel count shared by every crop
func (v *Viewer) Channels() int {
	return v.channels
}

// ExtractChannel returns one channel of one crop as a 16-bit image
func (v *Viewer) ExtractChannel(index, channel int) (*image.Gray16, error) {
	if index < 0 || index >= len(v.crops) {
		return nil, fmt.Errorf("crop %d out of range [0,%d)", index, len(v.crops))
	}
	if channel < 0 || channel >= v.channels {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", channel, v.channels)
	}
	return imageio.PlaneImage(v.crops[index].Channel(channel)), nil
}

// Montage tiles one channel of every crop into a grid, columns crops wide,
// each tile upscaled by scale with nearest-neighbour sampling. Tiles are
// separated by a one pixel white border.
func (v *Viewer) Montage(channel, columns, scale int) (*image.Gray16, error) {
	if len(v.crops) == 0 {
		return nil, fmt.Errorf("no crops to render")
	}
	if columns <= 0 || scale <= 0 {
		return nil, fmt.Errorf("columns and scale must be positive, got %d and %d", columns, scale)
	}
	if channel < 0 || channel >= v.channels {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", channel, v.channels)
	}

	if columns > len(v.crops) {
		columns = len(v.crops)
	}
	gridRows := (len(v.crops) + columns - 1) / columns
	tileW := v.cols * scale
	tileH := v.rows * scale

	width := columns*(tileW+1) + 1
	height := gridRows*(tileH+1) + 1
	dst := image.NewGray16(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for i, crop := range v.crops {
		x0 := (i%columns)*(tileW+1) + 1
		y0 := (i/columns)*(tileH+1) + 1
		tile := image.Rect(x0, y0, x0+tileW, y0+tileH)

		src := imageio.PlaneImage(crop.Channel(channel))
		xdraw.NearestNeighbor.Scale(dst, tile, src, src.Bounds(), draw.Src, nil)
	}

	return dst, nil
}

// SaveMontage renders the montage of one channel and writes it as PNG
func (v *Viewer) SaveMontage(path string, channel, columns, scale int) error {
	img, err := v.Montage(channel, columns, scale)
	if err != nil {
		return err
	}
	return imageio.SavePNG(path, img)
}

// SaveMontages writes montage_c<channel>.png for every channel into outputDir
func (v *Viewer) SaveMontages(outputDir string, columns, scale int) ([]string, error) {
	var paths []string
	for ch := 0; ch < v.channels; ch++ {
		path := filepath.Join(outputDir, fmt.Sprintf("montage_c%d.png", ch))
		if err := v.SaveMontage(path, ch, columns, scale); err != nil {
			return paths, fmt.Errorf("channel %d: %w", ch, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
