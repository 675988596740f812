// Package imageio moves scans, masks, composites and crops between disk and
// the in-memory models.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/tiff"

	"cellcrops/internal/models"
)

// ScanExtensions are the file types LoadScans picks up
var ScanExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}

// ListImages returns the image files in dir with one of the given
// extensions, ordered by the number embedded in their name.
func ListImages(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range extensions {
			if ext == want {
				names = append(names, entry.Name())
				break
			}
		}
	}

	// The scan index drives FOV grouping, so digit runs compare as numbers
	sort.Slice(names, func(i, j int) bool {
		return naturalLess(names[i], names[j])
	})

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// naturalLess orders names run by run: digit runs compare by value, other
// runs byte-wise. "ch1_fov2" < "ch1_fov10" < "ch2_fov1". Names that tie that
// way ("a01" and "a1") fall back to plain order.
func naturalLess(a, b string) bool {
	ra, rb := splitRuns(a), splitRuns(b)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		x, y := ra[i], rb[i]
		if isDigits(x) && isDigits(y) {
			if c := compareDigits(x, y); c != 0 {
				return c < 0
			}
			continue
		}
		if x != y {
			return x < y
		}
	}
	if len(ra) != len(rb) {
		return len(ra) < len(rb)
	}
	return a < b
}

// splitRuns cuts s into alternating digit and non-digit runs
func splitRuns(s string) []string {
	var runs []string
	start := 0
	for i := 1; i <= len(s); i++ {
		if i == len(s) || isDigit(s[i]) != isDigit(s[i-1]) {
			runs = append(runs, s[start:i])
			start = i
		}
	}
	return runs
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isDigits(s string) bool {
	return s != "" && isDigit(s[0])
}

// compareDigits compares two digit runs by value without overflowing
func compareDigits(x, y string) int {
	x = strings.TrimLeft(x, "0")
	y = strings.TrimLeft(y, "0")
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}

// LoadScans reads every scan in dir as a 16-bit plane. All scans must share
// one shape.
func LoadScans(dir string) ([]models.Plane, error) {
	paths, err := ListImages(dir, ScanExtensions)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scans found in %s", dir)
	}

	planes := make([]models.Plane, 0, len(paths))
	for _, path := range paths {
		p, err := LoadPlane(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load scan %s: %w", filepath.Base(path), err)
		}
		if len(planes) > 0 && !planes[0].SameShape(p) {
			return nil, fmt.Errorf("scan %s is %dx%d, expected %dx%d",
				filepath.Base(path), p.Rows, p.Cols, planes[0].Rows, planes[0].Cols)
		}
		planes = append(planes, p)
	}
	return planes, nil
}

// LoadPlane decodes one grayscale image. 8-bit data is widened into the
// 16-bit domain, colour data is reduced to luminance first.
func LoadPlane(path string) (models.Plane, error) {
	img, err := decode(path)
	if err != nil {
		return models.Plane{}, err
	}
	return ToPlane(img), nil
}

// ToPlane converts any decoded image into a 16-bit plane
func ToPlane(img image.Image) models.Plane {
	b := img.Bounds()
	p := models.NewPlane(b.Dy(), b.Dx())

	switch src := img.(type) {
	case *image.Gray:
		for r := 0; r < p.Rows; r++ {
			for c := 0; c < p.Cols; c++ {
				p.Set(r, c, uint16(src.GrayAt(b.Min.X+c, b.Min.Y+r).Y)*models.WidenFactor)
			}
		}
	case *image.Gray16:
		for r := 0; r < p.Rows; r++ {
			for c := 0; c < p.Cols; c++ {
				p.Set(r, c, src.Gray16At(b.Min.X+c, b.Min.Y+r).Y)
			}
		}
	default:
		for r := 0; r < p.Rows; r++ {
			for c := 0; c < p.Cols; c++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+c, b.Min.Y+r)).(color.Gray16)
				p.Set(r, c, g.Y)
			}
		}
	}
	return p
}

func decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// PlaneImage wraps a plane as a 16-bit grayscale image
func PlaneImage(p models.Plane) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, p.Cols, p.Rows))
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			img.SetGray16(c, r, color.Gray16{Y: p.At(r, c)})
		}
	}
	return img
}

// SavePNG writes img to path, creating parent directories
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}
