package models

import "fmt"

// MaxIntensity is the top of the 16-bit working intensity domain.
const MaxIntensity = 65535

// WidenFactor maps the 8-bit range onto the 16-bit range (255 * 257 = 65535).
const WidenFactor = 257

// Plane is a single grayscale scan of one acquisition channel
type Plane struct {
	// Pix holds the intensities in row-major order
	Pix []uint16

	// Rows and Cols are the plane dimensions in pixels
	Rows int
	Cols int
}

// NewPlane allocates a zeroed plane
func NewPlane(rows, cols int) Plane {
	return Plane{Pix: make([]uint16, rows*cols), Rows: rows, Cols: cols}
}

// At returns the intensity at (row, col)
func (p Plane) At(row, col int) uint16 {
	return p.Pix[row*p.Cols+col]
}

// Set writes the intensity at (row, col)
func (p Plane) Set(row, col int, v uint16) {
	p.Pix[row*p.Cols+col] = v
}

// SameShape reports whether both planes have identical dimensions
func (p Plane) SameShape(q Plane) bool {
	return p.Rows == q.Rows && p.Cols == q.Cols
}

// Stack is a multi-channel image. Channels are interleaved per pixel,
// so the value of channel ch at (r, c) lives at Pix[(r*Cols+c)*Channels+ch].
type Stack struct {
	Pix      []uint16
	Rows     int
	Cols     int
	Channels int
}

// NewStack allocates a zeroed multi-channel image
func NewStack(rows, cols, channels int) Stack {
	return Stack{
		Pix:      make([]uint16, rows*cols*channels),
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
	}
}

// At returns channel ch at (row, col)
func (s Stack) At(row, col, ch int) uint16 {
	return s.Pix[(row*s.Cols+col)*s.Channels+ch]
}

// Set writes channel ch at (row, col)
func (s Stack) Set(row, col, ch int, v uint16) {
	s.Pix[(row*s.Cols+col)*s.Channels+ch] = v
}

// Channel copies one channel out as a Plane
func (s Stack) Channel(ch int) Plane {
	p := NewPlane(s.Rows, s.Cols)
	for i := range p.Pix {
		p.Pix[i] = s.Pix[i*s.Channels+ch]
	}
	return p
}

// Clone returns a deep copy of the stack
func (s Stack) Clone() Stack {
	pix := make([]uint16, len(s.Pix))
	copy(pix, s.Pix)
	return Stack{Pix: pix, Rows: s.Rows, Cols: s.Cols, Channels: s.Channels}
}

// LabelMask is a per-pixel instance labelling. 0 is background and every
// positive value is the id of one cell instance.
type LabelMask struct {
	Labels []int32
	Rows   int
	Cols   int
}

// NewLabelMask allocates an all-background mask
func NewLabelMask(rows, cols int) LabelMask {
	return LabelMask{Labels: make([]int32, rows*cols), Rows: rows, Cols: cols}
}

// At returns the label at (row, col)
func (m LabelMask) At(row, col int) int32 {
	return m.Labels[row*m.Cols+col]
}

// Set writes the label at (row, col)
func (m LabelMask) Set(row, col int, id int32) {
	m.Labels[row*m.Cols+col] = id
}

// Point is a pixel coordinate, row first
type Point struct {
	Row int
	Col int
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// Box is an inclusive axis-aligned bounding box
type Box struct {
	RowMin, RowMax int
	ColMin, ColMax int
}

// Center returns the truncated midpoint of the box
func (b Box) Center() Point {
	return Point{Row: (b.RowMin + b.RowMax) / 2, Col: (b.ColMin + b.ColMax) / 2}
}

// Window is the source-image region a crop was copied from.
// Row0 and Col0 are the actual (clamped) origin.
type Window struct {
	Row0 int
	Col0 int
	Size int
}

// InstanceRecord describes one located instance inside a field of view
type InstanceRecord struct {
	FOV    int
	ID     int32
	Box    Box
	Center Point
}
