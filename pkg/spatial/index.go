// Package spatial indexes cell centers for neighbourhood queries
package spatial

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"cellcrops/internal/models"
)

// CenterPoint is a cell center carrying its position in the source slice
type CenterPoint struct {
	Row, Col float64
	Index    int
}

// Compare implements the kdtree.Comparable interface
func (p CenterPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(CenterPoint)
	switch d {
	case 0:
		return p.Row - q.Row
	case 1:
		return p.Col - q.Col
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p CenterPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p CenterPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(CenterPoint)
	dr := p.Row - q.Row
	dc := p.Col - q.Col
	return dr*dr + dc*dc
}

// centerPoints satisfies kdtree.Interface
type centerPoints []CenterPoint

func (p centerPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p centerPoints) Len() int                              { return len(p) }
func (p centerPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p centerPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{centerPoints: p, Dim: d}, kdtree.MedianOfMedians(pointPlane{centerPoints: p, Dim: d}))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer
type pointPlane struct {
	centerPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.centerPoints[i].Row < p.centerPoints[j].Row
	case 1:
		return p.centerPoints[i].Col < p.centerPoints[j].Col
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{centerPoints: p.centerPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.centerPoints[i], p.centerPoints[j] = p.centerPoints[j], p.centerPoints[i]
}

// Index answers nearest-neighbour queries over a set of centers
type Index struct {
	tree *kdtree.Tree
	n    int
}

// NewIndex builds a KD-tree over centers. Query results refer to positions
// in centers.
func NewIndex(centers []models.Point) *Index {
	pts := make(centerPoints, len(centers))
	for i, c := range centers {
		pts[i] = CenterPoint{Row: float64(c.Row), Col: float64(c.Col), Index: i}
	}
	idx := &Index{n: len(pts)}
	if len(pts) > 0 {
		idx.tree = kdtree.New(pts, false)
	}
	return idx
}

// Len is the number of indexed centers
func (x *Index) Len() int {
	return x.n
}

// Neighbour is a query hit
type Neighbour struct {
	Index    int
	Distance float64
}

// KNearest returns up to k centers closest to p, nearest first
func (x *Index) KNearest(p models.Point, k int) []Neighbour {
	if x.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	x.tree.NearestSet(keeper, CenterPoint{Row: float64(p.Row), Col: float64(p.Col)})
	return collect(keeper.Heap)
}

// WithinRadius returns every center within r of p, nearest first
func (x *Index) WithinRadius(p models.Point, r float64) []Neighbour {
	if x.tree == nil || r < 0 {
		return nil
	}
	var hits []Neighbour
	for _, n := range x.KNearest(p, x.n) {
		if n.Distance > r {
			break
		}
		hits = append(hits, n)
	}
	return hits
}

// NearestOther returns, for each indexed center i, the distance to the
// closest other center, or -1 if it is alone.
func (x *Index) NearestOther(centers []models.Point) []float64 {
	out := make([]float64, len(centers))
	for i, c := range centers {
		out[i] = -1
		for _, n := range x.KNearest(c, 2) {
			if n.Index != i {
				out[i] = n.Distance
				break
			}
		}
	}
	return out
}

func collect(heap kdtree.Heap) []Neighbour {
	hits := make([]Neighbour, 0, len(heap))
	for _, item := range heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		hits = append(hits, Neighbour{
			Index:    item.Comparable.(CenterPoint).Index,
			Distance: math.Sqrt(item.Dist),
		})
	}
	// Keeper heaps are max-heaps, not sorted lists
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Index < hits[j].Index
	})
	return hits
}
