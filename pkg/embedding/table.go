package embedding

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"cellcrops/internal/models"
)

// Row is one line of the embedding table
type Row struct {
	SlideID int
	FOV     int
	ID      int32
	Center  models.Point

	// NeighbourDist is the distance to the closest other center in the same
	// field of view, or -1 when there is none
	NeighbourDist float64

	Embedding []float64
}

// WriteCSV writes rows with a header of slide_id, fov, instance_id,
// center_row, center_col, neighbour_dist and z0..z<n-1>. All rows must share
// one embedding length.
func WriteCSV(w io.Writer, rows []Row) error {
	dims := 0
	if len(rows) > 0 {
		dims = len(rows[0].Embedding)
	}

	cw := csv.NewWriter(w)
	header := []string{"slide_id", "fov", "instance_id", "center_row", "center_col", "neighbour_dist"}
	for i := 0; i < dims; i++ {
		header = append(header, "z"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i, r := range rows {
		if len(r.Embedding) != dims {
			return fmt.Errorf("row %d has %d dims, expected %d", i, len(r.Embedding), dims)
		}
		record[0] = strconv.Itoa(r.SlideID)
		record[1] = strconv.Itoa(r.FOV)
		record[2] = strconv.Itoa(int(r.ID))
		record[3] = strconv.Itoa(r.Center.Row)
		record[4] = strconv.Itoa(r.Center.Col)
		record[5] = strconv.FormatFloat(r.NeighbourDist, 'f', 3, 64)
		for j, v := range r.Embedding {
			record[6+j] = strconv.FormatFloat(v, 'g', 5, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Project2D reduces embeddings to their first two principal components.
// The result has one row per embedding and two columns, or one when the
// embeddings are one-dimensional.
func Project2D(embeddings [][]float64) (*mat.Dense, error) {
	n := len(embeddings)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 embeddings, got %d", n)
	}
	d := len(embeddings[0])
	if d == 0 {
		return nil, fmt.Errorf("embeddings are empty")
	}

	x := mat.NewDense(n, d, nil)
	for i, e := range embeddings {
		if len(e) != d {
			return nil, fmt.Errorf("embedding %d has %d dims, expected %d", i, len(e), d)
		}
		x.SetRow(i, e)
	}

	// Center columns so the projection is around the data mean
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			x.Set(i, j, x.At(i, j)-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	_, k := vecs.Dims()
	if k > 2 {
		k = 2
	}
	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, d, 0, k))
	return &proj, nil
}

// WriteProjectionCSV writes fov, instance_id, pc1, pc2 for every row, where
// proj holds one projected row per table row
func WriteProjectionCSV(w io.Writer, rows []Row, proj mat.Matrix) error {
	n, k := proj.Dims()
	if n != len(rows) {
		return fmt.Errorf("projection has %d rows, table has %d", n, len(rows))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"fov", "instance_id", "pc1", "pc2"}); err != nil {
		return err
	}
	for i, r := range rows {
		record := []string{strconv.Itoa(r.FOV), strconv.Itoa(int(r.ID)), "0", "0"}
		for j := 0; j < k && j < 2; j++ {
			record[2+j] = strconv.FormatFloat(proj.At(i, j), 'g', 5, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
