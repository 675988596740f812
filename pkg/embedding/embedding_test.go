package embedding

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"cellcrops/internal/models"
)

// countingEncoder records the batch sizes it was called with
type countingEncoder struct {
	batches []int
}

func (c *countingEncoder) Encode(_ context.Context, batch []models.Stack) ([][]float64, error) {
	c.batches = append(c.batches, len(batch))
	out := make([][]float64, len(batch))
	for i, crop := range batch {
		out[i] = []float64{float64(crop.Pix[0])}
	}
	return out, nil
}

func TestEncodeAllBatchesInOrder(t *testing.T) {
	crops := make([]models.Stack, 7)
	for i := range crops {
		crops[i] = models.NewStack(1, 1, 1)
		crops[i].Pix[0] = uint16(i)
	}

	enc := &countingEncoder{}
	vecs, err := EncodeAll(context.Background(), enc, crops, 3)
	if err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}
	if len(vecs) != 7 {
		t.Fatalf("Expected 7 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float64(i) {
			t.Errorf("Vector %d out of order: %v", i, v)
		}
	}
	if want := []int{3, 3, 1}; len(enc.batches) != 3 || enc.batches[2] != want[2] {
		t.Errorf("Expected batches %v, got %v", want, enc.batches)
	}

	if _, err := EncodeAll(context.Background(), enc, crops, 0); err == nil {
		t.Error("Expected error for zero batch size")
	}
}

func TestStatsEncoderMaskedStatistics(t *testing.T) {
	crop := models.NewStack(4, 4, 2)
	// Four instance pixels; channel 1 stays zero on two of them
	crop.Set(0, 0, 0, models.MaxIntensity)
	crop.Set(0, 1, 0, models.MaxIntensity)
	crop.Set(1, 0, 0, models.MaxIntensity)
	crop.Set(1, 1, 0, models.MaxIntensity)
	crop.Set(0, 0, 1, models.MaxIntensity)
	crop.Set(1, 1, 1, models.MaxIntensity)

	enc := StatsEncoder{}
	vecs, err := enc.Encode(context.Background(), []models.Stack{crop})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	v := vecs[0]
	if len(v) != enc.Dims(2) {
		t.Fatalf("Expected %d dims, got %d", enc.Dims(2), len(v))
	}
	if v[0] != 1 || v[1] != 0 || v[2] != 1 {
		t.Errorf("Channel 0 stats: expected [1 0 1], got %v", v[:3])
	}
	if v[3] != 0.5 {
		t.Errorf("Channel 1 mean: expected 0.5, got %v", v[3])
	}
	if v[5] != 1 {
		t.Errorf("Channel 1 max: expected 1, got %v", v[5])
	}
	if v[6] != 0.25 {
		t.Errorf("Area fraction: expected 0.25, got %v", v[6])
	}
}

func TestStatsEncoderEmptyCrop(t *testing.T) {
	vecs, err := StatsEncoder{}.Encode(context.Background(), []models.Stack{models.NewStack(3, 3, 1)})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for _, x := range vecs[0] {
		if x != 0 || math.IsNaN(x) {
			t.Fatalf("Expected zero vector, got %v", vecs[0])
		}
	}
}

func TestStatsEncoderUsesMembership(t *testing.T) {
	crop := models.NewStack(4, 4, 1)
	mask := models.NewLabelMask(4, 4)
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			mask.Set(r, c, 5)
		}
	}
	mask.Set(3, 3, 6)
	// One bright instance pixel, three dark ones, and a bright neighbour
	crop.Set(0, 0, 0, models.MaxIntensity)
	crop.Set(3, 3, 0, models.MaxIntensity)

	crops := []models.Stack{crop}
	members := [][]bool{Membership(mask, 5)}
	vecs, err := EncodeInstances(context.Background(), StatsEncoder{}, crops, members, 4)
	if err != nil {
		t.Fatalf("EncodeInstances failed: %v", err)
	}
	v := vecs[0]
	if v[0] != 0.25 || v[2] != 1 {
		t.Errorf("Expected mean 0.25 and max 1 over the instance, got %v", v[:3])
	}
	if v[3] != 0.25 {
		t.Errorf("Area fraction: expected 0.25 with dark instance pixels counted, got %v", v[3])
	}

	// Without membership both bright pixels count and the dark ones do not
	vecs, err = EncodeAll(context.Background(), StatsEncoder{}, crops, 4)
	if err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}
	if vecs[0][3] != 0.125 {
		t.Errorf("Area fraction: expected 0.125 for nonzero pixels, got %v", vecs[0][3])
	}

	if _, err := EncodeInstances(context.Background(), StatsEncoder{}, crops, [][]bool{make([]bool, 3)}, 4); err == nil {
		t.Error("Expected error for membership of the wrong size")
	}
	if _, err := EncodeInstances(context.Background(), StatsEncoder{}, crops, nil, 4); err != nil {
		t.Errorf("Expected nil membership to fall back, got %v", err)
	}
	if _, err := EncodeInstances(context.Background(), StatsEncoder{}, crops, [][]bool{}, 4); err == nil {
		t.Error("Expected error for membership count mismatch")
	}

	// Encoders without EncodeMasked ignore membership
	enc := &countingEncoder{}
	if _, err := EncodeInstances(context.Background(), enc, crops, members, 4); err != nil {
		t.Errorf("Expected plain encoder to accept membership, got %v", err)
	}
}

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{SlideID: 0, FOV: 1, ID: 3, Center: models.Point{Row: 40, Col: 50}, NeighbourDist: 12.5, Embedding: []float64{0.25, 1}},
		{SlideID: 0, FOV: 1, ID: 4, Center: models.Point{Row: 60, Col: 70}, NeighbourDist: -1, Embedding: []float64{0, 0.5}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "slide_id,fov,instance_id,center_row,center_col,neighbour_dist,z0,z1" {
		t.Errorf("Unexpected header %v", records[0])
	}
	if strings.Join(records[1], ",") != "0,1,3,40,50,12.500,0.25,1" {
		t.Errorf("Unexpected first row %v", records[1])
	}

	rows[1].Embedding = []float64{1}
	if err := WriteCSV(&bytes.Buffer{}, rows); err == nil {
		t.Error("Expected error for ragged embeddings")
	}
}

func TestProject2DSeparatesClusters(t *testing.T) {
	var embeddings [][]float64
	for i := 0; i < 5; i++ {
		embeddings = append(embeddings, []float64{0 + 0.01*float64(i), 0, 1})
		embeddings = append(embeddings, []float64{10 + 0.01*float64(i), 10, 1})
	}

	proj, err := Project2D(embeddings)
	if err != nil {
		t.Fatalf("Project2D failed: %v", err)
	}
	r, c := proj.Dims()
	if r != 10 || c != 2 {
		t.Fatalf("Expected 10x2 projection, got %dx%d", r, c)
	}

	// The first component must split the two clusters by sign
	a, b := proj.At(0, 0), proj.At(1, 0)
	if a*b >= 0 {
		t.Errorf("Expected clusters on opposite sides of PC1, got %v and %v", a, b)
	}
	for i := 2; i < 10; i++ {
		if (proj.At(i, 0) > 0) != (proj.At(i%2, 0) > 0) {
			t.Errorf("Row %d not grouped with its cluster", i)
		}
	}

	if _, err := Project2D(embeddings[:1]); err == nil {
		t.Error("Expected error for a single embedding")
	}
}

func TestWriteProjectionCSV(t *testing.T) {
	rows := []Row{{FOV: 0, ID: 1}, {FOV: 2, ID: 5}}
	proj := mat.NewDense(2, 2, []float64{0.5, -1, -0.5, 1})

	var buf bytes.Buffer
	if err := WriteProjectionCSV(&buf, rows, proj); err != nil {
		t.Fatalf("WriteProjectionCSV failed: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if strings.Join(records[2], ",") != "2,5,-0.5,1" {
		t.Errorf("Unexpected row %v", records[2])
	}

	if err := WriteProjectionCSV(&bytes.Buffer{}, rows[:1], proj); err == nil {
		t.Error("Expected error for row count mismatch")
	}
}
