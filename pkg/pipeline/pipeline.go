// Package pipeline runs a full pass over one slide: load the raw scans, build
// composites, segment them, crop every instance, encode the crops and write
// the embedding table.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cellcrops/internal/logger"
	"cellcrops/internal/models"
	"cellcrops/pkg/composite"
	"cellcrops/pkg/config"
	"cellcrops/pkg/embedding"
	"cellcrops/pkg/extraction"
	"cellcrops/pkg/imageio"
	"cellcrops/pkg/segmentation"
	"cellcrops/pkg/spatial"
	"cellcrops/pkg/visualization"
)

const (
	component = "pipeline"

	// structuralPlane is the composite plane the threshold segmenter reads
	structuralPlane = 2

	EmbeddingsFile = "embeddings.csv"
	ProjectionFile = "projection.csv"
	SummaryFile    = "run.yaml"
)

// Summary describes one finished run
type Summary struct {
	RunID    string        `yaml:"runId"`
	Started  time.Time     `yaml:"started"`
	Duration time.Duration `yaml:"duration"`

	Scans int `yaml:"scans"`
	FOVs  int `yaml:"fovs"`
	Rows  int `yaml:"rows"`
	Cols  int `yaml:"cols"`

	Instances   int `yaml:"instances"`
	Crops       int `yaml:"crops"`
	Degenerate  int `yaml:"degenerate"`
	Uncroppable int `yaml:"uncroppable"`
	NearBorder  int `yaml:"nearBorder"`
	FOVErrors   int `yaml:"fovErrors"`

	// Only populated in verify mode
	AlignmentFailures    int `yaml:"alignmentFailures"`
	ContiguityViolations int `yaml:"contiguityViolations"`

	EmbeddingDims int `yaml:"embeddingDims"`

	// Outputs lists every file written, relative to the output directory
	Outputs []string `yaml:"outputs"`
}

// Pipeline holds everything needed to process one slide
type Pipeline struct {
	cfg       *config.Config
	layout    composite.Layout
	params    extraction.Params
	segmenter segmentation.Segmenter
	encoder   embedding.Encoder
	log       logger.Logger

	runID   string
	summary Summary

	// results of the last run
	result     *extraction.Result
	embeddings [][]float64
}

// NewPipeline validates cfg and wires the components it names
func NewPipeline(cfg *config.Config, log logger.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}

	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	params, err := cfg.ExtractionParams()
	if err != nil {
		return nil, err
	}

	var seg segmentation.Segmenter
	switch cfg.Segmentation.Method {
	case "threshold":
		seg = segmentation.Threshold{
			Channel: structuralPlane,
			Sigma:   cfg.Segmentation.Sigma,
			MinArea: cfg.Segmentation.MinArea,
		}
	default:
		seg = segmentation.MaskDir{Dir: cfg.Segmentation.MaskDir}
	}

	return &Pipeline{
		cfg:       cfg,
		layout:    layout,
		params:    params,
		segmenter: seg,
		encoder:   embedding.StatsEncoder{},
		log:       log,
		runID:     uuid.New().String(),
	}, nil
}

// WithSegmenter replaces the configured segmenter
func (p *Pipeline) WithSegmenter(s segmentation.Segmenter) *Pipeline {
	p.segmenter = s
	return p
}

// WithEncoder replaces the default statistics encoder
func (p *Pipeline) WithEncoder(e embedding.Encoder) *Pipeline {
	p.encoder = e
	return p
}

// RunID identifies this pipeline's run in logs and in the summary file
func (p *Pipeline) RunID() string {
	return p.runID
}

// Summary returns the counters of the last run
func (p *Pipeline) Summary() Summary {
	return p.summary
}

// Result returns the crops of the last run
func (p *Pipeline) Result() *extraction.Result {
	return p.result
}

// Embeddings returns one vector per crop of the last run
func (p *Pipeline) Embeddings() [][]float64 {
	return p.embeddings
}

// Process runs the complete pipeline
func (p *Pipeline) Process(ctx context.Context) (*Summary, error) {
	started := time.Now()
	p.summary = Summary{RunID: p.runID, Started: started}
	out := p.cfg.Output.Dir

	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 1: Load raw scans
	p.step(1, "Loading raw scans", map[string]interface{}{"dir": p.cfg.Scan.InputDir})
	scans, err := imageio.LoadScans(p.cfg.Scan.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load scans: %w", err)
	}
	p.summary.Scans = len(scans)
	p.summary.Rows, p.summary.Cols = scans[0].Rows, scans[0].Cols

	// Step 2: Group scans by field of view and build composites
	p.step(2, "Building composites", nil)
	fovs, err := p.layout.GroupFOVs(scans)
	if err != nil {
		return nil, fmt.Errorf("failed to group scans: %w", err)
	}
	p.summary.FOVs = len(fovs)

	composites := make([]models.Stack, len(fovs))
	images := make([]models.Stack, len(fovs))
	for i, fov := range fovs {
		if composites[i], err = p.layout.Composite(fov); err != nil {
			return nil, fmt.Errorf("fov %d: failed to build composite: %w", i, err)
		}
		if images[i], err = composite.StackPlanes(fov); err != nil {
			return nil, fmt.Errorf("fov %d: failed to stack channels: %w", i, err)
		}
	}
	if p.cfg.Output.SaveComposites {
		for i, c := range composites {
			rel := filepath.Join("composites", fmt.Sprintf("composite_%d.png", i))
			if err := imageio.SaveComposite(filepath.Join(out, rel), c); err != nil {
				p.log.Warning(component, "Failed to save composite", map[string]interface{}{"fov": i, "error": err.Error()})
				continue
			}
			p.output(rel)
		}
	}

	// Step 3: Segment composites into instance masks
	p.step(3, "Segmenting composites", map[string]interface{}{"method": p.cfg.Segmentation.Method})
	masks, err := p.segmenter.Segment(ctx, composites)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	if p.cfg.Output.SaveMasks {
		if err := imageio.SaveMasks(filepath.Join(out, "masks"), masks); err != nil {
			p.log.Warning(component, "Failed to save masks", map[string]interface{}{"error": err.Error()})
		} else {
			for i := range masks {
				p.output(filepath.Join("masks", imageio.MaskName(i)))
			}
		}
	}

	// Step 4: Crop every instance
	p.step(4, "Extracting instance crops", map[string]interface{}{"workers": p.params.NumWorkers})
	orch, err := extraction.NewOrchestrator(p.params, p.log)
	if err != nil {
		return nil, err
	}
	result, err := orch.ExtractAll(ctx, masks, images)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	p.result = result
	p.recordDiagnostics(result.Diagnostics)

	// Step 5: Encode crops
	p.step(5, "Encoding crops", map[string]interface{}{"crops": result.Len(), "batchSize": p.cfg.Embedding.BatchSize})
	members := make([][]bool, result.Len())
	for i, ref := range result.Instances {
		members[i] = embedding.Membership(result.MaskCrops[i], ref.ID)
	}
	vecs, err := embedding.EncodeInstances(ctx, p.encoder, result.Crops, members, p.cfg.Embedding.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("encoding failed: %w", err)
	}
	p.embeddings = vecs
	if len(vecs) > 0 {
		p.summary.EmbeddingDims = len(vecs[0])
	}

	// Step 6: Write the embedding table
	p.step(6, "Writing embedding table", nil)
	rows := p.tableRows(result, vecs)
	if err := writeFile(filepath.Join(out, EmbeddingsFile), func(f *os.File) error {
		return embedding.WriteCSV(f, rows)
	}); err != nil {
		return nil, fmt.Errorf("failed to write embeddings: %w", err)
	}
	p.output(EmbeddingsFile)

	if len(vecs) >= 2 {
		if err := writeProjection(filepath.Join(out, ProjectionFile), rows, vecs); err != nil {
			p.log.Warning(component, "Failed to write projection", map[string]interface{}{"error": err.Error()})
		} else {
			p.output(ProjectionFile)
		}
	}

	// Step 7: Optional crop images and montages
	if p.cfg.Output.SaveCrops {
		p.step(7, "Saving crops", nil)
		for i, crop := range result.Crops {
			if err := imageio.SaveCrop(filepath.Join(out, "crops"), i, crop); err != nil {
				p.log.Warning(component, "Failed to save crop", map[string]interface{}{"crop": i, "error": err.Error()})
			}
		}
		if result.Len() > 0 {
			p.output("crops")
		}
	}
	if p.cfg.Output.SaveMontage && result.Len() > 0 {
		p.step(8, "Saving montages", nil)
		viewer, err := visualization.NewViewer(result.Crops)
		if err != nil {
			return nil, fmt.Errorf("failed to create viewer: %w", err)
		}
		paths, err := viewer.SaveMontages(filepath.Join(out, "montage"), p.cfg.Output.MontageColumns, p.cfg.Output.MontageScale)
		if err != nil {
			p.log.Warning(component, "Failed to save montage", map[string]interface{}{"error": err.Error()})
		}
		for _, path := range paths {
			if rel, err := filepath.Rel(out, path); err == nil {
				p.output(rel)
			}
		}
	}

	p.summary.Duration = time.Since(started)
	if err := p.writeSummary(filepath.Join(out, SummaryFile)); err != nil {
		p.log.Warning(component, "Failed to write run summary", map[string]interface{}{"error": err.Error()})
	}

	p.log.Info(component, "Run complete", map[string]interface{}{
		"runId":    p.runID,
		"fovs":     p.summary.FOVs,
		"crops":    p.summary.Crops,
		"duration": p.summary.Duration.String(),
	})

	summary := p.summary
	return &summary, nil
}

func (p *Pipeline) step(n int, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["runId"] = p.runID
	fields["step"] = n
	p.log.Info(component, message, fields)
}

func (p *Pipeline) output(rel string) {
	p.summary.Outputs = append(p.summary.Outputs, rel)
}

func (p *Pipeline) recordDiagnostics(d extraction.Diagnostics) {
	p.summary.Instances = d.Instances
	p.summary.Crops = d.Extracted
	p.summary.Degenerate = d.Degenerate
	p.summary.Uncroppable = d.Uncroppable
	p.summary.NearBorder = d.NearBorder
	p.summary.FOVErrors = len(d.FOVErrors)
	p.summary.AlignmentFailures = d.AlignmentFailures
	p.summary.ContiguityViolations = d.ContiguityViolations

	for _, fe := range d.FOVErrors {
		p.log.Error(component, fe.Err, map[string]interface{}{"fov": fe.FOV})
	}
}

// tableRows joins crops, embeddings and per-FOV nearest-neighbour distances
func (p *Pipeline) tableRows(result *extraction.Result, vecs [][]float64) []embedding.Row {
	neighbour := make([]float64, result.Len())
	for fov, idx := range groupByFOV(result.Instances) {
		centers := make([]models.Point, len(idx))
		for j, i := range idx {
			centers[j] = result.Centers[i]
		}
		dists := spatial.NewIndex(centers).NearestOther(centers)
		for j, i := range idx {
			neighbour[i] = dists[j]
		}
		p.log.Debug(component, "Indexed centers", map[string]interface{}{"fov": fov, "centers": len(idx)})
	}

	rows := make([]embedding.Row, result.Len())
	for i, ref := range result.Instances {
		rows[i] = embedding.Row{
			SlideID:       p.cfg.Embedding.SlideID,
			FOV:           ref.FOV,
			ID:            ref.ID,
			Center:        result.Centers[i],
			NeighbourDist: neighbour[i],
			Embedding:     vecs[i],
		}
	}
	return rows
}

// groupByFOV maps each field of view to the result positions it owns
func groupByFOV(refs []extraction.InstanceRef) map[int][]int {
	groups := make(map[int][]int)
	for i, ref := range refs {
		groups[ref.FOV] = append(groups[ref.FOV], i)
	}
	return groups
}

func writeProjection(path string, rows []embedding.Row, vecs [][]float64) error {
	proj, err := embedding.Project2D(vecs)
	if err != nil {
		return err
	}
	return writeFile(path, func(f *os.File) error {
		return embedding.WriteProjectionCSV(f, rows, proj)
	})
}

func (p *Pipeline) writeSummary(path string) error {
	data, err := yaml.Marshal(p.summary)
	if err != nil {
		return fmt.Errorf("error marshaling summary: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
