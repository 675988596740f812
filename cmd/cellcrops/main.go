package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cellcrops/internal/logger"
	"cellcrops/pkg/config"
	"cellcrops/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	inputDir := flag.String("input", "", "Directory containing raw single-channel scans (overrides scan.inputDir)")
	maskDir := flag.String("masks", "", "Directory of precomputed mask_<i>.png files (switches segmentation to masks)")
	outputDir := flag.String("output", "", "Output directory (overrides output.dir)")
	workers := flag.Int("workers", -1, "Number of FOVs cropped in parallel, 0 = all CPUs (overrides extraction.numWorkers)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command line flags take precedence over the config file
	if *inputDir != "" {
		cfg.Scan.InputDir = *inputDir
	}
	if *maskDir != "" {
		cfg.Segmentation.Method = "masks"
		cfg.Segmentation.MaskDir = *maskDir
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *workers >= 0 {
		cfg.Extraction.NumWorkers = *workers
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if cfg.Scan.InputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	console := logger.NewConsoleLogger(logger.ParseLevel(cfg.Logging.Level))

	p, err := pipeline.NewPipeline(cfg, console)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("================================")
	fmt.Println("CELL CROP EXTRACTION")
	fmt.Printf("Run: %s\n", p.RunID())
	fmt.Println("================================")

	summary, err := p.Process(ctx)
	if err != nil {
		stop()
		log.Fatalf("Run failed: %v", err)
	}

	fmt.Printf("\nRun completed successfully in %.2f seconds!\n", summary.Duration.Seconds())
	fmt.Printf("Scans: %d (%d fields of view, %dx%d)\n", summary.Scans, summary.FOVs, summary.Rows, summary.Cols)
	fmt.Printf("Instances: %d\n", summary.Instances)
	fmt.Printf("Crops extracted: %d\n", summary.Crops)
	fmt.Printf("Skipped: %d degenerate, %d uncroppable, %d near border\n",
		summary.Degenerate, summary.Uncroppable, summary.NearBorder)
	if summary.FOVErrors > 0 {
		fmt.Printf("Fields of view with errors: %d\n", summary.FOVErrors)
	}
	if cfg.Extraction.Verify {
		fmt.Printf("Verify: %d alignment failures, %d contiguity violations\n",
			summary.AlignmentFailures, summary.ContiguityViolations)
	}
	fmt.Printf("Embedding dimensions: %d\n", summary.EmbeddingDims)

	fmt.Println("\nOutputs written to:")
	fmt.Printf("%s\n", cfg.Output.Dir)
	for _, rel := range summary.Outputs {
		fmt.Printf("- %s\n", filepath.ToSlash(rel))
	}
}
