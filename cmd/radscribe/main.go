package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/mrsinham/radscribe/internal/config"
	"github.com/mrsinham/radscribe/internal/deid"
	"github.com/mrsinham/radscribe/internal/llm"
	"github.com/mrsinham/radscribe/internal/pipeline"
	"github.com/mrsinham/radscribe/internal/report"
	"github.com/mrsinham/radscribe/internal/templates"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	caseDir := flag.String("case", "", "Case directory to process (required)")
	configPath := flag.String("config", "", "YAML config file (defaults apply if omitted)")
	catalogPath := flag.String("templates", "templates.json", "Template catalog file")
	outputDir := flag.String("output", ".", "Directory to write the draft report into")
	priorPath := flag.String("prior", "", "Optional prior report text file for comparison")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("radscribe %s\n", version)
		os.Exit(0)
	}
	if *caseDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: radscribe -case path/to/case [-config config.yaml] [-templates templates.json] [-output dir] [-prior report.txt]")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
	slog.SetDefault(logger)

	if err := run(*caseDir, *configPath, *catalogPath, *outputDir, *priorPath, logger); err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			var modelErr *llm.ModelError
			if errors.As(err, &modelErr) {
				logger.Error("pipeline failed", "stage", string(stageErr.Stage), "kind", string(modelErr.Kind), "error", err)
				os.Exit(1)
			}
			logger.Error("pipeline failed", "stage", string(stageErr.Stage), "error", err)
			os.Exit(1)
		}
		logger.Error("radscribe failed", "error", err)
		os.Exit(1)
	}
}

func run(caseDir, configPath, catalogPath, outputDir, priorPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	catalog, err := templates.LoadCatalog(catalogPath)
	if err != nil {
		return err
	}

	var detector deid.TextDetector
	if cfg.PHI.Method != "crop" {
		detector = &deid.TesseractDetector{Languages: cfg.PHI.OCRLanguages}
	}

	runner, err := pipeline.New(cfg, catalog, detector, logger)
	if err != nil {
		return err
	}

	var opts pipeline.RunOptions
	if priorPath != "" {
		prior, err := os.ReadFile(priorPath)
		if err != nil {
			return fmt.Errorf("read prior report: %w", err)
		}
		opts.PriorReport = string(prior)
	}

	result, err := runner.Run(ctx, caseDir, opts)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		logger.Warn("degraded", "stage", string(w.Stage), "error", w.Err)
	}

	content := report.Render(result.Match.Entry.Name, result.Response)
	path, err := report.Save(outputDir, result.CaseName, content)
	if err != nil {
		return err
	}

	logger.Info("draft report written", "path", path, "template", result.Match.Entry.Name, "method", string(result.Match.Method))
	fmt.Println(path)
	return nil
}
