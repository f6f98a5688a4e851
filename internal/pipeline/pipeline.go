// Package pipeline orchestrates a full case run: scan, normalize,
// de-identify, match, assemble, generate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mrsinham/radscribe/internal/casescan"
	"github.com/mrsinham/radscribe/internal/config"
	"github.com/mrsinham/radscribe/internal/deid"
	"github.com/mrsinham/radscribe/internal/llm"
	"github.com/mrsinham/radscribe/internal/normalize"
	"github.com/mrsinham/radscribe/internal/prompt"
	"github.com/mrsinham/radscribe/internal/templates"
)

// Stage names a pipeline phase for error reporting and timings.
type Stage string

const (
	StageScan       Stage = "scan"
	StageNormalize  Stage = "normalize"
	StageDeidentify Stage = "deidentify"
	StageMatch      Stage = "match"
	StageAssemble   Stage = "assemble"
	StageGenerate   Stage = "generate"
)

// StageError is a fatal failure attributed to one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Warning is a recoverable degradation recorded during the run.
type Warning struct {
	Stage Stage
	Err   error
}

// Timing records how long one stage took.
type Timing struct {
	Stage    Stage
	Duration time.Duration
}

// Result is the outcome of a completed run.
type Result struct {
	CaseName string
	Match    templates.Match
	Images   []*deid.Image
	Response *llm.Response
	Warnings []Warning
	Timings  []Timing
}

// RunOptions carries per-run inputs beyond the case directory.
type RunOptions struct {
	// PriorReport is optional free text (a previous report or clinical
	// indication) passed through to the prompt for comparison.
	PriorReport string
}

// Runner wires the stages together. Build it once, run many cases.
type Runner struct {
	Config   *config.Config
	Scanner  *casescan.Scanner
	Norm     *normalize.Normalizer
	Deid     *deid.Stage
	Matcher  *templates.Matcher
	Assemble *prompt.Assembler
	Client   *llm.Client
	Logger   *slog.Logger
}

// New builds a Runner from configuration. detector may be nil only when
// the configured strategy is crop.
func New(cfg *config.Config, catalog *templates.Catalog, detector deid.TextDetector, logger *slog.Logger) (*Runner, error) {
	strategy, err := deid.ParseStrategy(cfg.PHI.Method)
	if err != nil {
		return nil, err
	}
	if strategy != deid.StrategyCrop && detector == nil {
		return nil, fmt.Errorf("phi.method %q requires a text detector", cfg.PHI.Method)
	}

	matcher, err := templates.NewMatcher(catalog, cfg.Matching.FuzzyThreshold, cfg.Matching.TieBreak, cfg.Matching.DefaultTemplate, logger)
	if err != nil {
		return nil, err
	}

	return &Runner{
		Config:  cfg,
		Scanner: &casescan.Scanner{Logger: logger},
		Norm: &normalize.Normalizer{
			TargetWidth:    cfg.Dicom.TargetWidth,
			TargetHeight:   cfg.Dicom.TargetHeight,
			PreserveAspect: cfg.Dicom.PreserveAspect,
			Workers:        cfg.Dicom.Workers,
			Logger:         logger,
		},
		Deid: &deid.Stage{
			Strategy:            strategy,
			CropFraction:        cfg.PHI.CropFraction,
			ConfidenceThreshold: cfg.PHI.ConfidenceThreshold,
			HybridMinRegions:    cfg.PHI.HybridMinRegions,
			Detector:            detector,
			JPEGQuality:         cfg.Dicom.JPEGQuality,
			Logger:              logger,
		},
		Matcher:  matcher,
		Assemble: &prompt.Assembler{IncludeFewShot: cfg.Prompt.IncludeFewShot, Logger: logger},
		Client: &llm.Client{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.ResolveAPIKey(),
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			MaxAttempts: cfg.LLM.MaxAttempts,
			RetryDelay:  time.Duration(cfg.LLM.RetryDelaySeconds) * time.Second,
			Exponential: cfg.LLM.ExponentialBackoff,
			MaxImages:   cfg.LLM.MaxImagesPerRequest,
			Logger:      logger,
		},
		Logger: logger,
	}, nil
}

// Run processes one case directory end to end. Everything written under
// the scratch area is removed before Run returns, success or not.
func (r *Runner) Run(ctx context.Context, caseDir string, opts RunOptions) (*Result, error) {
	caseName := filepath.Base(filepath.Clean(caseDir))
	result := &Result{CaseName: caseName}
	started := time.Now()

	scratch := filepath.Join(r.Config.ScratchDir, caseName+"-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return nil, &StageError{Stage: StageScan, Err: fmt.Errorf("create scratch dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			r.logger().Error("scratch cleanup failed, de-identified images may remain", "dir", scratch, "error", err)
		}
	}()

	// Scan.
	scanStart := time.Now()
	c, err := r.Scanner.Scan(caseDir)
	if err != nil {
		return nil, &StageError{Stage: StageScan, Err: err}
	}
	result.timing(StageScan, scanStart)

	// Matching only needs subfolder names, so it overlaps image work.
	names := make([]string, 0, len(c.Subfolders))
	for _, sub := range c.Subfolders {
		names = append(names, sub.Name)
	}
	matchCh := make(chan templates.Match, 1)
	matchStart := time.Now()
	go func() { matchCh <- r.Matcher.Match(names) }()

	// Normalize.
	normStart := time.Now()
	normalized, warns := r.Norm.NormalizeCase(ctx, c)
	for _, w := range warns {
		result.Warnings = append(result.Warnings, Warning{Stage: StageNormalize, Err: w})
	}
	result.timing(StageNormalize, normStart)
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageNormalize, Err: err}
	}

	// De-identify. A crop precondition failure under the crop strategy is
	// fatal: there is no safe fallback and no image may leave unredacted.
	// Under other strategies a failed image is dropped with a warning.
	deidStart := time.Now()
	for i, img := range normalized {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: StageDeidentify, Err: err}
		}
		clean, err := r.Deid.Apply(img, scratch, i)
		if err != nil {
			if r.Deid.Strategy == deid.StrategyCrop {
				return nil, &StageError{Stage: StageDeidentify, Err: err}
			}
			result.Warnings = append(result.Warnings, Warning{Stage: StageDeidentify, Err: err})
			continue
		}
		result.Images = append(result.Images, clean)
	}
	result.timing(StageDeidentify, deidStart)

	result.Match = <-matchCh
	result.Timings = append(result.Timings, Timing{Stage: StageMatch, Duration: time.Since(matchStart)})

	if len(result.Images) == 0 {
		result.Warnings = append(result.Warnings, Warning{
			Stage: StageDeidentify,
			Err:   errors.New("no images survived de-identification, generating from template structure only"),
		})
	}

	// Assemble.
	assembleStart := time.Now()
	req, err := r.Assemble.Assemble(result.Match, result.Images, opts.PriorReport)
	if err != nil {
		return nil, &StageError{Stage: StageAssemble, Err: err}
	}
	result.timing(StageAssemble, assembleStart)

	// Generate.
	genStart := time.Now()
	resp, err := r.Client.Generate(ctx, req)
	if err != nil {
		return nil, &StageError{Stage: StageGenerate, Err: err}
	}
	result.Response = resp
	result.timing(StageGenerate, genStart)

	r.logger().Info("case complete",
		"case", caseName,
		"template", result.Match.Entry.Name,
		"method", string(result.Match.Method),
		"images", len(result.Images),
		"warnings", len(result.Warnings),
		"attempts", resp.Attempts,
		"elapsed", time.Since(started))
	return result, nil
}

func (r *Result) timing(stage Stage, start time.Time) {
	r.Timings = append(r.Timings, Timing{Stage: stage, Duration: time.Since(start)})
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
