// Package deid removes burned-in identifying text from normalized images
// before they cross the pipeline boundary toward the model client.
package deid

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/radscribe/internal/normalize"
)

// Strategy selects the de-identification method.
type Strategy int

const (
	StrategyCrop Strategy = iota
	StrategyOCR
	StrategyHybrid
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyOCR:
		return "ocr"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "crop"
	}
}

// ParseStrategy parses a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "crop":
		return StrategyCrop, nil
	case "ocr":
		return StrategyOCR, nil
	case "hybrid":
		return StrategyHybrid, nil
	default:
		return StrategyCrop, fmt.Errorf("invalid strategy: %s (valid: crop, ocr, hybrid)", s)
	}
}

// Region is one detected text region.
type Region struct {
	X, Y, W, H int
	Confidence float64 // [0,1]
	Text       string
}

// TextDetector finds text regions in an image.
type TextDetector interface {
	DetectText(img image.Image) ([]Region, error)
}

// Image is the de-identified derivative of exactly one normalized image.
// Path points at the redacted JPEG in the run's scratch area; nothing is
// written to disk before redaction.
type Image struct {
	Source    *normalize.Image
	Path      string
	Strategy  Strategy // configured strategy
	Applied   Strategy // strategy actually applied (hybrid resolves to crop or ocr)
	Confirmed bool     // detection occurred / crop applied, vs returned unmodified
	Regions   int      // redacted region count, 0 for crop
}

// DeidentifyError is a per-image failure.
type DeidentifyError struct {
	Path string
	Err  error
}

func (e *DeidentifyError) Error() string {
	return fmt.Sprintf("deidentify %s: %v", e.Path, e.Err)
}

func (e *DeidentifyError) Unwrap() error { return e.Err }

// redactPadding widens every redaction box by a couple of pixels so glyph
// edges do not survive anti-aliasing.
const redactPadding = 2

// Stage applies one configured de-identification strategy per image.
type Stage struct {
	Strategy            Strategy
	CropFraction        float64
	ConfidenceThreshold float64
	HybridMinRegions    int
	Detector            TextDetector
	JPEGQuality         int
	Logger              *slog.Logger
}

// Apply de-identifies one image and writes the cleaned JPEG into outDir.
// Hybrid applies exactly one of OCR redaction or crop, never both.
func (s *Stage) Apply(src *normalize.Image, outDir string, index int) (*Image, error) {
	out := &Image{Source: src, Strategy: s.Strategy}

	switch s.Strategy {
	case StrategyCrop:
		cropped, err := s.crop(src.Raster)
		if err != nil {
			return nil, &DeidentifyError{Path: src.SourcePath, Err: err}
		}
		out.Applied = StrategyCrop
		out.Confirmed = true
		return s.write(out, cropped, outDir, index)

	case StrategyOCR:
		regions, err := s.detect(src.Raster)
		if err != nil {
			return nil, &DeidentifyError{Path: src.SourcePath, Err: err}
		}
		out.Applied = StrategyOCR
		if len(regions) == 0 {
			// Policy signal for the caller, not a failure: nothing was
			// detected, so nothing was redacted.
			s.logger().Warn("no text detected, image not confirmed de-identified", "path", src.SourcePath)
			out.Confirmed = false
			return s.write(out, src.Raster, outDir, index)
		}
		out.Confirmed = true
		out.Regions = len(regions)
		return s.write(out, redact(src.Raster, regions), outDir, index)

	case StrategyHybrid:
		regions, err := s.detect(src.Raster)
		if err != nil || len(regions) < s.HybridMinRegions {
			// Too few regions signals detection failure rather than a clean
			// image; fall back to crop on the unmodified source.
			if err != nil {
				s.logger().Warn("text detection failed, falling back to crop", "path", src.SourcePath, "error", err)
			}
			cropped, cropErr := s.crop(src.Raster)
			if cropErr != nil {
				return nil, &DeidentifyError{Path: src.SourcePath, Err: cropErr}
			}
			out.Applied = StrategyCrop
			out.Confirmed = true
			return s.write(out, cropped, outDir, index)
		}
		out.Applied = StrategyOCR
		out.Confirmed = true
		out.Regions = len(regions)
		return s.write(out, redact(src.Raster, regions), outDir, index)

	default:
		return nil, &DeidentifyError{Path: src.SourcePath, Err: fmt.Errorf("unknown strategy %d", s.Strategy)}
	}
}

// crop removes a fixed-height band from the top of the image.
func (s *Stage) crop(src *image.RGBA) (*image.RGBA, error) {
	bounds := src.Bounds()
	band := int(float64(bounds.Dy()) * s.CropFraction)
	if band < 1 {
		band = 1
	}
	if bounds.Dy() <= band {
		return nil, fmt.Errorf("image height %d not taller than crop band %d", bounds.Dy(), band)
	}

	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()-band))
	draw.Draw(out, out.Bounds(), src, image.Pt(bounds.Min.X, bounds.Min.Y+band), draw.Src)
	return out, nil
}

// detect runs the detector and keeps regions at or above the confidence
// threshold.
func (s *Stage) detect(img image.Image) ([]Region, error) {
	if s.Detector == nil {
		return nil, fmt.Errorf("no text detector configured")
	}
	regions, err := s.Detector.DetectText(img)
	if err != nil {
		return nil, err
	}
	kept := regions[:0]
	for _, r := range regions {
		if r.Confidence >= s.ConfidenceThreshold && r.Text != "" {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// redact fills every region with a neutral color on a copy of the source.
func redact(src *image.RGBA, regions []Region) *image.RGBA {
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, r := range regions {
		box := image.Rect(r.X-redactPadding, r.Y-redactPadding, r.X+r.W+redactPadding, r.Y+r.H+redactPadding)
		box = box.Intersect(out.Bounds())
		draw.Draw(out, box, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	return out
}

func (s *Stage) write(out *Image, raster *image.RGBA, outDir string, index int) (*Image, error) {
	name := fmt.Sprintf("%03d_%s.jpg", index, strings.TrimSuffix(filepath.Base(out.Source.SourcePath), filepath.Ext(out.Source.SourcePath)))
	path := filepath.Join(outDir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, &DeidentifyError{Path: out.Source.SourcePath, Err: err}
	}
	defer func() { _ = f.Close() }()

	quality := s.JPEGQuality
	if quality <= 0 {
		quality = 95
	}
	if err := jpeg.Encode(f, raster, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &DeidentifyError{Path: out.Source.SourcePath, Err: err}
	}

	out.Path = path
	return out, nil
}

func (s *Stage) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
