// Package normalize decodes DICOM image files into displayable 8-bit
// rasters at a configured target resolution.
package normalize

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"

	"github.com/mrsinham/radscribe/internal/casescan"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"
)

// Image is a decoded, resized raster. It is immutable once produced and
// only references its source subfolder, it does not own it.
type Image struct {
	SourcePath string
	Subfolder  string
	Raster     *image.RGBA
	Width      int
	Height     int
}

// DecodeError is a per-file failure. It degrades the image set for the
// case, it never aborts the whole run.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Normalizer converts raw DICOM files to normalized rasters.
type Normalizer struct {
	TargetWidth    int
	TargetHeight   int
	PreserveAspect bool
	Workers        int
	Logger         *slog.Logger
}

type normalizeTask struct {
	index     int
	path      string
	subfolder string
}

type normalizeResult struct {
	index int
	img   *Image
	err   error
}

// NormalizeCase decodes every file of the case in parallel. The returned
// images keep subfolder discovery order, then file order within each
// subfolder. Per-file decode failures are returned as warnings.
func (n *Normalizer) NormalizeCase(ctx context.Context, c *casescan.Case) ([]*Image, []error) {
	var tasks []normalizeTask
	for _, sub := range c.Subfolders {
		for _, path := range sub.Files {
			tasks = append(tasks, normalizeTask{index: len(tasks), path: path, subfolder: sub.Name})
		}
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	workers := n.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	taskChan := make(chan normalizeTask, len(tasks))
	resultChan := make(chan normalizeResult, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				if ctx.Err() != nil {
					resultChan <- normalizeResult{index: task.index, err: &DecodeError{Path: task.path, Err: ctx.Err()}}
					continue
				}
				img, err := n.Normalize(task.path, task.subfolder)
				resultChan <- normalizeResult{index: task.index, img: img, err: err}
			}
		}()
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	ordered := make([]*Image, len(tasks))
	var warnings []error
	for res := range resultChan {
		if res.err != nil {
			warnings = append(warnings, res.err)
			continue
		}
		ordered[res.index] = res.img
	}

	images := make([]*Image, 0, len(tasks))
	for _, img := range ordered {
		if img != nil {
			images = append(images, img)
		}
	}

	n.logger().Info("case normalized", "images", len(images), "failed", len(warnings))
	return images, warnings
}

// Normalize decodes a single DICOM file into an 8-bit raster at the target
// resolution. The first frame of multi-frame files is used.
func (n *Normalizer) Normalize(path, subfolder string) (*Image, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("no pixel data: %w", err)}
	}
	info := dicom.MustGetPixelDataInfo(pixelElem.Value)
	if len(info.Frames) == 0 {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("pixel data has no frames")}
	}

	frameImg, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("decode frame: %w", err)}
	}

	invert := photometricInterpretation(&ds) == "MONOCHROME1"
	gray := windowToGray(frameImg, invert)

	dstW, dstH := n.targetSize(gray.Bounds().Dx(), gray.Bounds().Dy())
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.BiLinear.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Over, nil)

	return &Image{
		SourcePath: path,
		Subfolder:  subfolder,
		Raster:     dst,
		Width:      dstW,
		Height:     dstH,
	}, nil
}

// targetSize fits the source dimensions into the target resolution,
// preserving aspect ratio unless configured otherwise.
func (n *Normalizer) targetSize(srcW, srcH int) (int, int) {
	if !n.PreserveAspect || srcW == 0 || srcH == 0 {
		return n.TargetWidth, n.TargetHeight
	}
	scaleW := float64(n.TargetWidth) / float64(srcW)
	scaleH := float64(n.TargetHeight) / float64(srcH)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	w := int(float64(srcW) * scale)
	h := int(float64(srcH) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// windowToGray stretches the source's value range to full 8-bit and
// returns an RGBA raster. DICOM 16-bit data is typically 12-bit range, a
// straight truncation would render near-black.
func windowToGray(src image.Image, invert bool) *image.RGBA {
	bounds := src.Bounds()
	minVal, maxVal := uint32(1<<16-1), uint32(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			v := (r + g + b) / 3
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
	}

	span := maxVal - minVal
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			v := (r + g + b) / 3
			var gray8 uint8
			if span > 0 {
				gray8 = uint8((v - minVal) * 255 / span)
			}
			if invert {
				gray8 = 255 - gray8
			}
			out.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{gray8, gray8, gray8, 255})
		}
	}
	return out
}

func photometricInterpretation(ds *dicom.Dataset) string {
	elem, err := ds.FindElementByTag(tag.PhotometricInterpretation)
	if err != nil {
		return "MONOCHROME2"
	}
	if vals, ok := elem.Value.GetValue().([]string); ok && len(vals) > 0 {
		return vals[0]
	}
	return "MONOCHROME2"
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}
