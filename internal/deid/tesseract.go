package deid

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// TesseractDetector detects text regions with a local Tesseract install
// via gosseract. One detector instance is safe for sequential use only;
// the stage calls it from a single goroutine per image.
type TesseractDetector struct {
	Languages []string
}

// DetectText runs word-level OCR over the full image and returns one
// region per detected word. Confidence is normalized to [0,1].
func (d *TesseractDetector) DetectText(img image.Image) ([]Region, error) {
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	langs := d.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("set OCR languages: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image for OCR: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set OCR image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("detect text: %w", err)
	}

	regions := make([]Region, 0, len(boxes))
	for _, b := range boxes {
		regions = append(regions, Region{
			X:          b.Box.Min.X,
			Y:          b.Box.Min.Y,
			W:          b.Box.Dx(),
			H:          b.Box.Dy(),
			Confidence: b.Confidence / 100,
			Text:       b.Word,
		})
	}
	return regions, nil
}
