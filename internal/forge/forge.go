// Package forge generates synthetic ultrasound DICOM cases for tests and
// local development. Images are deterministic noise with a patient banner
// burned into the top band, mimicking the exports the pipeline ingests.
package forge

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SubfolderSpec describes one examination subfolder of a generated case.
type SubfolderSpec struct {
	Name   string
	Images int
}

// CaseOptions controls case generation. The same seed always produces the
// same bytes on disk.
type CaseOptions struct {
	Root        string
	Subfolders  []SubfolderSpec
	Width       int
	Height      int
	Seed        uint64
	PatientName string
}

// GenerateCase writes a full case directory tree and returns the paths of
// the generated files.
func GenerateCase(opts CaseOptions) ([]string, error) {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.PatientName == "" {
		opts.PatientName = "DOE^JANE"
	}

	var paths []string
	for si, sub := range opts.Subfolders {
		dir := filepath.Join(opts.Root, sub.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create subfolder: %w", err)
		}
		for i := 1; i <= sub.Images; i++ {
			path := filepath.Join(dir, fmt.Sprintf("IMG%04d.dcm", i))
			seed := opts.Seed + uint64(si)*1000 + uint64(i)
			if err := generateImage(path, opts, sub.Name, i, seed); err != nil {
				return nil, fmt.Errorf("generate %s: %w", path, err)
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// generateImage writes one 8-bit MONOCHROME2 ultrasound file.
func generateImage(path string, opts CaseOptions, subfolder string, instance int, seed uint64) error {
	width, height := opts.Width, opts.Height
	pixelsPerFrame := width * height

	nativeFrame := frame.NewNativeFrame[uint8](8, height, width, pixelsPerFrame, 1)

	// Speckle noise over a radial falloff, the usual look of a sector scan.
	rng := randv2.New(randv2.NewPCG(seed, seed))
	centerX, centerY := float64(width)/2, float64(height)/2
	maxDist := math.Sqrt(centerX*centerX + centerY*centerY)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			base := 140.0 * (1.0 - dist/maxDist)
			noise := rng.Float64()*60 - 30
			v := base + noise
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			nativeFrame.RawData[y*width+x] = uint8(v)
		}
	}

	drawBanner(nativeFrame, width, fmt.Sprintf("%s  ID:12345  %s", opts.PatientName, subfolder))

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}

	studyUID := deterministicUID(opts.Root + "_study")
	seriesUID := deterministicUID(opts.Root + "_series_" + subfolder)
	sopUID := deterministicUID(fmt.Sprintf("%s_%s_instance_%d", opts.Root, subfolder, instance))

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(tag.PatientName, []string{opts.PatientName}),
		mustNewElement(tag.PatientID, []string{"12345"}),
		mustNewElement(tag.PatientBirthDate, []string{"19800101"}),
		mustNewElement(tag.PatientSex, []string{"F"}),
		mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
		mustNewElement(tag.SeriesDescription, []string{subfolder}),
		mustNewElement(tag.Modality, []string{"US"}),
		mustNewElement(tag.SOPInstanceUID, []string{sopUID}),
		// Ultrasound Image Storage.
		mustNewElement(tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.6.1"}),
		mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", instance)}),
		mustNewElement(tag.Rows, []int{height}),
		mustNewElement(tag.Columns, []int{width}),
		mustNewElement(tag.BitsAllocated, []int{8}),
		mustNewElement(tag.BitsStored, []int{8}),
		mustNewElement(tag.HighBit, []int{7}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.PixelData, pixelDataInfo),
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, dicom.Dataset{Elements: elements})
}

// drawBanner burns white text into the top band of the frame.
func drawBanner(nativeFrame *frame.NativeFrame[uint8], width int, text string) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()
	textHeight := 13

	textImg := image.NewRGBA(image.Rect(0, 0, textWidth, textHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(textHeight)},
	}
	drawer.DrawString(text)

	const marginX, marginY = 8, 6
	for sy := 0; sy < textHeight; sy++ {
		for sx := 0; sx < textWidth; sx++ {
			_, _, _, a := textImg.At(sx, sy).RGBA()
			if a == 0 {
				continue
			}
			destX := marginX + sx
			destY := marginY + sy
			if destX < width && destY*width+destX < len(nativeFrame.RawData) {
				nativeFrame.RawData[destY*width+destX] = 255
			}
		}
	}
}

// deterministicUID derives a valid DICOM UID from a seed string, the same
// seed always yielding the same UID.
func deterministicUID(seed string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return fmt.Sprintf("1.2.826.0.1.3680043.8.498.%d", h.Sum64()%1e12)
}

func mustNewElement(t tag.Tag, data interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, data)
	if err != nil {
		panic(fmt.Sprintf("creating element %v: %v", t, err))
	}
	return elem
}
