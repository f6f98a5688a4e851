// Package prompt assembles multimodal model requests from a template
// match and the case's de-identified images.
package prompt

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/radscribe/internal/deid"
	"github.com/mrsinham/radscribe/internal/templates"
)

// SystemPrompt steers the model toward structured, template-driven
// radiology drafting. Output is always a draft requiring human review.
const SystemPrompt = `You are an expert radiologist analyzing medical images for report drafting.

Analyze the provided images and produce a draft report following the given template structure exactly. For each section, write relevant findings using standard medical terminology. Be specific about locations, measurements and characteristics. If a section has no relevant findings, write "No significant findings".

Write each section as the section name on its own line, followed by the section body. Do not invent sections that are not in the template. Do not use markdown formatting such as '**' for emphasis. The output must be a clean plain-text document, not JSON.`

// EncodedImage is one image payload ready for the wire.
type EncodedImage struct {
	DataURL string
	Source  string // file path, for logging and audit only
}

// Request is a fully assembled model request. Image order is few-shot
// example images first, then the case's own images in subfolder discovery
// order then file order.
type Request struct {
	System        string
	TemplateName  string
	Sections      []string // verbatim from the matched template, template order
	FewShotReport string   // empty when few-shot is disabled or absent
	Images        []EncodedImage
	Context       string // optional prior report / clinical indication
}

// Assembler builds requests.
type Assembler struct {
	IncludeFewShot bool
	Logger         *slog.Logger
}

// Assemble builds one request from the match and the de-identified image
// set. Context is optional free text carried through verbatim.
func (a *Assembler) Assemble(match templates.Match, images []*deid.Image, context string) (*Request, error) {
	req := &Request{
		System:       SystemPrompt,
		TemplateName: match.Entry.Name,
		Sections:     match.Entry.Sections,
		Context:      context,
	}

	// The worked example always precedes the real case.
	if a.IncludeFewShot && match.Entry.FewShot != nil {
		for _, path := range match.Entry.FewShot.ImagePaths {
			enc, err := encodeImageFile(path)
			if err != nil {
				return nil, fmt.Errorf("encode few-shot image: %w", err)
			}
			req.Images = append(req.Images, enc)
		}
		req.FewShotReport = match.Entry.FewShot.Report
	}

	for _, img := range images {
		enc, err := encodeImageFile(img.Path)
		if err != nil {
			return nil, fmt.Errorf("encode case image: %w", err)
		}
		req.Images = append(req.Images, enc)
	}

	a.logger().Info("request assembled",
		"template", req.TemplateName,
		"sections", len(req.Sections),
		"images", len(req.Images),
		"few_shot", req.FewShotReport != "")
	return req, nil
}

// UserText renders the textual part of the request: template structure,
// optional few-shot report and optional context.
func (r *Request) UserText() string {
	var b strings.Builder
	b.WriteString("Generate a draft report for the attached case images using this template: ")
	b.WriteString(r.TemplateName)
	b.WriteString("\n\nTEMPLATE SECTIONS (in order):\n")
	for _, s := range r.Sections {
		b.WriteString(s)
		b.WriteString("\n")
	}

	if r.FewShotReport != "" {
		b.WriteString("\nThe first images are a worked example. Here is the reference report written for them; follow its structure, sentence style and formatting:\n\n")
		b.WriteString(r.FewShotReport)
		b.WriteString("\n")
	}

	if r.Context != "" {
		b.WriteString("\n---PRIOR REPORT / CLINICAL CONTEXT---\n")
		b.WriteString(r.Context)
		b.WriteString("\n---END CONTEXT---\n")
		b.WriteString("\nCompare findings with the context above and explicitly note significant changes, new findings, or stability.\n")
	}

	return b.String()
}

var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// encodeImageFile reads an image file and encodes it as a base64 data URL.
func encodeImageFile(path string) (EncodedImage, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mime, ok := mimeTypes[ext]
	if !ok {
		return EncodedImage{}, fmt.Errorf("unsupported image format %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return EncodedImage{}, err
	}

	return EncodedImage{
		DataURL: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)),
		Source:  path,
	}, nil
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
