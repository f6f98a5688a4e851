package prompt

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrsinham/radscribe/internal/deid"
	"github.com/mrsinham/radscribe/internal/templates"
)

func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	return path
}

func testMatch(fewShot *templates.FewShot) templates.Match {
	return templates.Match{
		Entry: &templates.Entry{
			Name:     "ULTRASOUND OF BOTH BREASTS",
			Sections: []string{"CLINICAL INDICATION", "FINDINGS", "IMPRESSION"},
			FewShot:  fewShot,
		},
		Method: templates.MethodExact,
		Score:  1,
	}
}

func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	img1 := writeJPEG(t, dir, "000_IMG0001.jpg")
	img2 := writeJPEG(t, dir, "001_IMG0002.jpg")

	a := &Assembler{}
	req, err := a.Assemble(testMatch(nil), []*deid.Image{{Path: img1}, {Path: img2}}, "")
	if err != nil {
		t.Fatalf("Assemble() returned error: %v", err)
	}

	if req.System != SystemPrompt {
		t.Error("request does not carry the system prompt")
	}
	if req.TemplateName != "ULTRASOUND OF BOTH BREASTS" {
		t.Errorf("TemplateName = %q", req.TemplateName)
	}
	if len(req.Sections) != 3 {
		t.Errorf("Sections length = %d, want 3", len(req.Sections))
	}
	if len(req.Images) != 2 {
		t.Fatalf("Images length = %d, want 2", len(req.Images))
	}
	for i, img := range req.Images {
		if !strings.HasPrefix(img.DataURL, "data:image/jpeg;base64,") {
			t.Errorf("Images[%d].DataURL does not start with a jpeg data URL prefix", i)
		}
	}
	// Case order preserved.
	if req.Images[0].Source != img1 || req.Images[1].Source != img2 {
		t.Error("image order does not follow input order")
	}
}

func TestAssemble_FewShotImagesFirst(t *testing.T) {
	dir := t.TempDir()
	example := writeJPEG(t, dir, "example.jpg")
	caseImg := writeJPEG(t, dir, "000_IMG0001.jpg")

	fewShot := &templates.FewShot{
		ImagePaths: []string{example},
		Report:     "FINDINGS\nNormal study.",
	}

	a := &Assembler{IncludeFewShot: true}
	req, err := a.Assemble(testMatch(fewShot), []*deid.Image{{Path: caseImg}}, "")
	if err != nil {
		t.Fatalf("Assemble() returned error: %v", err)
	}

	if len(req.Images) != 2 {
		t.Fatalf("Images length = %d, want 2", len(req.Images))
	}
	if req.Images[0].Source != example {
		t.Error("few-shot image is not first")
	}
	if req.FewShotReport == "" {
		t.Error("few-shot report not carried")
	}
	if !strings.Contains(req.UserText(), "Normal study.") {
		t.Error("UserText() does not include the few-shot report")
	}
}

func TestAssemble_FewShotDisabled(t *testing.T) {
	dir := t.TempDir()
	example := writeJPEG(t, dir, "example.jpg")
	caseImg := writeJPEG(t, dir, "000_IMG0001.jpg")

	fewShot := &templates.FewShot{ImagePaths: []string{example}, Report: "FINDINGS\nNormal."}

	a := &Assembler{IncludeFewShot: false}
	req, err := a.Assemble(testMatch(fewShot), []*deid.Image{{Path: caseImg}}, "")
	if err != nil {
		t.Fatalf("Assemble() returned error: %v", err)
	}
	if len(req.Images) != 1 {
		t.Errorf("Images length = %d, want 1 with few-shot disabled", len(req.Images))
	}
	if req.FewShotReport != "" {
		t.Error("few-shot report carried despite being disabled")
	}
}

func TestAssemble_Context(t *testing.T) {
	a := &Assembler{}
	req, err := a.Assemble(testMatch(nil), nil, "Prior report: benign cyst left breast.")
	if err != nil {
		t.Fatalf("Assemble() returned error: %v", err)
	}

	text := req.UserText()
	if !strings.Contains(text, "Prior report: benign cyst left breast.") {
		t.Error("UserText() does not include the prior report context")
	}
	if !strings.Contains(text, "note significant changes") {
		t.Error("UserText() does not ask for comparison against the context")
	}
}

func TestAssemble_MissingImage(t *testing.T) {
	a := &Assembler{}
	_, err := a.Assemble(testMatch(nil), []*deid.Image{{Path: filepath.Join(t.TempDir(), "gone.jpg")}}, "")
	if err == nil {
		t.Fatal("Assemble() with a missing image file did not fail")
	}
}

func TestEncodeImageFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.bmp")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := encodeImageFile(path); err == nil {
		t.Error("encodeImageFile() accepted an unsupported format")
	}
}

func TestUserText_SectionsInOrder(t *testing.T) {
	req := &Request{
		TemplateName: "ULTRASOUND OF BOTH BREASTS",
		Sections:     []string{"CLINICAL INDICATION", "FINDINGS", "IMPRESSION"},
	}
	text := req.UserText()
	ci := strings.Index(text, "CLINICAL INDICATION")
	f := strings.Index(text, "FINDINGS")
	imp := strings.Index(text, "IMPRESSION")
	if ci < 0 || f < 0 || imp < 0 || !(ci < f && f < imp) {
		t.Errorf("UserText() sections missing or out of order:\n%s", text)
	}
}
