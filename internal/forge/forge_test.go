package forge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestGenerateCase(t *testing.T) {
	root := t.TempDir()
	paths, err := GenerateCase(CaseOptions{
		Root: root,
		Subfolders: []SubfolderSpec{
			{Name: "Us_Breast_(Bilateral) - US23", Images: 2},
			{Name: "Us_Abdomen", Images: 1},
		},
		Width:       64,
		Height:      64,
		Seed:        1,
		PatientName: "TEST^PATIENT",
	})
	if err != nil {
		t.Fatalf("GenerateCase() returned error: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("GenerateCase() produced %d files, want 3", len(paths))
	}

	for _, path := range paths {
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			t.Fatalf("generated file %s does not parse: %v", path, err)
		}

		if got := stringTag(t, &ds, tag.PatientName); got != "TEST^PATIENT" {
			t.Errorf("%s PatientName = %q", path, got)
		}
		if got := stringTag(t, &ds, tag.Modality); got != "US" {
			t.Errorf("%s Modality = %q", path, got)
		}
		if got := intTag(t, &ds, tag.Rows); got != 64 {
			t.Errorf("%s Rows = %d, want 64", path, got)
		}
		if got := intTag(t, &ds, tag.BitsAllocated); got != 8 {
			t.Errorf("%s BitsAllocated = %d, want 8", path, got)
		}

		pixelElem, err := ds.FindElementByTag(tag.PixelData)
		if err != nil {
			t.Fatalf("%s has no pixel data: %v", path, err)
		}
		info := dicom.MustGetPixelDataInfo(pixelElem.Value)
		if len(info.Frames) != 1 {
			t.Fatalf("%s has %d frames, want 1", path, len(info.Frames))
		}
		if _, err := info.Frames[0].GetImage(); err != nil {
			t.Errorf("%s frame does not decode: %v", path, err)
		}
	}
}

func TestGenerateCase_Deterministic(t *testing.T) {
	opts := CaseOptions{
		Subfolders: []SubfolderSpec{{Name: "Us_Abdomen", Images: 1}},
		Width:      32,
		Height:     32,
		Seed:       99,
	}

	// UIDs derive from the root path, so regenerate into the same root.
	opts.Root = filepath.Join(t.TempDir(), "case")
	a, err := GenerateCase(opts)
	if err != nil {
		t.Fatalf("GenerateCase() returned error: %v", err)
	}
	dataA, err := os.ReadFile(a[0])
	if err != nil {
		t.Fatalf("read first run: %v", err)
	}

	b, err := GenerateCase(opts)
	if err != nil {
		t.Fatalf("GenerateCase() returned error: %v", err)
	}
	dataB, err := os.ReadFile(b[0])
	if err != nil {
		t.Fatalf("read second run: %v", err)
	}

	if string(dataA) != string(dataB) {
		t.Error("same seed produced different bytes")
	}
}

func TestDeterministicUID(t *testing.T) {
	a := deterministicUID("seed")
	b := deterministicUID("seed")
	c := deterministicUID("other")
	if a != b {
		t.Errorf("same seed produced different UIDs: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different seeds produced the same UID")
	}
	if len(a) > 64 {
		t.Errorf("UID %q longer than 64 characters", a)
	}
}

func stringTag(t *testing.T, ds *dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	elem, err := ds.FindElementByTag(tg)
	if err != nil {
		t.Fatalf("tag %v not found: %v", tg, err)
	}
	vals, ok := elem.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		t.Fatalf("tag %v is not a string value", tg)
	}
	return vals[0]
}

func intTag(t *testing.T, ds *dicom.Dataset, tg tag.Tag) int {
	t.Helper()
	elem, err := ds.FindElementByTag(tg)
	if err != nil {
		t.Fatalf("tag %v not found: %v", tg, err)
	}
	vals, ok := elem.Value.GetValue().([]int)
	if !ok || len(vals) == 0 {
		t.Fatalf("tag %v is not an int value", tg)
	}
	return vals[0]
}
