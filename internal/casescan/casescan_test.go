package casescan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/radscribe/internal/forge"
)

func TestModalityToken(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Us_Breast_(Bilateral) - US23__USBREAST", "Us_Breast_(Bilateral)"},
		{"Us_Breast_(Bilateral) - US23", "Us_Breast_(Bilateral)"},
		{"Us_Abdomen__USABD", "Us_Abdomen"},
		{"Us_Abdomen", "Us_Abdomen"},
		{"", ""},
		{" - US23", ""},
	}

	for _, tc := range tests {
		if got := ModalityToken(tc.name); got != tc.want {
			t.Errorf("ModalityToken(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	_, err := forge.GenerateCase(forge.CaseOptions{
		Root: root,
		Subfolders: []forge.SubfolderSpec{
			{Name: "Us_Breast_(Bilateral) - US23", Images: 3},
			{Name: "Mg_Breast_(Bilateral) - MG02", Images: 2},
		},
		Width:  64,
		Height: 64,
		Seed:   42,
	})
	if err != nil {
		t.Fatalf("GenerateCase() returned error: %v", err)
	}

	// Non-DICOM noise that must be excluded.
	junkDir := filepath.Join(root, "Us_Breast_(Bilateral) - US23")
	if err := os.WriteFile(filepath.Join(junkDir, "notes.txt"), []byte("not dicom"), 0o644); err != nil {
		t.Fatalf("write junk file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(junkDir, "IMG9999.dcm"), []byte("truncated"), 0o644); err != nil {
		t.Fatalf("write truncated file: %v", err)
	}
	// A loose file at the root is not a subfolder.
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write root file: %v", err)
	}

	s := &Scanner{}
	c, err := s.Scan(root)
	if err != nil {
		t.Fatalf("Scan() returned error: %v", err)
	}

	if len(c.Subfolders) != 2 {
		t.Fatalf("Scan() found %d subfolders, want 2", len(c.Subfolders))
	}

	// Lexicographic subfolder order.
	if c.Subfolders[0].Name != "Mg_Breast_(Bilateral) - MG02" {
		t.Errorf("first subfolder = %q, want Mg_Breast_(Bilateral) - MG02", c.Subfolders[0].Name)
	}
	if c.Subfolders[1].Name != "Us_Breast_(Bilateral) - US23" {
		t.Errorf("second subfolder = %q, want Us_Breast_(Bilateral) - US23", c.Subfolders[1].Name)
	}

	if got := len(c.Subfolders[0].Files); got != 2 {
		t.Errorf("mammogram subfolder has %d files, want 2", got)
	}
	// Junk and truncated files excluded.
	if got := len(c.Subfolders[1].Files); got != 3 {
		t.Errorf("ultrasound subfolder has %d files, want 3", got)
	}

	// Files ordered lexicographically within a subfolder.
	files := c.Subfolders[1].Files
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Errorf("files out of order: %q before %q", files[i-1], files[i])
		}
	}
}

func TestScan_EmptyRoot(t *testing.T) {
	s := &Scanner{}
	c, err := s.Scan(t.TempDir())
	if err != nil {
		t.Fatalf("Scan() on empty root returned error: %v", err)
	}
	if len(c.Subfolders) != 0 {
		t.Errorf("Scan() on empty root found %d subfolders, want 0", len(c.Subfolders))
	}
}

func TestScan_MissingRoot(t *testing.T) {
	s := &Scanner{}
	_, err := s.Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("Scan() on missing root did not fail")
	}
	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		t.Errorf("error type = %T, want *ScanError", err)
	}
}

func TestScan_RootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	s := &Scanner{}
	if _, err := s.Scan(path); err == nil {
		t.Fatal("Scan() on a plain file did not fail")
	}
}
