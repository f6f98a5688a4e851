// Package casescan walks a patient case directory and groups its DICOM
// files into examination subfolders.
package casescan

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
)

// Case is the read-only result of scanning one case directory.
type Case struct {
	Root       string
	Subfolders []Subfolder
}

// Subfolder is one examination subfolder. Its name doubles as the
// classification key for template matching.
type Subfolder struct {
	Name  string
	Files []string // absolute paths, lexicographic order
}

// ScanError indicates the case root itself could not be read. Per-file
// problems never produce a ScanError.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ModalityToken extracts the modality portion of a subfolder name.
// Subfolder names carry a modality token, an optional machine token after
// " - " and an optional study-type token after "__", e.g.
// "Us_Breast_(Bilateral) - US23__USBREAST" -> "Us_Breast_(Bilateral)".
func ModalityToken(name string) string {
	t := name
	if i := strings.Index(t, "__"); i >= 0 {
		t = t[:i]
	}
	if i := strings.Index(t, " - "); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

// Scanner discovers examination subfolders and their valid DICOM files.
type Scanner struct {
	Logger *slog.Logger
}

// Scan walks root and returns its examination subfolders in lexicographic
// order. Files that fail DICOM header validation are excluded from the
// subfolder's file list; zero subfolders is a valid empty result. Scan fails
// only if root does not exist or is not readable.
func (s *Scanner) Scan(root string) (*Case, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	c := &Case{Root: root}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := Subfolder{Name: entry.Name()}
		dir := filepath.Join(root, entry.Name())

		files, err := os.ReadDir(dir)
		if err != nil {
			// Unreadable subfolder degrades to an empty one, the scan goes on.
			s.logger().Warn("skipping unreadable subfolder", "dir", dir, "error", err)
			c.Subfolders = append(c.Subfolders, sub)
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			path := filepath.Join(dir, f.Name())
			if !s.isDICOM(path) {
				continue
			}
			sub.Files = append(sub.Files, path)
		}
		c.Subfolders = append(c.Subfolders, sub)
	}

	s.logger().Info("case scanned", "root", root, "subfolders", len(c.Subfolders))
	return c, nil
}

// isDICOM validates the file header without decoding pixel data. Real
// exports frequently drop the .dcm extension, so validity is decided by
// parsing, not by extension alone.
func (s *Scanner) isDICOM(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" && ext != ".dcm" {
		return false
	}
	if _, err := dicom.ParseFile(path, nil, dicom.SkipPixelData()); err != nil {
		s.logger().Debug("excluding invalid DICOM file", "path", path, "error", err)
		return false
	}
	return true
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
