// Package report renders the model response into a plain-text draft report
// and saves it next to the case output.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrsinham/radscribe/internal/llm"
)

// Render produces the final plain-text draft: the template name as header,
// then every section the model produced, in template order. Sections absent
// from the response are skipped rather than emitted empty.
func Render(templateName string, resp *llm.Response) string {
	var b strings.Builder
	b.WriteString(templateName)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len(templateName)))
	b.WriteString("\n")

	for _, section := range resp.Order {
		body, ok := resp.Sections[section]
		if !ok {
			continue
		}
		b.WriteString("\n")
		b.WriteString(section)
		b.WriteString("\n")
		b.WriteString(StripMarkdownBold(body))
		b.WriteString("\n")
	}

	b.WriteString("\n---\nDRAFT REPORT - REQUIRES REVIEW BY A QUALIFIED RADIOLOGIST\n")
	return b.String()
}

// Save writes the rendered report as Report_<case>_<timestamp>.txt in dir
// and returns the written path.
func Save(dir, caseName, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("Report_%s_%s.txt", sanitize(caseName), time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// StripMarkdownBold removes '**' emphasis markers that models emit despite
// being told to produce plain text.
func StripMarkdownBold(s string) string {
	return strings.ReplaceAll(s, "**", "")
}

// sanitize keeps the case name filesystem-safe.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
