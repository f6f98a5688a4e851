package llm

import (
	"strings"
)

// ParseSections splits raw model output into the template's sections.
// A line is a section heading when it equals one of the expected section
// names (case-insensitive, optional trailing colon); everything between a
// heading and the next one is that section's body. A heading line may also
// carry inline body text after the colon. Text before the first heading is
// discarded, and headings the model invented are treated as body text since
// they are not in the expected list.
func ParseSections(raw string, sections []string) *Response {
	lookup := make(map[string]string, len(sections))
	for _, s := range sections {
		lookup[strings.ToLower(strings.TrimSpace(s))] = s
	}

	found := make(map[string][]string)
	var current string
	for _, line := range strings.Split(raw, "\n") {
		if name, inline, ok := matchHeading(line, lookup); ok {
			current = name
			if _, seen := found[current]; !seen {
				found[current] = nil
			}
			if inline != "" {
				found[current] = append(found[current], inline)
			}
			continue
		}
		if current != "" {
			found[current] = append(found[current], line)
		}
	}

	resp := &Response{Sections: make(map[string]string), Raw: raw}
	for _, s := range sections {
		lines, ok := found[s]
		if !ok {
			continue
		}
		body := strings.TrimSpace(strings.Join(lines, "\n"))
		resp.Sections[s] = body
		resp.Order = append(resp.Order, s)
	}
	return resp
}

// matchHeading reports whether the line is one of the expected section
// headings, returning the canonical name and any inline body text.
func matchHeading(line string, lookup map[string]string) (name, inline string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", false
	}

	// Bare heading, optionally ending with a colon.
	candidate := strings.ToLower(strings.TrimSuffix(trimmed, ":"))
	if canonical, found := lookup[candidate]; found {
		return canonical, "", true
	}

	// "SECTION: inline text" form.
	if i := strings.Index(trimmed, ":"); i > 0 {
		head := strings.ToLower(strings.TrimSpace(trimmed[:i]))
		if canonical, found := lookup[head]; found {
			return canonical, strings.TrimSpace(trimmed[i+1:]), true
		}
	}
	return "", "", false
}
