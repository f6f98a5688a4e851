// Package templates loads the report template catalog and resolves a case's
// subfolder names to a single template entry.
package templates

import (
	"encoding/json"
	"fmt"
	"os"
)

// FewShot is an optional worked example attached to a catalog entry:
// a set of de-identified example images and the reference report written
// for them.
type FewShot struct {
	ImagePaths []string `json:"image_paths"`
	Report     string   `json:"report"`
}

// Entry is one report template. Keys are the composite-key aliases that
// resolve to this entry in the mapping table; Sections is the ordered list
// of report section names.
type Entry struct {
	Name     string   `json:"name"`
	Keys     []string `json:"keys"`
	Sections []string `json:"sections"`
	FewShot  *FewShot `json:"few_shot,omitempty"`
}

// Catalog is the loaded template catalog. It is read-only after load and
// safe to share between concurrent pipeline runs.
type Catalog struct {
	entries []Entry
	byKey   map[string]int // normalized key -> entry index, first declaration wins
	byName  map[string]int
}

// LoadCatalog reads a JSON catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a Catalog from raw JSON.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog has no entries")
	}

	c := &Catalog{
		entries: entries,
		byKey:   make(map[string]int),
		byName:  make(map[string]int),
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		if len(e.Sections) == 0 {
			return nil, fmt.Errorf("catalog entry %q has no sections", e.Name)
		}
		if _, dup := c.byName[e.Name]; !dup {
			c.byName[e.Name] = i
		}
		for _, k := range e.Keys {
			nk := normalizeKey(k)
			if _, dup := c.byKey[nk]; !dup {
				c.byKey[nk] = i
			}
		}
	}
	return c, nil
}

// Entries returns the catalog entries in declaration order.
func (c *Catalog) Entries() []Entry { return c.entries }

// ByName returns the entry with the given template name.
func (c *Catalog) ByName(name string) (*Entry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return &c.entries[i], true
}

func (c *Catalog) byKeyLookup(key string) (*Entry, bool) {
	i, ok := c.byKey[normalizeKey(key)]
	if !ok {
		return nil, false
	}
	return &c.entries[i], true
}
