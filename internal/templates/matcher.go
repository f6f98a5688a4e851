package templates

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mrsinham/radscribe/internal/casescan"
)

// Method records how a match was resolved.
type Method string

const (
	MethodExact   Method = "exact"
	MethodFuzzy   Method = "fuzzy"
	MethodDefault Method = "default-fallback"
)

// Match is the resolved template plus how it was found.
type Match struct {
	Entry  *Entry
	Method Method
	Score  float64 // [0,1], 1 for exact, 0 for default-fallback
	Key    string  // composite key that was looked up
}

// KeySeparator joins sorted modality tokens into a composite key for
// multi-modality combined studies.
const KeySeparator = "+"

// Matcher resolves subfolder names against the catalog. Lookup order is
// exact-composite, exact-single, fuzzy, default; exact matches always win
// over fuzzy ones regardless of fuzzy score.
type Matcher struct {
	Catalog      *Catalog
	Threshold    float64
	TieBreakLast bool // false: first declared entry wins ties
	defaultEntry *Entry
	Logger       *slog.Logger
}

// NewMatcher builds a Matcher and verifies the catalog honors the default
// template contract.
func NewMatcher(catalog *Catalog, threshold float64, tieBreak, defaultTemplate string, logger *slog.Logger) (*Matcher, error) {
	def, ok := catalog.ByName(defaultTemplate)
	if !ok {
		return nil, fmt.Errorf("default template %q not in catalog", defaultTemplate)
	}
	return &Matcher{
		Catalog:      catalog,
		Threshold:    threshold,
		TieBreakLast: tieBreak == "last",
		defaultEntry: def,
		Logger:       logger,
	}, nil
}

// CompositeKey canonicalizes the subfolder names of a case: one modality
// token per subfolder, sorted, joined with KeySeparator.
func CompositeKey(names []string) string {
	tokens := make([]string, 0, len(names))
	for _, name := range names {
		if t := casescan.ModalityToken(name); t != "" {
			tokens = append(tokens, t)
		}
	}
	sort.Strings(tokens)
	return strings.Join(tokens, KeySeparator)
}

// Match resolves the subfolder names of a case to exactly one template.
// It never fails: an unmatched case falls back to the default template
// with method default-fallback and score 0.
func (m *Matcher) Match(names []string) Match {
	key := CompositeKey(names)

	// 1. Exact composite key.
	if entry, ok := m.Catalog.byKeyLookup(key); ok && key != "" {
		return Match{Entry: entry, Method: MethodExact, Score: 1, Key: key}
	}

	// 2. Exact match of individual token variants, single-subfolder cases
	// only. Variants cover exports that keep the machine or study-type
	// suffix in the mapping table.
	if len(names) == 1 {
		for _, variant := range tokenVariants(names[0]) {
			if entry, ok := m.Catalog.byKeyLookup(variant); ok {
				return Match{Entry: entry, Method: MethodExact, Score: 1, Key: key}
			}
		}
	}

	// 3. Fuzzy match over every catalog key, declaration order.
	if best, score := m.fuzzy(key); best != nil && score >= m.Threshold {
		m.logger().Info("fuzzy template match", "key", key, "template", best.Name, "score", score)
		return Match{Entry: best, Method: MethodFuzzy, Score: score, Key: key}
	}

	// 4. Default fallback. Never an error: the case proceeds with a
	// generic template.
	m.logger().Warn("no template match, using default", "key", key, "template", m.defaultEntry.Name)
	return Match{Entry: m.defaultEntry, Method: MethodDefault, Score: 0, Key: key}
}

// fuzzy scores every catalog key against the composite key and returns
// the best entry. Ties resolve to the first declared entry unless
// configured otherwise.
func (m *Matcher) fuzzy(key string) (*Entry, float64) {
	if key == "" {
		return nil, 0
	}
	var best *Entry
	bestScore := 0.0
	entries := m.Catalog.Entries()
	for i := range entries {
		for _, k := range entries[i].Keys {
			score := Similarity(key, k)
			better := score > bestScore
			if m.TieBreakLast {
				better = score >= bestScore && score > 0
			}
			if better {
				bestScore = score
				best = &entries[i]
			}
		}
	}
	return best, bestScore
}

// tokenVariants lists lookup candidates for a single subfolder name, most
// specific first.
func tokenVariants(name string) []string {
	variants := []string{name}
	if i := strings.Index(name, "__"); i >= 0 {
		variants = append(variants, name[:i])
	}
	variants = append(variants, casescan.ModalityToken(name))
	return variants
}

// Similarity returns a normalized Levenshtein similarity in [0,1].
// Comparison is case-insensitive; identical strings score 1.
func Similarity(a, b string) float64 {
	a = normalizeKey(a)
	b = normalizeKey(b)
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(longest)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// levenshteinDistance calculates the minimum number of single-character
// edits (insertions, deletions, or substitutions) required to change one
// string into the other.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}

func (m *Matcher) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
