// Package strings provides label normalization helpers shared by the matcher,
// the abbreviation tables and the mapping session.
package strings

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fold returns the comparison form of a label: NFKC-normalized, lower-cased,
// trimmed, with internal whitespace runs collapsed to one space.
//
// Example:
//
//	Fold("  Uttar   PRADESH ")
//	// Returns: "uttar pradesh"
func Fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Words splits a folded label into its distinct words.
func Words(s string) map[string]struct{} {
	fields := strings.Fields(s)
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}

// Dedupe removes exact duplicates and blank values from a slice. Values are
// kept byte-for-byte because raw labels are used verbatim as store filters.
// Order is preserved.
//
// Example:
//
//	Dedupe([]string{"Delhi", "delhi", "Delhi", "  "})
//	// Returns: []string{"Delhi", "delhi"}
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}
