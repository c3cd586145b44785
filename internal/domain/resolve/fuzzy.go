package resolve

import (
	"strings"

	"specforge/internal/domain/lookup"
)

// Tokens splits a label by every concat separator and then by whitespace.
// Empty tokens are dropped.
func Tokens(s string, separators []string) []string {
	parts := []string{s}
	for _, sep := range separators {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}
	var out []string
	for _, p := range parts {
		out = append(out, strings.Fields(p)...)
	}
	return out
}

// IsSubsequence reports whether needle appears in haystack in order, not
// necessarily contiguously.
func IsSubsequence(needle, haystack []string) bool {
	if len(needle) == 0 {
		return false
	}
	i := 0
	for _, h := range haystack {
		if h == needle[i] {
			i++
			if i == len(needle) {
				return true
			}
		}
	}
	return false
}

// Match returns the candidates whose token list contains the input's
// tokens as a subsequence. Callers accept a match only when exactly one
// candidate qualifies.
func Match(input string, candidates []lookup.Candidate, separators []string) []lookup.Candidate {
	needle := Tokens(input, separators)
	if len(needle) == 0 {
		return nil
	}
	var hits []lookup.Candidate
	for _, c := range candidates {
		if IsSubsequence(needle, Tokens(c.Label, separators)) {
			hits = append(hits, c)
		}
	}
	return hits
}
