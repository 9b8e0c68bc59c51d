// Package genotype parses PharmGKB genotype and allele notation.
package genotype

import (
	"regexp"
	"strings"
)

// Mode selects the parsing context. The grammar is identical in both modes;
// the two names exist so that the coordinate-resolution and annotation-matching
// call sites share one implementation and cannot drift apart.
type Mode int

const (
	// ModeCoordinates is used when resolving genomic coordinates for a genotype.
	ModeCoordinates Mode = iota
	// ModeMatching is used when matching literature annotation alleles.
	ModeMatching
)

// Diplotypes are written as two /-separated tokens, e.g. "*1/*2" or "CA/del".
// Only the first pair is taken; the match is anchored at the start.
var reDiplotype = regexp.MustCompile(`(?i)^([^/]+)/([^/]+)`)

// Parse splits a genotype/allele string into its allele tokens.
//
// Two-character strings without a star allele are SNP diplotype shorthand
// ("AG" -> A, G). Everything else is split on the first "/" if present.
// Unparseable input is returned whole as a single token; Parse never fails
// and always returns at least one token.
func Parse(s string, _ Mode) []string {
	if len(s) == 2 && !strings.ContainsRune(s, '*') {
		return []string{s[:1], s[1:]}
	}
	if m := reDiplotype.FindStringSubmatch(s); m != nil {
		return []string{m[1], m[2]}
	}
	return []string{s}
}
