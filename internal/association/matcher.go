// Package association matches literature variant annotations against the
// genotype/allele records of clinical annotations.
//
// Literature annotations describe alleles inconsistently: sometimes as whole
// genotypes, sometimes as single alleles joined with "+" (combined within one
// haplotype) or "/" (alternatives). Matching runs two passes so it succeeds
// whichever convention the curator used.
package association

import (
	"slices"
	"strings"

	"github.com/apriltuesday/opentargets-pharmgkb/internal/genotype"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/pgkb"
)

// Association links one genotype of a clinical annotation to its matched
// literature annotations, with each annotation field aggregated into a list
// preserving match order. A genotype with no matching literature evidence is
// still present, with empty lists.
type Association struct {
	AnnotationID         string
	GenotypeText         string
	VariantAnnotationIDs []string
	PMIDs                []string
	Sentences            []string
	Alleles              []string
	Directions           []string
	Effects              []string
	Objects              []string
	Comparisons          []string
}

// splitAnnotation is a variant annotation with its allele field pre-split on
// both delimiter conventions.
type splitAnnotation struct {
	ann    pgkb.VariantAnnotation
	split1 []string   // +-separated tokens
	split2 [][]string // each split1 token further split on /
}

// MatchAnnotation associates variant annotations with the genotypes of a
// single clinical annotation. Matching never crosses annotation boundaries.
//
// Pass (a) compares each genotype's raw text against the +-split tokens;
// pass (b) compares each parsed allele against the /-split tokens. Both
// comparisons are case-sensitive: the source data's casing is authoritative.
// Matches from both passes are combined and deduplicated per variant
// annotation; a genotype matching nothing yields a placeholder row.
func MatchAnnotation(annotationID string, genotypes []string, annotations []pgkb.VariantAnnotation) []Association {
	var split []splitAnnotation
	for _, ann := range annotations {
		if !ann.IsPositive() {
			continue
		}
		s1 := strings.Split(ann.Alleles, "+")
		s2 := make([][]string, len(s1))
		for i, token := range s1 {
			s2[i] = strings.Split(token, "/")
		}
		split = append(split, splitAnnotation{ann: ann, split1: s1, split2: s2})
	}

	var out []Association
	seenGenotype := make(map[string]bool)
	for _, text := range genotypes {
		if seenGenotype[text] {
			continue
		}
		seenGenotype[text] = true

		tokens := genotype.Parse(text, genotype.ModeMatching)
		assoc := Association{AnnotationID: annotationID, GenotypeText: text}
		for _, sa := range matchGenotype(text, tokens, split) {
			assoc.VariantAnnotationIDs = append(assoc.VariantAnnotationIDs, sa.ID)
			assoc.PMIDs = append(assoc.PMIDs, sa.PMID)
			assoc.Sentences = append(assoc.Sentences, sa.Sentence)
			assoc.Alleles = append(assoc.Alleles, sa.Alleles)
			assoc.Directions = append(assoc.Directions, sa.Direction)
			assoc.Effects = append(assoc.Effects, sa.Effect)
			assoc.Objects = append(assoc.Objects, sa.Object)
			assoc.Comparisons = append(assoc.Comparisons, sa.Comparison)
		}
		out = append(out, assoc)
	}
	return out
}

// matchGenotype runs both matching passes for one genotype and returns the
// matched annotations deduplicated by variant annotation ID. Pass (a)
// matches come first, then pass (b) matches per parsed allele, so repeated
// runs produce identical ordering.
func matchGenotype(text string, tokens []string, split []splitAnnotation) []pgkb.VariantAnnotation {
	var matched []pgkb.VariantAnnotation
	seen := make(map[string]bool)
	add := func(ann pgkb.VariantAnnotation) {
		if !seen[ann.ID] {
			seen[ann.ID] = true
			matched = append(matched, ann)
		}
	}

	// Pass (a): whole genotype text against +-split tokens.
	for _, sa := range split {
		if slices.Contains(sa.split1, text) {
			add(sa.ann)
		}
	}

	// Pass (b): each parsed allele against /-split tokens.
	for _, token := range tokens {
		for _, sa := range split {
			for _, s2 := range sa.split2 {
				if slices.Contains(s2, token) {
					add(sa.ann)
					break
				}
			}
		}
	}
	return matched
}

// MatchAll runs the matcher for every clinical annotation that has genotype
// records. links (from the clinical evidence table) tie clinical annotations
// to variant annotation IDs.
func MatchAll(alleles []pgkb.ClinicalAllele, links []pgkb.EvidenceLink, annotations []pgkb.VariantAnnotation) []Association {
	annByID := make(map[string]pgkb.VariantAnnotation, len(annotations))
	for _, ann := range annotations {
		annByID[ann.ID] = ann
	}

	linkedIDs := make(map[string][]string)
	for _, l := range links {
		linkedIDs[l.AnnotationID] = append(linkedIDs[l.AnnotationID], l.EvidenceID)
	}

	genotypesByCaid := make(map[string][]string)
	var caidOrder []string
	for _, a := range alleles {
		if _, seen := genotypesByCaid[a.AnnotationID]; !seen {
			caidOrder = append(caidOrder, a.AnnotationID)
		}
		genotypesByCaid[a.AnnotationID] = append(genotypesByCaid[a.AnnotationID], a.GenotypeAllele)
	}

	var out []Association
	for _, caid := range caidOrder {
		var linked []pgkb.VariantAnnotation
		for _, id := range linkedIDs[caid] {
			if ann, ok := annByID[id]; ok {
				linked = append(linked, ann)
			}
		}
		out = append(out, MatchAnnotation(caid, genotypesByCaid[caid], linked)...)
	}
	return out
}
