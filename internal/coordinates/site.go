package coordinates

import (
	"sort"
	"strconv"
	"strings"
)

// SequenceStore answers what base is at a 1-based position on a contig.
// Fasta implements it; tests substitute an in-memory store.
type SequenceStore interface {
	Base(contig string, pos int64) (byte, error)
}

// Site is the resolved reference frame for one rsID: its genomic position,
// the reference base at that position, and a mapping from every allele token
// observed across the rsID's genotypes to its normalized allele.
//
// The zero Site represents an unresolved locus; every genotype identifier
// derived from it is empty.
type Site struct {
	Chrom   string
	Pos     int64
	Ref     string
	Alleles map[string]string
}

// SiteFor resolves a knowledge-base locus descriptor ("chrom:pos") against
// the reference sequence, together with all genotypes observed for the rsID.
// Failures are soft: a malformed location or an unresolvable position returns
// the zero Site and false.
//
// Single-base allele tokens are assumed to be forward-strand alleles in the
// reference coordinate frame: a token equal to the reference base maps to the
// reference, any other maps to itself. Longer tokens (star alleles, named
// haplotypes) cannot be placed on the reference frame and are left unmapped.
func SiteFor(store SequenceStore, rsID, location string, genotypes [][]string) (Site, bool) {
	parts := strings.SplitN(location, ":", 2)
	if len(parts) != 2 {
		return Site{}, false
	}
	pos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Site{}, false
	}

	base, err := store.Base(parts[0], pos)
	if err != nil {
		return Site{}, false
	}
	ref := string(base)

	alleles := make(map[string]string)
	for _, g := range genotypes {
		for _, token := range g {
			if len(token) != 1 {
				continue
			}
			if token == ref {
				alleles[token] = ref
			} else {
				alleles[token] = token
			}
		}
	}

	return Site{
		Chrom:   NormalizeContig(parts[0]),
		Pos:     pos,
		Ref:     ref,
		Alleles: alleles,
	}, true
}

// GenotypeID formats the canonical identifier chrom_pos_ref_alt1,alt2 for a
// parsed genotype, with the mapped alleles sorted lexicographically so that
// identical allele sets always yield byte-identical identifiers. It returns
// "" when the site is unresolved or any allele token has no mapping.
func (s Site) GenotypeID(alleles []string) string {
	if s.Ref == "" || len(s.Alleles) == 0 {
		return ""
	}
	mapped := make([]string, 0, len(alleles))
	for _, a := range alleles {
		norm, ok := s.Alleles[a]
		if !ok {
			return ""
		}
		mapped = append(mapped, norm)
	}
	sort.Strings(mapped)
	return s.Chrom + "_" + strconv.FormatInt(s.Pos, 10) + "_" + s.Ref + "_" + strings.Join(mapped, ",")
}
