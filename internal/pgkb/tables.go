// Package pgkb loads PharmGKB TSV tables into typed records.
package pgkb

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// PharmGKB column names. These are the external contract with the source
// data files and are used verbatim as join keys; do not rename.
const (
	ColAnnotationID        = "Clinical Annotation ID"
	ColVariantHaplotypes   = "Variant/Haplotypes"
	ColGene                = "Gene"
	ColLevelOfEvidence     = "Level of Evidence"
	ColPhenotypeCategory   = "Phenotype Category"
	ColDrugs               = "Drug(s)"
	ColPhenotypes          = "Phenotype(s)"
	ColGenotypeAllele      = "Genotype/Allele"
	ColAnnotationText      = "Annotation Text"
	ColVariantName         = "Variant Name"
	ColLocation            = "Location"
	ColEvidenceID          = "Evidence ID"
	ColPMID                = "PMID"
	ColName                = "Name"
	ColCrossReferences     = "Cross-references"
	ColVariantAnnotationID = "Variant Annotation ID"
	ColSentence            = "Sentence"
	ColAlleles             = "Alleles"
	ColIsAssociated        = "Is/Is Not associated"
	ColDirectionOfEffect   = "Direction of effect"
	ColPDPKTerms           = "PD/PK terms"
	ColSideEffect          = "Side effect/efficacy/other"
	ColPhenotype           = "Phenotype"
	ColComparisonAlleles   = "Comparison Allele(s) or Genotype(s)"
)

// table is a loaded TSV with header-name column access.
type table struct {
	cols map[string]int
	rows [][]string
}

// readTable loads a TSV file and verifies the required columns are present.
// Short rows are padded so column access never goes out of bounds.
func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	header := strings.Split(scanner.Text(), "\t")
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", path, name)
		}
	}

	t := &table{cols: cols}
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		for len(fields) < len(header) {
			fields = append(fields, "")
		}
		t.rows = append(t.rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	return t, nil
}

func (t *table) get(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ClinicalAnnotation is one curated drug-response assertion.
type ClinicalAnnotation struct {
	ID                string
	VariantHaplotypes string
	Gene              string
	LevelOfEvidence   string
	PhenotypeCategory string
	Drugs             string
	Phenotypes        string
}

// HasRsID reports whether the annotation's variant field names an rsID
// (multi-locus haplotype annotations without rsIDs are out of scope).
func (a ClinicalAnnotation) HasRsID() bool {
	return strings.Contains(a.VariantHaplotypes, "rs")
}

// LoadClinicalAnnotations reads clinical_annotations.tsv.
func LoadClinicalAnnotations(path string) ([]ClinicalAnnotation, error) {
	t, err := readTable(path, ColAnnotationID, ColVariantHaplotypes, ColLevelOfEvidence, ColPhenotypeCategory)
	if err != nil {
		return nil, err
	}
	out := make([]ClinicalAnnotation, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, ClinicalAnnotation{
			ID:                t.get(row, ColAnnotationID),
			VariantHaplotypes: t.get(row, ColVariantHaplotypes),
			Gene:              t.get(row, ColGene),
			LevelOfEvidence:   t.get(row, ColLevelOfEvidence),
			PhenotypeCategory: t.get(row, ColPhenotypeCategory),
			Drugs:             t.get(row, ColDrugs),
			Phenotypes:        t.get(row, ColPhenotypes),
		})
	}
	return out, nil
}

// ClinicalAllele is one observed genotype for one clinical annotation.
type ClinicalAllele struct {
	AnnotationID   string
	GenotypeAllele string
	AnnotationText string
}

// LoadClinicalAlleles reads clinical_ann_alleles.tsv.
func LoadClinicalAlleles(path string) ([]ClinicalAllele, error) {
	t, err := readTable(path, ColAnnotationID, ColGenotypeAllele)
	if err != nil {
		return nil, err
	}
	out := make([]ClinicalAllele, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, ClinicalAllele{
			AnnotationID:   t.get(row, ColAnnotationID),
			GenotypeAllele: t.get(row, ColGenotypeAllele),
			AnnotationText: t.get(row, ColAnnotationText),
		})
	}
	return out, nil
}

// EvidenceLink ties a clinical annotation to one supporting evidence item,
// optionally with a PMID.
type EvidenceLink struct {
	AnnotationID string
	EvidenceID   string
	PMID         string
}

// LoadEvidenceLinks reads clinical_ann_evidence.tsv.
func LoadEvidenceLinks(path string) ([]EvidenceLink, error) {
	t, err := readTable(path, ColAnnotationID, ColEvidenceID)
	if err != nil {
		return nil, err
	}
	out := make([]EvidenceLink, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, EvidenceLink{
			AnnotationID: t.get(row, ColAnnotationID),
			EvidenceID:   t.get(row, ColEvidenceID),
			PMID:         t.get(row, ColPMID),
		})
	}
	return out, nil
}

// Variant is one variant reference record mapping an rsID to its locus.
type Variant struct {
	Name     string
	Location string
}

// LoadVariants reads variants.tsv.
func LoadVariants(path string) ([]Variant, error) {
	t, err := readTable(path, ColVariantName, ColLocation)
	if err != nil {
		return nil, err
	}
	out := make([]Variant, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, Variant{
			Name:     t.get(row, ColVariantName),
			Location: t.get(row, ColLocation),
		})
	}
	return out, nil
}

// Drug is one drugs-table record.
type Drug struct {
	Name            string
	CrossReferences string
}

// LoadDrugs reads drugs.tsv.
func LoadDrugs(path string) ([]Drug, error) {
	t, err := readTable(path, ColName)
	if err != nil {
		return nil, err
	}
	out := make([]Drug, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, Drug{
			Name:            t.get(row, ColName),
			CrossReferences: t.get(row, ColCrossReferences),
		})
	}
	return out, nil
}

// VariantAnnotation is one PMID-linked literature statement about alleles.
// Drug and phenotype annotation tables are merged into this shape: the
// drug table's "PD/PK terms"/"Drug(s)" and the phenotype table's
// "Side effect/efficacy/other"/"Phenotype" become Effect/Object.
type VariantAnnotation struct {
	ID          string
	PMID        string
	Sentence    string
	Alleles     string
	Association string
	Direction   string
	Effect      string
	Object      string
	Comparison  string
}

// IsPositive reports whether the annotation asserts a positive association.
func (a VariantAnnotation) IsPositive() bool {
	return strings.EqualFold(a.Association, "associated with")
}

// LoadVariantAnnotations reads and merges var_drug_ann.tsv and
// var_pheno_ann.tsv into the unified literature record.
func LoadVariantAnnotations(drugPath, phenoPath string) ([]VariantAnnotation, error) {
	common := []string{ColVariantAnnotationID, ColPMID, ColAlleles, ColIsAssociated}

	drugs, err := readTable(drugPath, append(common, ColPDPKTerms, ColDrugs)...)
	if err != nil {
		return nil, err
	}
	phenos, err := readTable(phenoPath, append(common, ColSideEffect, ColPhenotype)...)
	if err != nil {
		return nil, err
	}

	var out []VariantAnnotation
	for _, row := range drugs.rows {
		out = append(out, VariantAnnotation{
			ID:          drugs.get(row, ColVariantAnnotationID),
			PMID:        drugs.get(row, ColPMID),
			Sentence:    drugs.get(row, ColSentence),
			Alleles:     drugs.get(row, ColAlleles),
			Association: drugs.get(row, ColIsAssociated),
			Direction:   drugs.get(row, ColDirectionOfEffect),
			Effect:      drugs.get(row, ColPDPKTerms),
			Object:      drugs.get(row, ColDrugs),
			Comparison:  drugs.get(row, ColComparisonAlleles),
		})
	}
	for _, row := range phenos.rows {
		out = append(out, VariantAnnotation{
			ID:          phenos.get(row, ColVariantAnnotationID),
			PMID:        phenos.get(row, ColPMID),
			Sentence:    phenos.get(row, ColSentence),
			Alleles:     phenos.get(row, ColAlleles),
			Association: phenos.get(row, ColIsAssociated),
			Direction:   phenos.get(row, ColDirectionOfEffect),
			Effect:      phenos.get(row, ColSideEffect),
			Object:      stripPhenotypeType(phenos.get(row, ColPhenotype)),
			Comparison:  phenos.get(row, ColComparisonAlleles),
		})
	}
	return out, nil
}

// stripPhenotypeType removes the leading type tag from phenotype values,
// keeping only the second colon-separated segment ("Disease:Depression" ->
// "Depression", "Side Effect:Nausea:Severe" -> "Nausea").
func stripPhenotypeType(p string) string {
	if parts := strings.Split(p, ":"); len(parts) > 1 {
		return parts[1]
	}
	return p
}

// SplitTerms splits a multi-valued PharmGKB field such as
// "tamoxifen; fluorouracil" into trimmed terms.
func SplitTerms(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if term := strings.TrimSpace(part); term != "" {
			out = append(out, term)
		}
	}
	return out
}

var reChebi = regexp.MustCompile(`CHEBI:(\d+)`)

// ChebiID extracts a CHEBI accession from a drugs-table cross-reference
// field, or "" when absent.
func ChebiID(crossReferences string) string {
	if m := reChebi.FindStringSubmatch(crossReferences); m != nil {
		return m[1]
	}
	return ""
}
