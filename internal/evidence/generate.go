package evidence

import (
	"fmt"
	"strings"

	"github.com/apriltuesday/opentargets-pharmgkb/internal/ontology"
)

// Row is one fully joined evidence row: a clinical annotation genotype with
// its resolved identifier, one overlapping gene/consequence pair, one drug
// and one phenotype.
type Row struct {
	AnnotationID      string
	VariantRsID       string
	GenotypeText      string
	AnnotationText    string
	LevelOfEvidence   string
	PhenotypeCategory string
	GenotypeID        string
	GeneID            string
	ConsequenceTerm   string
	Drug              string
	ChebiIRI          string
	Phenotype         string
	EFOIRI            string
	Publications      []string
}

// String is an Open Targets evidence string for one PharmGKB clinical
// annotation row. Empty fields are dropped from the JSON output.
type String struct {
	DatasourceID      string `json:"datasourceId"`
	DatasourceVersion string `json:"datasourceVersion"`

	DatatypeID    string   `json:"datatypeId"`
	StudyID       string   `json:"studyId"`
	EvidenceLevel string   `json:"evidenceLevel,omitempty"`
	Literature    []string `json:"literature,omitempty"`

	GenotypeID                     string `json:"genotypeId,omitempty"`
	VariantRsID                    string `json:"variantRsId,omitempty"`
	VariantFunctionalConsequenceID string `json:"variantFunctionalConsequenceId,omitempty"`
	TargetFromSourceID             string `json:"targetFromSourceId,omitempty"`

	Genotype               string `json:"genotype,omitempty"`
	GenotypeAnnotationText string `json:"genotypeAnnotationText,omitempty"`

	DrugFromSource        string `json:"drugFromSource,omitempty"`
	DrugID                string `json:"drugId,omitempty"`
	PgxCategory           string `json:"pgxCategory,omitempty"`
	PhenotypeText         string `json:"phenotypeText,omitempty"`
	PhenotypeFromSourceID string `json:"phenotypeFromSourceId,omitempty"`
}

// Generate builds the evidence string for one row.
func Generate(createdDate string, r Row) String {
	return String{
		DatasourceID:      "pharmgkb",
		DatasourceVersion: createdDate,

		DatatypeID:    "clinical_annotation",
		StudyID:       r.AnnotationID,
		EvidenceLevel: r.LevelOfEvidence,
		Literature:    r.Publications,

		GenotypeID:                     r.GenotypeID,
		VariantRsID:                    r.VariantRsID,
		VariantFunctionalConsequenceID: SOAccession(r.ConsequenceTerm),
		TargetFromSourceID:             r.GeneID,

		Genotype:               r.GenotypeText,
		GenotypeAnnotationText: r.AnnotationText,

		DrugFromSource:        r.Drug,
		DrugID:                ontology.IRIToCode(r.ChebiIRI),
		PgxCategory:           strings.ToLower(r.PhenotypeCategory),
		PhenotypeText:         r.Phenotype,
		PhenotypeFromSourceID: ontology.IRIToCode(r.EFOIRI),
	}
}

// Validate checks the fields every evidence string must carry. It stands in
// for the external JSON-schema validation, which is out of scope here.
func (s String) Validate() error {
	switch {
	case s.DatasourceID == "":
		return fmt.Errorf("evidence string missing datasourceId")
	case s.StudyID == "":
		return fmt.Errorf("evidence string missing studyId")
	case s.EvidenceLevel == "":
		return fmt.Errorf("evidence string %s missing evidenceLevel", s.StudyID)
	case len(s.Literature) == 0:
		return fmt.Errorf("evidence string %s missing literature", s.StudyID)
	case s.PgxCategory == "":
		return fmt.Errorf("evidence string %s missing pgxCategory", s.StudyID)
	case s.DrugFromSource == "" && s.PhenotypeText == "":
		return fmt.Errorf("evidence string %s has neither drug nor phenotype", s.StudyID)
	}
	return nil
}

// soAccessions maps VEP consequence terms to Sequence Ontology accessions.
var soAccessions = map[string]string{
	"transcript_ablation":                "SO_0001893",
	"splice_acceptor_variant":            "SO_0001574",
	"splice_donor_variant":               "SO_0001575",
	"stop_gained":                        "SO_0001587",
	"frameshift_variant":                 "SO_0001589",
	"stop_lost":                          "SO_0001578",
	"start_lost":                         "SO_0002012",
	"inframe_insertion":                  "SO_0001821",
	"inframe_deletion":                   "SO_0001822",
	"missense_variant":                   "SO_0001583",
	"protein_altering_variant":           "SO_0001818",
	"splice_region_variant":              "SO_0001630",
	"incomplete_terminal_codon_variant":  "SO_0001626",
	"start_retained_variant":             "SO_0002019",
	"stop_retained_variant":              "SO_0001567",
	"synonymous_variant":                 "SO_0001819",
	"coding_sequence_variant":            "SO_0001580",
	"mature_miRNA_variant":               "SO_0001620",
	"5_prime_UTR_variant":                "SO_0001623",
	"3_prime_UTR_variant":                "SO_0001624",
	"non_coding_transcript_exon_variant": "SO_0001792",
	"intron_variant":                     "SO_0001627",
	"NMD_transcript_variant":             "SO_0001621",
	"non_coding_transcript_variant":      "SO_0001619",
	"upstream_gene_variant":              "SO_0001631",
	"downstream_gene_variant":            "SO_0001632",
	"TF_binding_site_variant":            "SO_0001782",
	"regulatory_region_variant":          "SO_0001566",
	"intergenic_variant":                 "SO_0001628",
	"sequence_variant":                   "SO_0001060",
}

// SOAccession returns the Sequence Ontology accession for a consequence
// term, or "" for unknown terms.
func SOAccession(term string) string {
	return soAccessions[term]
}
