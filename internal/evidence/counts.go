package evidence

import "go.uber.org/zap"

// Counts aggregates record statistics across a pipeline run. Soft failures
// (unresolvable loci, unmapped ontology terms) surface only here.
type Counts struct {
	ClinicalAnnotations int
	WithRs              int
	ExplodedAlleles     int
	ExplodedDrugs       int
	ExplodedPhenotypes  int

	TotalRs                int
	RsWithAlleles          int
	RsWithMoreThan2Alleles int

	EvidenceStrings int
	WithChebi       int
	WithEFO         int
	WithConsequence int
	WithVEPGene     int

	AnnotWithPgkbGenes int
	AnnotWithVEPGenes  int
	PgkbVEPGeneDiff    int
}

// Report logs the final counts.
func (c *Counts) Report(logger *zap.Logger) {
	logger.Info("input counts",
		zap.Int("clinical_annotations", c.ClinicalAnnotations),
		zap.Int("with_rs", c.WithRs),
		zap.Int("exploded_alleles", c.ExplodedAlleles),
		zap.Int("exploded_drugs", c.ExplodedDrugs),
		zap.Int("exploded_phenotypes", c.ExplodedPhenotypes))
	logger.Info("variant site counts",
		zap.Int("total_rs", c.TotalRs),
		zap.Int("rs_with_alleles", c.RsWithAlleles),
		zap.Int("rs_with_more_than_2_alleles", c.RsWithMoreThan2Alleles))
	logger.Info("output counts",
		zap.Int("evidence_strings", c.EvidenceStrings),
		zap.Int("with_chebi", c.WithChebi),
		zap.Int("with_efo", c.WithEFO),
		zap.Int("with_consequence", c.WithConsequence),
		zap.Int("with_vep_gene", c.WithVEPGene))
	logger.Info("gene comparison counts",
		zap.Int("annot_with_pgkb_genes", c.AnnotWithPgkbGenes),
		zap.Int("annot_with_vep_genes", c.AnnotWithVEPGenes),
		zap.Int("pgkb_vep_gene_diff", c.PgkbVEPGeneDiff))
}
