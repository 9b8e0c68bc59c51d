// Package evidence orchestrates the PharmGKB evidence generation pipeline
// and formats Open Targets evidence strings.
package evidence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/apriltuesday/opentargets-pharmgkb/internal/association"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/consequence"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/coordinates"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/ontology"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/pgkb"
)

// Input table file names expected under the data directory.
var requiredFiles = []string{
	"clinical_annotations.tsv",
	"clinical_ann_alleles.tsv",
	"clinical_ann_evidence.tsv",
	"variants.tsv",
	"drugs.tsv",
	"var_drug_ann.tsv",
	"var_pheno_ann.tsv",
}

// Pipeline wires the PharmGKB tables through coordinate resolution,
// consequence annotation, ontology mapping and association matching into
// evidence strings.
type Pipeline struct {
	sequences coordinates.SequenceStore
	predictor consequence.Predictor
	ontology  *ontology.Client
	store     *Store
	logger    *zap.Logger
	workers   int
}

// NewPipeline creates a pipeline over the given external services.
func NewPipeline(sequences coordinates.SequenceStore, predictor consequence.Predictor, ont *ontology.Client) *Pipeline {
	return &Pipeline{
		sequences: sequences,
		predictor: predictor,
		ontology:  ont,
		logger:    zap.NewNop(),
	}
}

// SetLogger sets the logger used across the run.
func (p *Pipeline) SetLogger(l *zap.Logger) {
	p.logger = l
}

// SetWorkers sets the worker count for external-service fan-out.
func (p *Pipeline) SetWorkers(n int) {
	p.workers = n
}

// SetStore attaches a DuckDB store that receives the run's intermediate
// tables. Optional.
func (p *Pipeline) SetStore(s *Store) {
	p.store = s
}

// RunConfig holds per-run inputs.
type RunConfig struct {
	DataDir     string
	OutputPath  string
	CreatedDate string
}

// Run executes the full pipeline and writes evidence strings as JSON lines
// to the output path. Unresolvable sites and ontology misses are recovered
// locally and only tracked in counts; a failed predictor batch aborts the
// run. If any generated evidence string is invalid, all valid output is
// still written and an error is returned afterwards.
func (p *Pipeline) Run(ctx context.Context, cfg RunConfig) error {
	paths := make(map[string]string, len(requiredFiles))
	for _, name := range requiredFiles {
		path := filepath.Join(cfg.DataDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("missing required data file: %s", path)
		}
		paths[name] = path
	}

	annotations, err := pgkb.LoadClinicalAnnotations(paths["clinical_annotations.tsv"])
	if err != nil {
		return err
	}
	clinicalAlleles, err := pgkb.LoadClinicalAlleles(paths["clinical_ann_alleles.tsv"])
	if err != nil {
		return err
	}
	links, err := pgkb.LoadEvidenceLinks(paths["clinical_ann_evidence.tsv"])
	if err != nil {
		return err
	}
	variants, err := pgkb.LoadVariants(paths["variants.tsv"])
	if err != nil {
		return err
	}
	drugs, err := pgkb.LoadDrugs(paths["drugs.tsv"])
	if err != nil {
		return err
	}
	variantAnnotations, err := pgkb.LoadVariantAnnotations(paths["var_drug_ann.tsv"], paths["var_pheno_ann.tsv"])
	if err != nil {
		return err
	}

	var counts Counts
	counts.ClinicalAnnotations = len(annotations)

	// Only rsID-bearing annotations can be placed on the reference genome.
	annByID := make(map[string]pgkb.ClinicalAnnotation, len(annotations))
	var rsAnnotations []pgkb.ClinicalAnnotation
	for _, ann := range annotations {
		if !ann.HasRsID() {
			continue
		}
		rsAnnotations = append(rsAnnotations, ann)
		annByID[ann.ID] = ann
	}
	counts.WithRs = len(rsAnnotations)

	locations := make(map[string]string, len(variants))
	for _, v := range variants {
		locations[v.Name] = v.Location
	}

	allelesByCaid := make(map[string][]pgkb.ClinicalAllele)
	for _, a := range clinicalAlleles {
		allelesByCaid[a.AnnotationID] = append(allelesByCaid[a.AnnotationID], a)
	}

	// Coordinate resolution branch.
	var records []coordinates.Record
	annotationText := make(map[string]map[string]string) // caid -> genotype -> text
	for _, ann := range rsAnnotations {
		for _, a := range allelesByCaid[ann.ID] {
			records = append(records, coordinates.Record{
				AnnotationID: ann.ID,
				RsID:         ann.VariantHaplotypes,
				Location:     locations[ann.VariantHaplotypes],
				GenotypeText: a.GenotypeAllele,
			})
			if annotationText[ann.ID] == nil {
				annotationText[ann.ID] = make(map[string]string)
			}
			annotationText[ann.ID][a.GenotypeAllele] = a.AnnotationText
		}
	}
	counts.ExplodedAlleles = len(records)

	resolver := coordinates.NewResolver(p.sequences)
	resolver.SetLogger(p.logger)
	resolved, siteCounts := resolver.Resolve(records)
	counts.TotalRs = siteCounts.TotalRs
	counts.RsWithAlleles = siteCounts.RsWithAlleles
	counts.RsWithMoreThan2Alleles = siteCounts.RsWithMoreThan2Alleles

	var genotypeIDs []string
	for _, r := range resolved {
		if r.GenotypeID != "" {
			genotypeIDs = append(genotypeIDs, r.GenotypeID)
		}
	}

	joiner := consequence.NewJoiner(p.predictor)
	joiner.SetWorkers(p.workers)
	joiner.SetLogger(p.logger)
	geneConsequences, err := joiner.Annotate(ctx, genotypeIDs)
	if err != nil {
		return fmt.Errorf("functional consequences: %w", err)
	}
	consequencesByID := make(map[string][]consequence.GeneConsequence)
	for _, gc := range geneConsequences {
		consequencesByID[gc.GenotypeID] = append(consequencesByID[gc.GenotypeID], gc)
	}

	// Association matching branch, independent of coordinates. The matched
	// table only materializes in the store, so skip the work without one.
	if p.store != nil {
		for _, a := range association.MatchAll(clinicalAlleles, links, variantAnnotations) {
			if err := p.store.InsertAssociation(a); err != nil {
				return err
			}
		}
	}

	// Ontology mapping for drug names and phenotype text.
	var drugTerms, phenotypeTerms []string
	for _, ann := range rsAnnotations {
		drugTerms = append(drugTerms, pgkb.SplitTerms(ann.Drugs)...)
		phenotypeTerms = append(phenotypeTerms, pgkb.SplitTerms(ann.Phenotypes)...)
	}
	chebiByDrug := p.ontology.MapTerms(ctx, drugTerms, p.workers, p.ontology.ChebiIRI)
	efoByPhenotype := p.ontology.MapTerms(ctx, phenotypeTerms, p.workers, p.ontology.EFOIRI)

	// OLS cannot map every drug unambiguously; fall back on the CHEBI
	// cross-references shipped with the drugs table.
	chebiFallback := make(map[string]string, len(drugs))
	for _, d := range drugs {
		if id := pgkb.ChebiID(d.CrossReferences); id != "" {
			chebiFallback[d.Name] = ontology.ChebiIDToIRI(id)
		}
	}

	counts.ExplodedDrugs, counts.ExplodedPhenotypes = explodedCounts(resolved, annByID)

	publications := make(map[string][]string)
	for _, l := range links {
		if l.PMID != "" {
			publications[l.AnnotationID] = append(publications[l.AnnotationID], l.PMID)
		}
	}

	out, err := os.Create(cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	invalid := false
	vepGenes := make(map[string]map[string]bool) // caid -> gene symbols from VEP
	for _, res := range resolved {
		ann := annByID[res.AnnotationID]
		pubs := publications[res.AnnotationID]
		if len(pubs) == 0 {
			continue // evidence must be PMID-backed
		}

		annDrugs := orEmptyTerm(pgkb.SplitTerms(ann.Drugs))
		annPhenotypes := orEmptyTerm(pgkb.SplitTerms(ann.Phenotypes))

		rowConsequences := consequencesByID[res.GenotypeID]
		if len(rowConsequences) == 0 {
			rowConsequences = []consequence.GeneConsequence{{}}
		}

		for _, gc := range rowConsequences {
			if gc.GeneSymbol != "" {
				if vepGenes[res.AnnotationID] == nil {
					vepGenes[res.AnnotationID] = make(map[string]bool)
				}
				vepGenes[res.AnnotationID][gc.GeneSymbol] = true
			}
			for _, drug := range annDrugs {
				chebi := chebiByDrug[drug]
				if chebi == "" {
					chebi = chebiFallback[drug]
				}
				for _, phenotype := range annPhenotypes {
					row := Row{
						AnnotationID:      res.AnnotationID,
						VariantRsID:       res.RsID,
						GenotypeText:      res.GenotypeText,
						AnnotationText:    annotationText[res.AnnotationID][res.GenotypeText],
						LevelOfEvidence:   ann.LevelOfEvidence,
						PhenotypeCategory: ann.PhenotypeCategory,
						GenotypeID:        res.GenotypeID,
						GeneID:            gc.GeneID,
						ConsequenceTerm:   gc.Term,
						Drug:              drug,
						ChebiIRI:          chebi,
						Phenotype:         phenotype,
						EFOIRI:            efoByPhenotype[phenotype],
						Publications:      pubs,
					}
					counts.EvidenceStrings++
					if row.ChebiIRI != "" {
						counts.WithChebi++
					}
					if row.EFOIRI != "" {
						counts.WithEFO++
					}
					if row.ConsequenceTerm != "" {
						counts.WithConsequence++
					}
					if row.GeneID != "" {
						counts.WithVEPGene++
					}

					ev := Generate(cfg.CreatedDate, row)
					if err := ev.Validate(); err != nil {
						p.logger.Error("invalid evidence string", zap.Error(err))
						invalid = true
						continue
					}
					line, err := json.Marshal(ev)
					if err != nil {
						return fmt.Errorf("encode evidence string: %w", err)
					}
					if _, err := w.Write(append(line, '\n')); err != nil {
						return fmt.Errorf("write evidence string: %w", err)
					}
					if p.store != nil {
						if err := p.store.InsertEvidence(row); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	p.compareGenes(rsAnnotations, vepGenes, &counts)
	counts.Report(p.logger)

	// Report the error only after all valid evidence and counts are out.
	if invalid {
		return fmt.Errorf("invalid evidence strings were generated")
	}
	return nil
}

// compareGenes counts agreement between the genes PharmGKB curates per
// annotation and the genes VEP reports as overlapping, and dumps
// disagreements to the store.
func (p *Pipeline) compareGenes(annotations []pgkb.ClinicalAnnotation, vepGenes map[string]map[string]bool, counts *Counts) {
	for _, ann := range annotations {
		pgkbGenes := pgkb.SplitTerms(ann.Gene)
		sort.Strings(pgkbGenes)
		var fromVEP []string
		for g := range vepGenes[ann.ID] {
			fromVEP = append(fromVEP, g)
		}
		sort.Strings(fromVEP)

		if len(pgkbGenes) > 0 {
			counts.AnnotWithPgkbGenes++
		}
		if len(fromVEP) > 0 {
			counts.AnnotWithVEPGenes++
		}
		if equalStrings(pgkbGenes, fromVEP) {
			continue
		}
		counts.PgkbVEPGeneDiff++
		if p.store != nil {
			if err := p.store.InsertGeneComparison(ann.ID, pgkbGenes, fromVEP); err != nil {
				p.logger.Warn("could not store gene comparison",
					zap.String("annotation_id", ann.ID),
					zap.Error(err))
			}
		}
	}
}

// explodedCounts sizes the drug and phenotype cross-products at explode
// time, before any downstream filtering.
func explodedCounts(resolved []coordinates.Resolved, anns map[string]pgkb.ClinicalAnnotation) (drugs, phenotypes int) {
	for _, res := range resolved {
		ann := anns[res.AnnotationID]
		nd := len(orEmptyTerm(pgkb.SplitTerms(ann.Drugs)))
		np := len(orEmptyTerm(pgkb.SplitTerms(ann.Phenotypes)))
		drugs += nd
		phenotypes += nd * np
	}
	return drugs, phenotypes
}

// orEmptyTerm keeps a single empty term so annotations without drugs or
// phenotypes still produce rows.
func orEmptyTerm(terms []string) []string {
	if len(terms) == 0 {
		return []string{""}
	}
	return terms
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
