package coordinates

import (
	"go.uber.org/zap"

	"github.com/apriltuesday/opentargets-pharmgkb/internal/genotype"
)

// Record is one observed genotype for one clinical annotation.
type Record struct {
	AnnotationID string
	RsID         string
	Location     string // knowledge-base locus descriptor, "chrom:pos"
	GenotypeText string
}

// Resolved is a Record with its parsed alleles and canonical genotype
// identifier. GenotypeID is empty when the site or any allele could not be
// resolved.
type Resolved struct {
	Record
	Alleles    []string
	GenotypeID string
}

// SiteCounts aggregates per-rsID resolution statistics.
type SiteCounts struct {
	TotalRs                int
	RsWithAlleles          int
	RsWithMoreThan2Alleles int
}

// Resolver assigns canonical genotype identifiers to genotype records.
type Resolver struct {
	store  SequenceStore
	logger *zap.Logger
}

// NewResolver creates a resolver backed by the given sequence store.
func NewResolver(store SequenceStore) *Resolver {
	return &Resolver{store: store, logger: zap.NewNop()}
}

// SetLogger sets the logger for site resolution diagnostics.
func (r *Resolver) SetLogger(l *zap.Logger) {
	r.logger = l
}

// Resolve runs the two-phase resolution over all records: phase one builds a
// per-rsID site index from every genotype observed at that rsID, phase two
// maps each record's alleles through its site. Unresolvable sites yield empty
// identifiers and are tracked in the returned counts, never raised as errors.
func (r *Resolver) Resolve(records []Record) ([]Resolved, SiteCounts) {
	resolved := make([]Resolved, len(records))

	// Phase 1: aggregate observed genotypes per rsID.
	byRs := make(map[string][][]string)
	locations := make(map[string]string)
	var rsOrder []string
	for i, rec := range records {
		alleles := genotype.Parse(rec.GenotypeText, genotype.ModeCoordinates)
		resolved[i] = Resolved{Record: rec, Alleles: alleles}
		if _, seen := byRs[rec.RsID]; !seen {
			rsOrder = append(rsOrder, rec.RsID)
			locations[rec.RsID] = rec.Location
		}
		byRs[rec.RsID] = append(byRs[rec.RsID], alleles)
	}

	var counts SiteCounts
	sites := make(map[string]Site, len(rsOrder))
	for _, rs := range rsOrder {
		counts.TotalRs++
		site, ok := SiteFor(r.store, rs, locations[rs], byRs[rs])
		if !ok {
			r.logger.Debug("unresolved variant site",
				zap.String("rsid", rs),
				zap.String("location", locations[rs]))
			continue
		}
		sites[rs] = site
		if len(site.Alleles) == 0 {
			continue
		}
		counts.RsWithAlleles++
		if len(site.Alleles) > 2 {
			counts.RsWithMoreThan2Alleles++
		}
	}

	// Phase 2: resolve each record through its site.
	for i := range resolved {
		resolved[i].GenotypeID = sites[resolved[i].RsID].GenotypeID(resolved[i].Alleles)
	}
	return resolved, counts
}
