// Package consequence joins canonical genotype identifiers to functional
// consequence predictions from an external variant effect predictor.
package consequence

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchSize is the maximum number of substitutions per predictor call.
const BatchSize = 200

// Substitution is a single reference to alternate base change.
type Substitution struct {
	Chrom string
	Pos   int64
	Ref   string
	Alt   string
}

// Line renders the substitution in VEP's whitespace-delimited region format,
// e.g. "1 100 . A G".
func (s Substitution) Line() string {
	return fmt.Sprintf("%s %d . %s %s", s.Chrom, s.Pos, s.Ref, s.Alt)
}

// Consequence is one predictor result: the most severe consequence term for
// one gene overlapping a substitution.
type Consequence struct {
	Substitution Substitution
	GeneID       string
	GeneSymbol   string
	Term         string
}

// Predictor is the external variant effect predictor contract. Batches are
// all-or-nothing: a failed call returns an error and no partial results.
type Predictor interface {
	Predict(ctx context.Context, batch []Substitution) ([]Consequence, error)
}

// GeneConsequence attaches an overlapping gene and consequence term to a
// canonical genotype identifier.
type GeneConsequence struct {
	GenotypeID string
	GeneID     string
	GeneSymbol string
	Term       string
}

// SubstitutionsFor decomposes a canonical genotype identifier
// (chrom_pos_ref_alt1,alt2) into single-substitution queries. Alternate
// alleles equal to the reference are non-variant and skipped, so a
// heterozygous reference call yields a single query.
func SubstitutionsFor(genotypeID string) ([]Substitution, error) {
	fields := strings.Split(genotypeID, "_")
	if len(fields) != 4 {
		return nil, fmt.Errorf("invalid genotype identifier %q: expected 4 underscore-separated fields", genotypeID)
	}
	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid position in genotype identifier %q: %w", genotypeID, err)
	}

	var subs []Substitution
	for _, alt := range strings.Split(fields[3], ",") {
		if alt == fields[2] {
			continue
		}
		subs = append(subs, Substitution{Chrom: fields[0], Pos: pos, Ref: fields[2], Alt: alt})
	}
	return subs, nil
}

// Joiner dispatches substitution batches to a predictor across a worker pool
// and maps the per-substitution results back onto genotype identifiers.
type Joiner struct {
	predictor Predictor
	workers   int
	logger    *zap.Logger
}

// NewJoiner creates a joiner for the given predictor.
func NewJoiner(p Predictor) *Joiner {
	return &Joiner{predictor: p, workers: runtime.NumCPU(), logger: zap.NewNop()}
}

// SetWorkers sets the number of concurrent predictor calls.
func (j *Joiner) SetWorkers(n int) {
	if n > 0 {
		j.workers = n
	}
}

// SetLogger sets the logger for batch dispatch diagnostics.
func (j *Joiner) SetLogger(l *zap.Logger) {
	j.logger = l
}

// Annotate predicts consequences for a set of canonical genotype identifiers.
// Duplicate identifiers are collapsed, distinct substitutions are batched and
// dispatched concurrently, and results are expanded back to every genotype
// that produced each substitution, deduplicated on (genotype, gene, term).
//
// A failed predictor batch is fatal: no partial results are returned, since a
// gene attribution present for some variants but missing for others would
// bias downstream evidence counts.
func (j *Joiner) Annotate(ctx context.Context, genotypeIDs []string) ([]GeneConsequence, error) {
	// Reverse index from substitution to every genotype identifier that
	// produced it, preserving first-seen order for deterministic batching.
	subToGenotypes := make(map[Substitution][]string)
	var subOrder []Substitution
	seenID := make(map[string]bool)
	for _, id := range genotypeIDs {
		if id == "" || seenID[id] {
			continue
		}
		seenID[id] = true
		subs, err := SubstitutionsFor(id)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if _, seen := subToGenotypes[sub]; !seen {
				subOrder = append(subOrder, sub)
			}
			subToGenotypes[sub] = append(subToGenotypes[sub], id)
		}
	}

	var batches [][]Substitution
	for start := 0; start < len(subOrder); start += BatchSize {
		end := min(start+BatchSize, len(subOrder))
		batches = append(batches, subOrder[start:end])
	}

	results := make([][]Consequence, len(batches))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			j.logger.Debug("submitting predictor batch",
				zap.Int("batch", i),
				zap.Int("size", len(batch)))
			res, err := j.predictor.Predict(ctx, batch)
			if err != nil {
				return fmt.Errorf("predictor batch %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type resultKey struct {
		genotypeID, geneID, term string
	}
	seen := make(map[resultKey]bool)
	var out []GeneConsequence
	for _, batch := range results {
		for _, c := range batch {
			for _, id := range subToGenotypes[c.Substitution] {
				k := resultKey{id, c.GeneID, c.Term}
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, GeneConsequence{
					GenotypeID: id,
					GeneID:     c.GeneID,
					GeneSymbol: c.GeneSymbol,
					Term:       c.Term,
				})
			}
		}
	}
	return out, nil
}
