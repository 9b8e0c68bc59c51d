package consequence

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitutionsFor_SkipsNonVariant(t *testing.T) {
	// Heterozygous reference call yields a single query.
	subs, err := SubstitutionsFor("1_100_A_A,G")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, Substitution{Chrom: "1", Pos: 100, Ref: "A", Alt: "G"}, subs[0])
	assert.Equal(t, "1 100 . A G", subs[0].Line())
}

func TestSubstitutionsFor_HomozygousReference(t *testing.T) {
	subs, err := SubstitutionsFor("1_100_A_A,A")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubstitutionsFor_MultipleAlts(t *testing.T) {
	subs, err := SubstitutionsFor("15_7237571_C_T,G")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "T", subs[0].Alt)
	assert.Equal(t, "G", subs[1].Alt)
}

func TestSubstitutionsFor_InvalidIdentifier(t *testing.T) {
	_, err := SubstitutionsFor("1_100_A")
	assert.Error(t, err)
	_, err = SubstitutionsFor("1_pos_A_G")
	assert.Error(t, err)
}

// mockPredictor records batches and returns one gene row per substitution.
type mockPredictor struct {
	mu      sync.Mutex
	batches [][]Substitution
	err     error
}

func (m *mockPredictor) Predict(_ context.Context, batch []Substitution) ([]Consequence, error) {
	m.mu.Lock()
	m.batches = append(m.batches, batch)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Consequence
	for _, s := range batch {
		out = append(out, Consequence{
			Substitution: s,
			GeneID:       "ENSG1",
			GeneSymbol:   "GENE1",
			Term:         "missense_variant",
		})
	}
	return out, nil
}

func TestJoiner_ExpandsSharedSubstitutions(t *testing.T) {
	pred := &mockPredictor{}
	j := NewJoiner(pred)
	j.SetWorkers(2)

	// Both genotypes share the A>G substitution; 1_100_A_G,T adds A>T.
	out, err := j.Annotate(context.Background(), []string{"1_100_A_A,G", "1_100_A_G,T"})
	require.NoError(t, err)

	byGenotype := make(map[string]int)
	for _, gc := range out {
		byGenotype[gc.GenotypeID]++
		assert.Equal(t, "ENSG1", gc.GeneID)
	}
	// Dedup on (genotype, gene, term): each genotype gets one row even though
	// 1_100_A_G,T produced two substitutions hitting the same gene.
	assert.Equal(t, 1, byGenotype["1_100_A_A,G"])
	assert.Equal(t, 1, byGenotype["1_100_A_G,T"])

	// Two distinct substitutions total, submitted once.
	total := 0
	for _, b := range pred.batches {
		total += len(b)
	}
	assert.Equal(t, 2, total)
}

func TestJoiner_BatchPartitioning(t *testing.T) {
	pred := &mockPredictor{}
	j := NewJoiner(pred)
	j.SetWorkers(4)

	// 250 distinct substitutions -> batches of 200 and 50.
	var ids []string
	for i := 0; i < 250; i++ {
		ids = append(ids, fmt.Sprintf("1_%d_A_A,G", i+1))
	}
	out, err := j.Annotate(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, out, 250)

	require.Len(t, pred.batches, 2)
	sizes := []int{len(pred.batches[0]), len(pred.batches[1])}
	assert.ElementsMatch(t, []int{200, 50}, sizes)
}

func TestJoiner_PredictorFailureIsFatal(t *testing.T) {
	pred := &mockPredictor{err: fmt.Errorf("service unavailable")}
	j := NewJoiner(pred)

	out, err := j.Annotate(context.Background(), []string{"1_100_A_A,G"})
	require.Error(t, err)
	assert.Nil(t, out)
}

func TestJoiner_DuplicateAndEmptyIDsIgnored(t *testing.T) {
	pred := &mockPredictor{}
	j := NewJoiner(pred)

	out, err := j.Annotate(context.Background(), []string{"", "1_100_A_A,G", "1_100_A_A,G"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestMostSeverePerGene(t *testing.T) {
	sub := Substitution{Chrom: "1", Pos: 100, Ref: "A", Alt: "G"}
	r := vepResult{
		Input: "1 100 . A G",
		TranscriptConsequences: []vepTranscriptConsequence{
			{GeneID: "ENSG1", GeneSymbol: "GENE1", ConsequenceTerms: []string{"intron_variant"}},
			{GeneID: "ENSG1", GeneSymbol: "GENE1", ConsequenceTerms: []string{"missense_variant"}},
			{GeneID: "ENSG2", GeneSymbol: "GENE2", ConsequenceTerms: []string{"downstream_gene_variant"}},
		},
	}

	out := mostSeverePerGene(sub, r)
	require.Len(t, out, 2)
	assert.Equal(t, "missense_variant", out[0].Term)
	assert.Equal(t, "ENSG1", out[0].GeneID)
	assert.Equal(t, "downstream_gene_variant", out[1].Term)
}

func TestParseVEPInput(t *testing.T) {
	sub, err := parseVEPInput("15 7237571 . C T")
	require.NoError(t, err)
	assert.Equal(t, Substitution{Chrom: "15", Pos: 7237571, Ref: "C", Alt: "T"}, sub)

	_, err = parseVEPInput("not a variant line")
	assert.Error(t, err)
}
