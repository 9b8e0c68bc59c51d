package evidence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apriltuesday/opentargets-pharmgkb/internal/consequence"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/coordinates"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/ontology"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/pgkb"
)

// seqStore is an in-memory reference sequence keyed by "contig:pos".
type seqStore map[string]byte

func (s seqStore) Base(contig string, pos int64) (byte, error) {
	b, ok := s[fmt.Sprintf("%s:%d", contig, pos)]
	if !ok {
		return 0, fmt.Errorf("no base at %s:%d", contig, pos)
	}
	return b, nil
}

// staticPredictor answers every substitution from a fixed consequence map.
type staticPredictor struct {
	byLine map[string]consequence.Consequence
}

func (p *staticPredictor) Predict(_ context.Context, batch []consequence.Substitution) ([]consequence.Consequence, error) {
	var out []consequence.Consequence
	for _, sub := range batch {
		if c, ok := p.byLine[sub.Line()]; ok {
			c.Substitution = sub
			out = append(out, c)
		}
	}
	return out, nil
}

func writeTable(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0644)
	require.NoError(t, err)
}

func writeTestTables(t *testing.T, dir string) {
	t.Helper()
	writeTable(t, dir, "clinical_annotations.tsv",
		"Clinical Annotation ID\tVariant/Haplotypes\tGene\tLevel of Evidence\tPhenotype Category\tDrug(s)\tPhenotype(s)",
		"1451\trs4244285\tCYP2C19\t1A\tEfficacy\tclopidogrel\tStroke",
		"7889\tCYP2D6*1, CYP2D6*4\tCYP2D6\t2A\tDosage\tcodeine\t")
	writeTable(t, dir, "clinical_ann_alleles.tsv",
		"Clinical Annotation ID\tGenotype/Allele\tAnnotation Text",
		"1451\tAA\tPatients with the AA genotype may have decreased response.",
		"1451\tAG\tPatients with the AG genotype may have decreased response.",
		"1451\tGG\tPatients with the GG genotype may have normal response.")
	writeTable(t, dir, "clinical_ann_evidence.tsv",
		"Clinical Annotation ID\tEvidence ID\tPMID",
		"1451\t981755803\t12345678")
	writeTable(t, dir, "variants.tsv",
		"Variant Name\tLocation",
		"rs4244285\tNC_000010.11:94781859")
	writeTable(t, dir, "drugs.tsv",
		"Name\tCross-references",
		"clopidogrel\tChEBI:CHEBI:37941,PubChem Compound:60606")
	writeTable(t, dir, "var_drug_ann.tsv",
		"Variant Annotation ID\tPMID\tSentence\tAlleles\tIs/Is Not associated\tDirection of effect\tPD/PK terms\tDrug(s)\tComparison Allele(s) or Genotype(s)",
		"981755803\t12345678\tGenotype AA is associated with decreased response to clopidogrel.\tAA\tAssociated with\tdecreased\tresponse to drug\tclopidogrel\tGG")
	writeTable(t, dir, "var_pheno_ann.tsv",
		"Variant Annotation ID\tPMID\tSentence\tAlleles\tIs/Is Not associated\tDirection of effect\tSide effect/efficacy/other\tPhenotype")
}

// ontologyServer serves OLS search and Zooma annotate endpoints. OLS finds
// nothing, so drug mapping exercises the drugs-table fallback.
func ontologyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			fmt.Fprint(w, `{"response":{"docs":[]}}`)
		case "/services/annotate":
			fmt.Fprint(w, `[{"confidence":"HIGH","semanticTags":["http://www.ebi.ac.uk/efo/EFO_0000712"]}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	sequences := seqStore{"NC_000010.11:94781859": 'G'}
	predictor := &staticPredictor{byLine: map[string]consequence.Consequence{
		"10 94781859 . G A": {GeneID: "ENSG00000165841", GeneSymbol: "CYP2C19", Term: "missense_variant"},
	}}

	srv := ontologyServer(t)
	ont := ontology.NewClient()
	ont.SetBaseURLs(srv.URL, srv.URL)

	p := NewPipeline(sequences, predictor, ont)
	p.SetWorkers(2)
	return p
}

func readEvidenceLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fields map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &fields))
		out = append(out, fields)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestPipelineRun(t *testing.T) {
	dir := t.TempDir()
	writeTestTables(t, dir)
	output := filepath.Join(dir, "evidence.json")

	p := newTestPipeline(t)
	err := p.Run(context.Background(), RunConfig{
		DataDir:     dir,
		OutputPath:  output,
		CreatedDate: "2024-03-05",
	})
	require.NoError(t, err)

	lines := readEvidenceLines(t, output)
	// Three genotypes, one drug, one phenotype. The haplotype-only
	// annotation 7889 has no rsID and produces nothing.
	require.Len(t, lines, 3)

	first := lines[0]
	assert.Equal(t, "pharmgkb", first["datasourceId"])
	assert.Equal(t, "2024-03-05", first["datasourceVersion"])
	assert.Equal(t, "clinical_annotation", first["datatypeId"])
	assert.Equal(t, "1451", first["studyId"])
	assert.Equal(t, "1A", first["evidenceLevel"])
	assert.Equal(t, []any{"12345678"}, first["literature"])
	assert.Equal(t, "rs4244285", first["variantRsId"])
	assert.Equal(t, "AA", first["genotype"])
	assert.Equal(t, "10_94781859_G_A,A", first["genotypeId"])
	assert.Equal(t, "SO_0001583", first["variantFunctionalConsequenceId"])
	assert.Equal(t, "ENSG00000165841", first["targetFromSourceId"])
	assert.Equal(t, "clopidogrel", first["drugFromSource"])
	assert.Equal(t, "CHEBI_37941", first["drugId"]) // drugs-table fallback
	assert.Equal(t, "efficacy", first["pgxCategory"])
	assert.Equal(t, "Stroke", first["phenotypeText"])
	assert.Equal(t, "EFO_0000712", first["phenotypeFromSourceId"])

	het := lines[1]
	assert.Equal(t, "AG", het["genotype"])
	assert.Equal(t, "10_94781859_G_A,G", het["genotypeId"])
	assert.Equal(t, "SO_0001583", het["variantFunctionalConsequenceId"])

	// Homozygous reference carries no substitution, so no consequence.
	homRef := lines[2]
	assert.Equal(t, "GG", homRef["genotype"])
	assert.Equal(t, "10_94781859_G_G,G", homRef["genotypeId"])
	assert.NotContains(t, homRef, "variantFunctionalConsequenceId")
	assert.NotContains(t, homRef, "targetFromSourceId")
}

func TestPipelineRun_MissingDataFile(t *testing.T) {
	dir := t.TempDir()
	writeTestTables(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "variants.tsv")))

	p := newTestPipeline(t)
	err := p.Run(context.Background(), RunConfig{
		DataDir:    dir,
		OutputPath: filepath.Join(dir, "evidence.json"),
	})
	assert.ErrorContains(t, err, "variants.tsv")
}

func TestPipelineRun_NoPublications(t *testing.T) {
	dir := t.TempDir()
	writeTestTables(t, dir)
	// Evidence links without PMIDs cannot back evidence strings.
	writeTable(t, dir, "clinical_ann_evidence.tsv",
		"Clinical Annotation ID\tEvidence ID\tPMID",
		"1451\t981755803\t")
	output := filepath.Join(dir, "evidence.json")

	p := newTestPipeline(t)
	err := p.Run(context.Background(), RunConfig{
		DataDir:     dir,
		OutputPath:  output,
		CreatedDate: "2024-03-05",
	})
	require.NoError(t, err)
	assert.Empty(t, readEvidenceLines(t, output))
}

func TestPipelineRun_InvalidEvidence(t *testing.T) {
	dir := t.TempDir()
	writeTestTables(t, dir)
	// No level of evidence makes every generated string invalid.
	writeTable(t, dir, "clinical_annotations.tsv",
		"Clinical Annotation ID\tVariant/Haplotypes\tGene\tLevel of Evidence\tPhenotype Category\tDrug(s)\tPhenotype(s)",
		"1451\trs4244285\tCYP2C19\t\tEfficacy\tclopidogrel\tStroke")
	output := filepath.Join(dir, "evidence.json")

	p := newTestPipeline(t)
	err := p.Run(context.Background(), RunConfig{
		DataDir:     dir,
		OutputPath:  output,
		CreatedDate: "2024-03-05",
	})
	assert.ErrorContains(t, err, "invalid evidence strings")
	assert.Empty(t, readEvidenceLines(t, output))
}

func TestPipelineRun_StoreTables(t *testing.T) {
	dir := t.TempDir()
	writeTestTables(t, dir)
	output := filepath.Join(dir, "evidence.json")

	p := newTestPipeline(t)
	s := openInMemory(t)
	p.SetStore(s)

	err := p.Run(context.Background(), RunConfig{
		DataDir:     dir,
		OutputPath:  output,
		CreatedDate: "2024-03-05",
	})
	require.NoError(t, err)

	var evidenceRows int
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM evidence`).Scan(&evidenceRows))
	assert.Equal(t, 3, evidenceRows)

	// One association row per genotype of the annotation; only "AA" matches
	// the literature annotation, the others are placeholders.
	var associationRows int
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM associations`).Scan(&associationRows))
	assert.Equal(t, 3, associationRows)

	var ids string
	require.NoError(t, s.DB().QueryRow(
		`SELECT variant_annotation_ids FROM associations WHERE genotype = ?`, "AA",
	).Scan(&ids))
	assert.Equal(t, "981755803", ids)
}

func TestExplodedCounts_BeforePublicationFilter(t *testing.T) {
	anns := map[string]pgkb.ClinicalAnnotation{
		"CA1": {ID: "CA1", Drugs: "clopidogrel; warfarin", Phenotypes: "Stroke"},
		"CA2": {ID: "CA2"}, // no drugs, phenotypes or publications
	}
	resolved := []coordinates.Resolved{
		{Record: coordinates.Record{AnnotationID: "CA1"}},
		{Record: coordinates.Record{AnnotationID: "CA1"}},
		{Record: coordinates.Record{AnnotationID: "CA2"}},
	}

	// Counts size the cross-product at explode time; rows later dropped for
	// lacking publications still contribute.
	drugs, phenotypes := explodedCounts(resolved, anns)
	assert.Equal(t, 5, drugs)
	assert.Equal(t, 5, phenotypes)
}

func TestPipelineRun_PredictorFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeTestTables(t, dir)

	sequences := seqStore{"NC_000010.11:94781859": 'G'}
	srv := ontologyServer(t)
	ont := ontology.NewClient()
	ont.SetBaseURLs(srv.URL, srv.URL)

	p := NewPipeline(sequences, failingPredictor{}, ont)
	err := p.Run(context.Background(), RunConfig{
		DataDir:    dir,
		OutputPath: filepath.Join(dir, "evidence.json"),
	})
	assert.ErrorContains(t, err, "functional consequences")
}

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, []consequence.Substitution) ([]consequence.Consequence, error) {
	return nil, fmt.Errorf("service unavailable")
}
