package pgkb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTSV(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadClinicalAnnotations(t *testing.T) {
	path := writeTSV(t, "clinical_annotations.tsv",
		"Clinical Annotation ID\tVariant/Haplotypes\tGene\tLevel of Evidence\tPhenotype Category\tDrug(s)\tPhenotype(s)",
		"CA1\trs4244285\tCYP2C19\t1A\tEfficacy\tclopidogrel\t",
		"CA2\tCYP2D6*1, CYP2D6*2\tCYP2D6\t2A\tMetabolism/PK\ttamoxifen; fluorouracil\tDisease:Depression",
	)

	anns, err := LoadClinicalAnnotations(path)
	require.NoError(t, err)
	require.Len(t, anns, 2)
	assert.Equal(t, "CA1", anns[0].ID)
	assert.True(t, anns[0].HasRsID())
	assert.False(t, anns[1].HasRsID())
	assert.Equal(t, "1A", anns[0].LevelOfEvidence)
}

func TestLoadClinicalAnnotations_MissingColumn(t *testing.T) {
	path := writeTSV(t, "clinical_annotations.tsv",
		"Clinical Annotation ID\tVariant/Haplotypes",
		"CA1\trs4244285",
	)
	_, err := LoadClinicalAnnotations(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Level of Evidence")
}

func TestLoadClinicalAlleles_ShortRowsPadded(t *testing.T) {
	path := writeTSV(t, "clinical_ann_alleles.tsv",
		"Clinical Annotation ID\tGenotype/Allele\tAnnotation Text",
		"CA1\tA/G", // missing trailing column
	)
	alleles, err := LoadClinicalAlleles(path)
	require.NoError(t, err)
	require.Len(t, alleles, 1)
	assert.Equal(t, "A/G", alleles[0].GenotypeAllele)
	assert.Equal(t, "", alleles[0].AnnotationText)
}

func TestLoadVariantAnnotations_Merge(t *testing.T) {
	drugPath := writeTSV(t, "var_drug_ann.tsv",
		"Variant Annotation ID\tPMID\tSentence\tAlleles\tIs/Is Not associated\tDirection of effect\tPD/PK terms\tDrug(s)\tComparison Allele(s) or Genotype(s)",
		"VA1\t111\tSentence one\tA\tAssociated with\tincreased\tclearance\twarfarin\tG",
	)
	phenoPath := writeTSV(t, "var_pheno_ann.tsv",
		"Variant Annotation ID\tPMID\tSentence\tAlleles\tIs/Is Not associated\tDirection of effect\tSide effect/efficacy/other\tPhenotype\tComparison Allele(s) or Genotype(s)",
		"VA2\t222\tSentence two\tA+T/C\tNot associated with\tdecreased\tside effect\tSide Effect:Nausea\tT",
	)

	anns, err := LoadVariantAnnotations(drugPath, phenoPath)
	require.NoError(t, err)
	require.Len(t, anns, 2)

	assert.Equal(t, "warfarin", anns[0].Object)
	assert.Equal(t, "clearance", anns[0].Effect)
	assert.True(t, anns[0].IsPositive())

	// Phenotype type tag stripped, polarity negative.
	assert.Equal(t, "Nausea", anns[1].Object)
	assert.False(t, anns[1].IsPositive())
}

func TestStripPhenotypeType(t *testing.T) {
	assert.Equal(t, "Depression", stripPhenotypeType("Disease:Depression"))
	// Only the second segment survives when the value has further colons.
	assert.Equal(t, "Nausea", stripPhenotypeType("Side Effect:Nausea:Severe"))
	assert.Equal(t, "Headache", stripPhenotypeType("Headache"))
	assert.Equal(t, "", stripPhenotypeType(""))
}

func TestSplitTerms(t *testing.T) {
	assert.Equal(t, []string{"tamoxifen", "fluorouracil"}, SplitTerms("tamoxifen; fluorouracil"))
	assert.Equal(t, []string{"IFNL3", "IFNL4"}, SplitTerms("IFNL3;IFNL4"))
	assert.Nil(t, SplitTerms(""))
}

func TestChebiID(t *testing.T) {
	assert.Equal(t, "41774", ChebiID(`"PubChem:2733526","CHEBI:41774","DrugBank:DB00675"`))
	assert.Equal(t, "", ChebiID("DrugBank:DB00675"))
}
