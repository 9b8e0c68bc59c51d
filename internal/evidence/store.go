package evidence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/apriltuesday/opentargets-pharmgkb/internal/association"
)

// Store appends generated evidence rows, allele associations and gene
// comparisons to DuckDB so a run's intermediate tables stay queryable.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func OpenStore(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) ensureSchema() error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS evidence (
			annotation_id VARCHAR,
			variant_rsid VARCHAR,
			genotype VARCHAR,
			genotype_id VARCHAR,
			overlapping_gene VARCHAR,
			consequence_term VARCHAR,
			drug VARCHAR,
			chebi VARCHAR,
			phenotype VARCHAR,
			efo VARCHAR,
			evidence_level VARCHAR,
			pgx_category VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS associations (
			annotation_id VARCHAR,
			genotype VARCHAR,
			variant_annotation_ids VARCHAR,
			pmids VARCHAR,
			sentences VARCHAR,
			alleles VARCHAR,
			directions VARCHAR,
			effects VARCHAR,
			objects VARCHAR,
			comparisons VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS gene_comparison (
			annotation_id VARCHAR,
			pgkb_genes VARCHAR,
			vep_genes VARCHAR
		)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvidence appends one evidence row.
func (s *Store) InsertEvidence(r Row) error {
	_, err := s.db.Exec(
		`INSERT INTO evidence VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AnnotationID, r.VariantRsID, r.GenotypeText, r.GenotypeID,
		r.GeneID, r.ConsequenceTerm, r.Drug, r.ChebiIRI,
		r.Phenotype, r.EFOIRI, r.LevelOfEvidence, r.PhenotypeCategory,
	)
	if err != nil {
		return fmt.Errorf("insert evidence row: %w", err)
	}
	return nil
}

// InsertAssociation appends one allele association row, with list fields
// joined by "; ".
func (s *Store) InsertAssociation(a association.Association) error {
	join := func(vals []string) string { return strings.Join(vals, "; ") }
	_, err := s.db.Exec(
		`INSERT INTO associations VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AnnotationID, a.GenotypeText, join(a.VariantAnnotationIDs),
		join(a.PMIDs), join(a.Sentences), join(a.Alleles),
		join(a.Directions), join(a.Effects), join(a.Objects),
		join(a.Comparisons),
	)
	if err != nil {
		return fmt.Errorf("insert association row: %w", err)
	}
	return nil
}

// InsertGeneComparison appends one per-annotation gene comparison row.
func (s *Store) InsertGeneComparison(annotationID string, pgkbGenes, vepGenes []string) error {
	_, err := s.db.Exec(
		`INSERT INTO gene_comparison VALUES (?, ?, ?)`,
		annotationID, strings.Join(pgkbGenes, "; "), strings.Join(vepGenes, "; "),
	)
	if err != nil {
		return fmt.Errorf("insert gene comparison row: %w", err)
	}
	return nil
}
