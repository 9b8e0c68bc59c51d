package consequence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EnsemblPredictor queries the Ensembl VEP REST endpoint for batches of
// substitutions and reduces transcript-level results to the most severe
// consequence per overlapping gene.
type EnsemblPredictor struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewEnsemblPredictor creates a predictor against the public Ensembl REST API.
func NewEnsemblPredictor() *EnsemblPredictor {
	return &EnsemblPredictor{
		baseURL: "https://rest.ensembl.org",
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: zap.NewNop(),
	}
}

// SetBaseURL overrides the REST endpoint (for tests or mirrors).
func (p *EnsemblPredictor) SetBaseURL(u string) {
	p.baseURL = strings.TrimSuffix(u, "/")
}

// SetLogger sets the logger for request diagnostics.
func (p *EnsemblPredictor) SetLogger(l *zap.Logger) {
	p.logger = l
}

// vepResult is the JSON shape of one VEP region result.
type vepResult struct {
	Input                  string                     `json:"input"`
	TranscriptConsequences []vepTranscriptConsequence `json:"transcript_consequences"`
}

type vepTranscriptConsequence struct {
	GeneID           string   `json:"gene_id"`
	GeneSymbol       string   `json:"gene_symbol"`
	ConsequenceTerms []string `json:"consequence_terms"`
}

// Predict submits one batch to POST /vep/homo_sapiens/region. The call is
// all-or-nothing: any transport, status or decode failure returns an error
// with no partial results.
func (p *EnsemblPredictor) Predict(ctx context.Context, batch []Substitution) ([]Consequence, error) {
	if len(batch) > BatchSize {
		return nil, fmt.Errorf("batch size %d exceeds predictor maximum %d", len(batch), BatchSize)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	lines := make([]string, len(batch))
	for i, s := range batch {
		lines[i] = s.Line()
	}
	body, err := json.Marshal(map[string][]string{"variants": lines})
	if err != nil {
		return nil, fmt.Errorf("encode VEP request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/vep/homo_sapiens/region", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build VEP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	p.logger.Debug("querying VEP", zap.Int("variants", len(batch)))
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("VEP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("VEP API error %d: %s", resp.StatusCode, string(msg))
	}

	var results []vepResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode VEP response: %w", err)
	}

	var out []Consequence
	for _, r := range results {
		sub, err := parseVEPInput(r.Input)
		if err != nil {
			return nil, err
		}
		out = append(out, mostSeverePerGene(sub, r)...)
	}
	return out, nil
}

// parseVEPInput parses the echoed input line "chrom pos . ref alt" back into
// a substitution.
func parseVEPInput(line string) (Substitution, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return Substitution{}, fmt.Errorf("unexpected VEP input echo %q", line)
	}
	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Substitution{}, fmt.Errorf("unexpected VEP input echo %q: %w", line, err)
	}
	return Substitution{Chrom: fields[0], Pos: pos, Ref: fields[3], Alt: fields[4]}, nil
}

// mostSeverePerGene collapses transcript consequences to one row per
// overlapping gene, keeping the most severe term. Gene order follows first
// appearance in the response for deterministic output.
func mostSeverePerGene(sub Substitution, r vepResult) []Consequence {
	best := make(map[string]Consequence)
	var geneOrder []string
	for _, tc := range r.TranscriptConsequences {
		for _, term := range tc.ConsequenceTerms {
			cur, ok := best[tc.GeneID]
			if !ok {
				geneOrder = append(geneOrder, tc.GeneID)
			}
			if !ok || severity(term) < severity(cur.Term) {
				best[tc.GeneID] = Consequence{
					Substitution: sub,
					GeneID:       tc.GeneID,
					GeneSymbol:   tc.GeneSymbol,
					Term:         term,
				}
			}
		}
	}

	out := make([]Consequence, 0, len(geneOrder))
	for _, gene := range geneOrder {
		out = append(out, best[gene])
	}
	return out
}

// severityOrder lists Ensembl consequence terms from most to least severe.
var severityOrder = []string{
	"transcript_ablation",
	"splice_acceptor_variant",
	"splice_donor_variant",
	"stop_gained",
	"frameshift_variant",
	"stop_lost",
	"start_lost",
	"transcript_amplification",
	"feature_elongation",
	"feature_truncation",
	"inframe_insertion",
	"inframe_deletion",
	"missense_variant",
	"protein_altering_variant",
	"splice_donor_5th_base_variant",
	"splice_region_variant",
	"splice_donor_region_variant",
	"splice_polypyrimidine_tract_variant",
	"incomplete_terminal_codon_variant",
	"start_retained_variant",
	"stop_retained_variant",
	"synonymous_variant",
	"coding_sequence_variant",
	"mature_miRNA_variant",
	"5_prime_UTR_variant",
	"3_prime_UTR_variant",
	"non_coding_transcript_exon_variant",
	"intron_variant",
	"NMD_transcript_variant",
	"non_coding_transcript_variant",
	"coding_transcript_variant",
	"upstream_gene_variant",
	"downstream_gene_variant",
	"TFBS_ablation",
	"TFBS_amplification",
	"TF_binding_site_variant",
	"regulatory_region_ablation",
	"regulatory_region_amplification",
	"regulatory_region_variant",
	"intergenic_variant",
	"sequence_variant",
}

var severityRank = func() map[string]int {
	m := make(map[string]int, len(severityOrder))
	for i, term := range severityOrder {
		m[term] = i
	}
	return m
}()

func severity(term string) int {
	if rank, ok := severityRank[term]; ok {
		return rank
	}
	return len(severityOrder)
}
