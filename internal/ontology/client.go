// Package ontology resolves drug names and phenotype text to ontology IRIs
// using the EBI OLS and Zooma services.
package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultOLSBaseURL   = "https://www.ebi.ac.uk/ols4/api"
	defaultZoomaBaseURL = "https://www.ebi.ac.uk/spot/zooma/v2/api"
)

// Client queries OLS (drug name -> CHEBI IRI) and Zooma (phenotype text ->
// EFO IRI). Lookups are best-effort: a miss returns an empty IRI, not an
// error.
type Client struct {
	olsBaseURL   string
	zoomaBaseURL string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient creates a client against the public EBI services.
func NewClient() *Client {
	return &Client{
		olsBaseURL:   defaultOLSBaseURL,
		zoomaBaseURL: defaultZoomaBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
}

// SetBaseURLs overrides the service endpoints (for tests or mirrors).
func (c *Client) SetBaseURLs(ols, zooma string) {
	c.olsBaseURL = strings.TrimSuffix(ols, "/")
	c.zoomaBaseURL = strings.TrimSuffix(zooma, "/")
}

// SetLogger sets the logger for lookup diagnostics.
func (c *Client) SetLogger(l *zap.Logger) {
	c.logger = l
}

// ChebiIRI resolves a drug name to a CHEBI IRI via an exact-label OLS search.
// Returns "" when OLS has no unambiguous match.
func (c *Client) ChebiIRI(ctx context.Context, drug string) (string, error) {
	if drug == "" {
		return "", nil
	}
	u := fmt.Sprintf("%s/search?q=%s&ontology=chebi&exact=true&queryFields=label",
		c.olsBaseURL, url.QueryEscape(drug))

	var result struct {
		Response struct {
			Docs []struct {
				IRI string `json:"iri"`
			} `json:"docs"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, u, &result); err != nil {
		return "", fmt.Errorf("OLS lookup for %q: %w", drug, err)
	}
	if len(result.Response.Docs) == 0 {
		return "", nil
	}
	return result.Response.Docs[0].IRI, nil
}

// EFOIRI resolves phenotype text to a trait IRI via Zooma, keeping only
// high-confidence annotations.
func (c *Client) EFOIRI(ctx context.Context, phenotype string) (string, error) {
	if phenotype == "" {
		return "", nil
	}
	u := fmt.Sprintf("%s/services/annotate?propertyValue=%s",
		c.zoomaBaseURL, url.QueryEscape(phenotype))

	var annotations []struct {
		Confidence   string   `json:"confidence"`
		SemanticTags []string `json:"semanticTags"`
	}
	if err := c.getJSON(ctx, u, &annotations); err != nil {
		return "", fmt.Errorf("Zooma lookup for %q: %w", phenotype, err)
	}
	for _, a := range annotations {
		if a.Confidence == "HIGH" && len(a.SemanticTags) > 0 {
			return a.SemanticTags[0], nil
		}
	}
	return "", nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IRIToCode converts an ontology IRI to its trailing code, e.g.
// http://purl.obolibrary.org/obo/CHEBI_4792 -> CHEBI_4792.
func IRIToCode(iri string) string {
	if iri == "" {
		return ""
	}
	parts := strings.Split(iri, "/")
	return parts[len(parts)-1]
}

// ChebiIDToIRI builds the OBO IRI for a bare CHEBI accession.
func ChebiIDToIRI(id string) string {
	if id == "" {
		return ""
	}
	return "http://purl.obolibrary.org/obo/CHEBI_" + id
}
