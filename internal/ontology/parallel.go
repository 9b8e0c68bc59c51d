package ontology

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// LookupFunc resolves a single term to an IRI.
type LookupFunc func(ctx context.Context, term string) (string, error)

type lookupResult struct {
	term string
	iri  string
	err  error
}

// MapTerms resolves every distinct term over a fixed pool of workers and
// returns a term -> IRI map. There are no batch endpoints on these services,
// so each term is one request. Lookups are best-effort: failures are logged
// and the term is left out of the map, which reads back as an empty IRI.
// If workers is 0, runtime.NumCPU() is used.
func (c *Client) MapTerms(ctx context.Context, terms []string, workers int, fn LookupFunc) map[string]string {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	seen := make(map[string]bool, len(terms))
	items := make(chan string, len(terms))
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		items <- term
	}
	close(items)

	results := make(chan lookupResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for term := range items {
				iri, err := fn(ctx, term)
				results <- lookupResult{term: term, iri: iri, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]string, len(seen))
	for r := range results {
		if r.err != nil {
			c.logger.Warn("ontology lookup failed",
				zap.String("term", r.term),
				zap.Error(r.err))
			continue
		}
		out[r.term] = r.iri
	}
	return out
}
