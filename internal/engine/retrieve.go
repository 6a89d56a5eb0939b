package engine

import (
	"context"

	"github.com/lazypower/recall/internal/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Retrieve gathers the memories relevant to queries. Each query is embedded and
// its k nearest memories are classified in similarity order; affirmative ones
// are admitted. A memory already admitted is never classified again, so the
// result holds each content once, in admission order. k <= 0 uses the engine
// default. Any embedder, index or classifier failure aborts the retrieval.
func (e *Engine) Retrieve(ctx context.Context, queries []string, k int) ([]string, error) {
	if k <= 0 {
		k = e.k
	}
	logger := logging.From(ctx)

	admitted := make(map[string]struct{})
	results := []string{}

	for _, q := range queries {
		vec, err := e.embed(ctx, q)
		if err != nil {
			return nil, goerr.Wrap(err, "embed query", goerr.V("query", q))
		}

		nearCtx, cancel := e.callCtx(ctx)
		candidates, err := e.Index.Nearest(nearCtx, e.Embedder.Model(), vec, k)
		cancel()
		if err != nil {
			return nil, goerr.Wrap(err, "nearest memories", goerr.V("query", q))
		}

		for _, c := range candidates {
			if _, ok := admitted[c]; ok {
				continue
			}

			classifyCtx, cancel := e.callCtx(ctx)
			verdict, err := e.Classifier.Classify(classifyCtx, q, c)
			cancel()
			if err != nil {
				return nil, goerr.Wrap(err, "classify candidate", goerr.V("query", q))
			}

			logger.Debug("classified", "query", q, "memory", c, "verdict", verdict)
			if verdict == Affirmative {
				admitted[c] = struct{}{}
				results = append(results, c)
			}
		}
	}

	return results, nil
}
