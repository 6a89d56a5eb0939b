package engine

import (
	"context"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/lazypower/recall/internal/llm"
	"github.com/m-mizutani/goerr/v2"
)

// Verdict is the outcome of a relevance judgment.
type Verdict int

const (
	Negative Verdict = iota
	Affirmative
)

func (v Verdict) String() string {
	if v == Affirmative {
		return "affirmative"
	}
	return "negative"
}

// ParseVerdict reads a classifier reply. The reply is affirmative when its
// trimmed, lowercased text contains "yes"; anything else, including an empty
// reply or a refusal, is negative.
func ParseVerdict(reply string) Verdict {
	if strings.Contains(strings.ToLower(strings.TrimSpace(reply)), "yes") {
		return Affirmative
	}
	return Negative
}

// Classifier judges whether a memory answers a search query.
type Classifier interface {
	Classify(ctx context.Context, query, memory string) (Verdict, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, query, memory string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, query, memory string) (Verdict, error) {
	return f(ctx, query, memory)
}

// LLMClassifier asks a language model for a few-shot yes/no judgment.
type LLMClassifier struct {
	LLM llm.Client
}

func (c *LLMClassifier) Classify(ctx context.Context, query, memory string) (Verdict, error) {
	resp, err := c.LLM.Complete(ctx, llm.ClassifyMessages(query, memory))
	if err != nil {
		return Negative, goerr.Wrap(err, "classify memory")
	}
	return ParseVerdict(resp.Content), nil
}

// CachedClassifier remembers verdicts per (query, memory) pair.
type CachedClassifier struct {
	next  Classifier
	cache *ristretto.Cache
}

// NewCachedClassifier caches up to size verdicts from next.
func NewCachedClassifier(next Classifier, size int64) (*CachedClassifier, error) {
	if size <= 0 {
		return nil, goerr.New("verdict cache size must be positive", goerr.V("size", size))
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create verdict cache")
	}
	return &CachedClassifier{next: next, cache: cache}, nil
}

func verdictKey(query, memory string) string {
	return query + "\x00" + memory
}

func (c *CachedClassifier) Classify(ctx context.Context, query, memory string) (Verdict, error) {
	key := verdictKey(query, memory)
	if v, ok := c.cache.Get(key); ok {
		return v.(Verdict), nil
	}

	verdict, err := c.next.Classify(ctx, query, memory)
	if err != nil {
		return Negative, err
	}
	c.cache.Set(key, verdict, 1)
	return verdict, nil
}

// Close releases the cache.
func (c *CachedClassifier) Close() {
	c.cache.Close()
}
