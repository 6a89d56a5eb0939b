package engine

import (
	"context"
	"strings"
	"time"

	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
	"github.com/m-mizutani/goerr/v2"
)

// MemoryStore is the durable, append-only record keeper.
type MemoryStore interface {
	Create(ctx context.Context, content string) (int64, error)
	// ListAll returns every memory, newest first.
	ListAll(ctx context.Context) ([]store.Memory, error)
}

// VectorIndex maps memory ids to embeddings and answers nearest-neighbour
// queries. Every vector is tagged with the embedder model that produced it.
type VectorIndex interface {
	Upsert(ctx context.Context, id int64, model string, embedding []float64, content string) error
	// ExistingIDs returns the model of every indexed memory, keyed by id.
	ExistingIDs(ctx context.Context) (map[int64]string, error)
	// Nearest returns up to k memory contents embedded with model, most similar first.
	Nearest(ctx context.Context, model string, embedding []float64, k int) ([]string, error)
}

type counter interface {
	Count(ctx context.Context) (int, error)
}

var (
	// ErrEmptyContent is returned when asked to memorize blank text.
	ErrEmptyContent = store.ErrEmptyMemory
	// ErrEmptyPrompt is returned when asked to answer blank input.
	ErrEmptyPrompt = goerr.New("prompt is empty")
)

const (
	DefaultK             = 2
	DefaultCallTimeout   = 60 * time.Second
	DefaultStreamTimeout = 5 * time.Minute
)

// Engine wires the memory store, vector index, embedder and language model into
// the retrieval pipeline. All work for a turn happens sequentially.
type Engine struct {
	Store      MemoryStore
	Index      VectorIndex
	Embedder   Embedder
	LLM        llm.Client
	Decomposer *Decomposer
	Classifier Classifier

	k             int
	callTimeout   time.Duration
	streamTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithK sets the default number of candidates fetched per sub-query.
func WithK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.k = k
		}
	}
}

// WithCallTimeout bounds each embed, index, decompose and classify call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithStreamTimeout bounds a whole streamed answer.
func WithStreamTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.streamTimeout = d
		}
	}
}

// WithClassifier replaces the LLM relevance classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) {
		e.Classifier = c
	}
}

// New creates a new Engine.
func New(st MemoryStore, idx VectorIndex, emb Embedder, client llm.Client, opts ...Option) *Engine {
	e := &Engine{
		Store:         st,
		Index:         idx,
		Embedder:      emb,
		LLM:           client,
		Decomposer:    &Decomposer{LLM: client},
		Classifier:    &LLMClassifier{LLM: client},
		k:             DefaultK,
		callTimeout:   DefaultCallTimeout,
		streamTimeout: DefaultStreamTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// K returns the default candidates-per-query setting.
func (e *Engine) K() int { return e.k }

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.Embedder.Embed(ctx, text)
}

// Memorize stores content and indexes its embedding. The store and index writes
// are not atomic: when indexing fails the stored id is returned with the error
// and the next Synchronize repairs the gap.
func (e *Engine) Memorize(ctx context.Context, content string) (int64, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, ErrEmptyContent
	}
	logger := logging.From(ctx)

	createCtx, cancel := e.callCtx(ctx)
	id, err := e.Store.Create(createCtx, content)
	cancel()
	if err != nil {
		return 0, goerr.Wrap(err, "store memory")
	}

	vec, err := e.embed(ctx, content)
	if err != nil {
		logger.Warn("memory stored but not indexed", "id", id, "error", err)
		return id, goerr.Wrap(err, "embed memory", goerr.V("id", id))
	}

	upsertCtx, cancel := e.callCtx(ctx)
	err = e.Index.Upsert(upsertCtx, id, e.Embedder.Model(), vec, content)
	cancel()
	if err != nil {
		logger.Warn("memory stored but not indexed", "id", id, "error", err)
		return id, goerr.Wrap(err, "index memory", goerr.V("id", id))
	}

	logger.Debug("memorized", "id", id)
	return id, nil
}

// SyncReport summarizes a Synchronize pass.
type SyncReport struct {
	Total   int `json:"total"`   // memories in the store
	Skipped int `json:"skipped"` // already indexed with the current embedder
	Stale   int `json:"stale"`   // indexed with another embedder, re-embedded this pass
	Indexed int `json:"indexed"` // embedded during this pass, stale ones included
	Failed  int `json:"failed"`  // embed or upsert failed, left for the next pass
}

// Synchronize embeds every stored memory missing from the index or indexed by a
// different embedder model. Memories already indexed with the current model are
// never re-embedded; a failure on one memory is logged and the pass continues.
func (e *Engine) Synchronize(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	logger := logging.From(ctx)

	idsCtx, cancel := e.callCtx(ctx)
	existing, err := e.Index.ExistingIDs(idsCtx)
	cancel()
	if err != nil {
		return report, goerr.Wrap(err, "list indexed ids")
	}

	listCtx, cancel := e.callCtx(ctx)
	memories, err := e.Store.ListAll(listCtx)
	cancel()
	if err != nil {
		return report, goerr.Wrap(err, "list memories")
	}
	report.Total = len(memories)
	model := e.Embedder.Model()

	for _, m := range memories {
		if err := ctx.Err(); err != nil {
			return report, goerr.Wrap(err, "synchronize interrupted")
		}
		indexedWith, ok := existing[m.ID]
		if ok && indexedWith == model {
			report.Skipped++
			continue
		}
		if ok {
			report.Stale++
		}

		vec, err := e.embed(ctx, m.Content)
		if err != nil {
			logger.Warn("sync: embed failed, skipping", "id", m.ID, "error", err)
			report.Failed++
			continue
		}

		upsertCtx, cancel := e.callCtx(ctx)
		err = e.Index.Upsert(upsertCtx, m.ID, model, vec, m.Content)
		cancel()
		if err != nil {
			logger.Warn("sync: upsert failed, skipping", "id", m.ID, "error", err)
			report.Failed++
			continue
		}
		report.Indexed++
	}

	if report.Indexed > 0 || report.Failed > 0 {
		logger.Info("sync complete", "total", report.Total, "indexed", report.Indexed,
			"stale", report.Stale, "failed", report.Failed, "model", model)
	}
	return report, nil
}

// Stats reports store and index sizes when the backends can count.
type Stats struct {
	Memories int `json:"memories"`
	Indexed  int `json:"indexed"`
}

// Stats returns the number of stored and indexed memories. Backends that
// cannot count report -1.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Memories: -1, Indexed: -1}
	if c, ok := e.Store.(counter); ok {
		n, err := c.Count(ctx)
		if err != nil {
			return s, goerr.Wrap(err, "count memories")
		}
		s.Memories = n
	}
	if c, ok := e.Index.(counter); ok {
		n, err := c.Count(ctx)
		if err != nil {
			return s, goerr.Wrap(err, "count indexed")
		}
		s.Indexed = n
	}
	return s, nil
}
