package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lazypower/recall/internal/index"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/store"
	"github.com/m-mizutani/gt"
)

// countingEmbedder wraps a HashEmbedder and records every text it embeds.
type countingEmbedder struct {
	inner *HashEmbedder
	model string
	fail  map[string]bool

	mu    sync.Mutex
	texts []string
}

func newCountingEmbedder() *countingEmbedder {
	return newNamedEmbedder("counting", 0)
}

func newNamedEmbedder(model string, dims int) *countingEmbedder {
	return &countingEmbedder{inner: NewHashEmbedder(dims), model: model, fail: map[string]bool{}}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	if c.fail[text] {
		return nil, errors.New("embedder down")
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Model() string   { return c.model }
func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *countingEmbedder) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

type failingIndex struct {
	VectorIndex
}

func (failingIndex) Upsert(context.Context, int64, string, []float64, string) error {
	return errors.New("index unavailable")
}

type testEnv struct {
	engine *Engine
	db     *store.DB
	index  *store.VectorIndex
	emb    *countingEmbedder
	llm    *llm.MockClient
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db, err := store.OpenMemory()
	gt.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := store.NewVectorIndex(db)
	emb := newCountingEmbedder()
	client := &llm.MockClient{Reply: llm.EchoLastUser}

	return &testEnv{
		engine: New(db, idx, emb, client, opts...),
		db:     db,
		index:  idx,
		emb:    emb,
		llm:    client,
	}
}

func TestNewDefaults(t *testing.T) {
	env := newTestEnv(t)
	gt.Equal(t, env.engine.K(), DefaultK)
	gt.Equal(t, env.engine.callTimeout, DefaultCallTimeout)
	gt.Equal(t, env.engine.streamTimeout, DefaultStreamTimeout)

	env = newTestEnv(t, WithK(5), WithK(0))
	gt.Equal(t, env.engine.K(), 5)
}

func TestMemorizeStoresAndIndexes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.engine.Memorize(ctx, "  My passport photo is in C:/folder/  ")
	gt.NoError(t, err)
	gt.True(t, id > 0)

	m, err := env.db.Get(ctx, id)
	gt.NoError(t, err)
	gt.Equal(t, m.Content, "My passport photo is in C:/folder/")

	ids, err := env.index.ExistingIDs(ctx)
	gt.NoError(t, err)
	gt.Equal(t, ids[id], "counting")
}

func TestMemorizeRejectsBlank(t *testing.T) {
	env := newTestEnv(t)

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := env.engine.Memorize(context.Background(), input)
		gt.True(t, errors.Is(err, ErrEmptyContent))
	}
	gt.Equal(t, env.emb.calls(), 0)

	n, err := env.db.Count(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, n, 0)
}

func TestMemorizeIndexFailureKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Index = failingIndex{env.index}
	ctx := context.Background()

	id, err := env.engine.Memorize(ctx, "the spare key is under the mat")
	gt.Error(t, err)
	gt.True(t, id > 0)

	m, err := env.db.Get(ctx, id)
	gt.NoError(t, err)
	gt.V(t, m).NotNil()

	// the next sync repairs the gap
	env.engine.Index = env.index
	report, err := env.engine.Synchronize(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Indexed, 1)
}

func TestSynchronizeEmptyStore(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.engine.Synchronize(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, report, SyncReport{})
	gt.Equal(t, env.emb.calls(), 0)
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, content := range []string{"alpha", "beta", "gamma"} {
		_, err := env.db.Create(ctx, content)
		gt.NoError(t, err)
	}

	report, err := env.engine.Synchronize(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report, SyncReport{Total: 3, Indexed: 3})
	gt.Equal(t, env.emb.calls(), 3)

	report, err = env.engine.Synchronize(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report, SyncReport{Total: 3, Skipped: 3})
	// no re-embedding on the second pass
	gt.Equal(t, env.emb.calls(), 3)
}

func TestSynchronizeContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.emb.fail["broken"] = true

	for _, content := range []string{"first", "broken", "last"} {
		_, err := env.db.Create(ctx, content)
		gt.NoError(t, err)
	}

	report, err := env.engine.Synchronize(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report, SyncReport{Total: 3, Indexed: 2, Failed: 1})

	delete(env.emb.fail, "broken")
	report, err = env.engine.Synchronize(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report, SyncReport{Total: 3, Skipped: 2, Indexed: 1})
}

func TestSynchronizeReembedsAfterEmbedderChange(t *testing.T) {
	chromemIdx, err := index.NewMemory()
	gt.NoError(t, err)

	tests := []struct {
		name  string
		index func(env *testEnv) VectorIndex
	}{
		{name: "sqlite", index: func(env *testEnv) VectorIndex { return env.index }},
		{name: "chromem", index: func(*testEnv) VectorIndex { return chromemIdx }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := &recordingClassifier{all: true}
			env := newTestEnv(t, WithClassifier(cls))
			env.engine.Index = tt.index(env)
			ctx := context.Background()

			memorizeAll(t, env.engine, "garden hose in the shed", "tea kettle on the stove")

			// a different model with a different width, as when moving from the
			// offline fallback to a real embedding service
			next := newNamedEmbedder("ollama:nomic-embed-text", 64)
			env.engine.Embedder = next

			got, err := env.engine.Retrieve(ctx, []string{"garden hose shed"}, 1)
			gt.NoError(t, err)
			// old vectors are never compared against the new model's queries
			gt.A(t, got).Length(0)

			report, err := env.engine.Synchronize(ctx)
			gt.NoError(t, err)
			gt.Equal(t, report, SyncReport{Total: 2, Stale: 2, Indexed: 2})

			ids, err := env.engine.Index.ExistingIDs(ctx)
			gt.NoError(t, err)
			for _, model := range ids {
				gt.Equal(t, model, "ollama:nomic-embed-text")
			}

			got, err = env.engine.Retrieve(ctx, []string{"garden hose shed"}, 1)
			gt.NoError(t, err)
			gt.Equal(t, got, []string{"garden hose in the shed"})

			report, err = env.engine.Synchronize(ctx)
			gt.NoError(t, err)
			gt.Equal(t, report, SyncReport{Total: 2, Skipped: 2})
		})
	}
}

func TestSynchronizeHonoursCancellation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.db.Create(context.Background(), "alpha")
	gt.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.engine.Synchronize(ctx)
	gt.Error(t, err)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Memorize(ctx, "alpha")
	gt.NoError(t, err)
	_, err = env.db.Create(ctx, "beta")
	gt.NoError(t, err)

	s, err := env.engine.Stats(ctx)
	gt.NoError(t, err)
	gt.Equal(t, s, Stats{Memories: 2, Indexed: 1})

	// backends without Count report -1
	env.engine.Index = failingIndex{}
	s, err = env.engine.Stats(ctx)
	gt.NoError(t, err)
	gt.Equal(t, s.Indexed, -1)
}
