package cli

import (
	"context"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/index"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
	"github.com/lazypower/recall/internal/store/postgres"
	"github.com/m-mizutani/goerr/v2"
)

// app holds the engine and the resources backing it.
type app struct {
	engine  *engine.Engine
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp builds the engine from cfg. On error every resource opened so far is
// released.
func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	logger := logging.From(ctx)

	// sqlite is opened lazily: it may back the store, the index, or both
	var sqliteDB *store.DB
	openSQLite := func() (*store.DB, error) {
		if sqliteDB != nil {
			return sqliteDB, nil
		}
		path := cfg.Database.Path
		if path == "" {
			p, err := store.DefaultDBPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		db, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		sqliteDB = db
		logger.Debug("sqlite opened", "path", path)
		return db, nil
	}

	var st engine.MemoryStore
	switch cfg.Database.Backend {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.Database.PostgresDSN())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { pg.Close() })
		st = pg
	default:
		db, err := openSQLite()
		if err != nil {
			return nil, err
		}
		st = db
	}

	var idx engine.VectorIndex
	switch cfg.Index.Backend {
	case "sqlite":
		db, err := openSQLite()
		if err != nil {
			return nil, err
		}
		idx = store.NewVectorIndex(db)
	default:
		dir := cfg.Index.Path
		if dir == "" {
			d, err := store.DefaultVectorDir()
			if err != nil {
				return nil, err
			}
			dir = d
		}
		ch, err := index.Open(dir)
		if err != nil {
			return nil, err
		}
		idx = ch
	}

	emb, err := newEmbedder(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithK(cfg.Engine.K),
		engine.WithCallTimeout(cfg.Engine.CallTimeout),
		engine.WithStreamTimeout(cfg.Engine.StreamTimeout),
	}
	if cfg.Classifier.CacheSize > 0 {
		cached, err := engine.NewCachedClassifier(&engine.LLMClassifier{LLM: client}, cfg.Classifier.CacheSize)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cached.Close)
		opts = append(opts, engine.WithClassifier(cached))
	}

	a.engine = engine.New(st, idx, emb, client, opts...)
	logger.Debug("engine ready",
		"store", cfg.Database.Backend,
		"index", cfg.Index.Backend,
		"embedder", emb.Model(),
		"provider", cfg.LLM.Provider,
	)
	return a, nil
}

// newEmbedder picks the configured embedder. An unreachable Ollama falls back
// to the offline hashing embedder.
func newEmbedder(ctx context.Context, cfg config.LLMConfig) (engine.Embedder, error) {
	switch cfg.Embedder {
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, goerr.New("gemini embedder requires GEMINI_API_KEY or config")
		}
		model := cfg.EmbeddingModel
		if model == "" {
			model = "gemini-embedding-001"
		}
		return engine.NewGeminiEmbedder(ctx, cfg.GeminiKey, model)
	case "hash":
		return engine.NewHashEmbedder(0), nil
	default:
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		if engine.ProbeOllama(ctx, cfg.OllamaURL, model) {
			return engine.NewOllamaEmbedder(cfg.OllamaURL, model, 768), nil
		}
		logging.From(ctx).Warn("ollama embedder unreachable, using hash embedder", "url", cfg.OllamaURL, "model", model)
		return engine.NewHashEmbedder(0), nil
	}
}
