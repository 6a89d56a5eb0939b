// Package index provides the chromem-go backed vector index for memories.
package index

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/philippgille/chromem-go"
)

const collectionName = "memories"

const modelKey = "model"

// Chromem is a Vector Index stored in a chromem-go collection. Document ids are
// decimal memory ids and each document carries its embedder model as metadata.
// chromem-go cannot enumerate ids, so the id to model map is kept alongside the
// collection in ids.json.
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
	persistDir string // empty for in-memory

	mu  sync.RWMutex
	ids map[int64]string

	// serializes ids.json rewrites so a stale snapshot never replaces a newer one
	saveMu sync.Mutex
}

// Open creates or reopens a persistent index in dir.
func Open(dir string) (*Chromem, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, goerr.Wrap(err, "create index dir", goerr.V("dir", dir))
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, goerr.Wrap(err, "open persistent vector db", goerr.V("dir", dir))
	}

	x, err := newChromem(db, dir)
	if err != nil {
		return nil, err
	}
	if err := x.loadIDs(); err != nil {
		return nil, err
	}
	return x, nil
}

// NewMemory creates an in-memory index for testing.
func NewMemory() (*Chromem, error) {
	return newChromem(chromem.NewDB(), "")
}

func newChromem(db *chromem.DB, dir string) (*Chromem, error) {
	col, err := db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, goerr.Wrap(err, "get or create collection")
	}
	return &Chromem{
		db:         db,
		collection: col,
		persistDir: dir,
		ids:        make(map[int64]string),
	}, nil
}

// refuseEmbedding is the collection's embedding func. Every document and query
// arrives with a precomputed embedding, so reaching it is a bug.
func refuseEmbedding(_ context.Context, text string) ([]float32, error) {
	return nil, goerr.New("vector index does not embed text", goerr.V("text", text))
}

// Upsert adds or replaces the document for id, tagged with model.
func (x *Chromem) Upsert(ctx context.Context, id int64, model string, embedding []float64, content string) error {
	if len(embedding) == 0 {
		return goerr.New("empty embedding", goerr.V("memory_id", id))
	}

	doc := chromem.Document{
		ID:        strconv.FormatInt(id, 10),
		Metadata:  map[string]string{modelKey: model},
		Content:   content,
		Embedding: toFloat32(embedding),
	}
	if err := x.collection.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "add document", goerr.V("memory_id", id))
	}

	x.mu.Lock()
	x.ids[id] = model
	x.mu.Unlock()

	return x.saveIDs()
}

// ExistingIDs returns the model each indexed memory was embedded with, keyed by memory id.
func (x *Chromem) ExistingIDs(_ context.Context) (map[int64]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make(map[int64]string, len(x.ids))
	for id, model := range x.ids {
		ids[id] = model
	}
	return ids, nil
}

// Nearest returns the contents of up to k documents embedded with model that
// are most similar to embedding, highest similarity first.
func (x *Chromem) Nearest(ctx context.Context, model string, embedding []float64, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	if x.countModel(model) == 0 {
		return nil, nil
	}
	// chromem-go rejects nResults above the collection size
	if count := x.collection.Count(); k > count {
		k = count
	}

	results, err := x.collection.QueryEmbedding(ctx, toFloat32(embedding), k, map[string]string{modelKey: model}, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "query collection", goerr.V("k", k), goerr.V("model", model))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Content
	}
	return contents, nil
}

func (x *Chromem) countModel(model string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := 0
	for _, m := range x.ids {
		if m == model {
			n++
		}
	}
	return n
}

// Count returns the number of indexed documents.
func (x *Chromem) Count(_ context.Context) (int, error) {
	return x.collection.Count(), nil
}

func (x *Chromem) idsPath() string {
	if x.persistDir == "" {
		return ""
	}
	return filepath.Join(x.persistDir, "ids.json")
}

func (x *Chromem) saveIDs() error {
	path := x.idsPath()
	if path == "" {
		return nil
	}

	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	x.mu.RLock()
	snapshot := make(map[string]string, len(x.ids))
	for id, model := range x.ids {
		snapshot[strconv.FormatInt(id, 10)] = model
	}
	x.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return goerr.Wrap(err, "encode index ids")
	}

	tmp, err := os.CreateTemp(x.persistDir, "ids-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "create index ids temp file", goerr.V("dir", x.persistDir))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "write index ids", goerr.V("path", tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "close index ids", goerr.V("path", tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "replace index ids", goerr.V("path", path))
	}
	return nil
}

// loadIDs reads ids.json. Files written before vectors were tagged hold a bare
// id list; those ids load with an empty model so the next sync re-embeds them.
func (x *Chromem) loadIDs() error {
	path := x.idsPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "read index ids", goerr.V("path", path))
	}

	ids := make(map[int64]string)
	var tagged map[string]string
	if err := json.Unmarshal(data, &tagged); err == nil {
		for key, model := range tagged {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return goerr.Wrap(err, "decode index id", goerr.V("path", path), goerr.V("id", key))
			}
			ids[id] = model
		}
	} else {
		var legacy []int64
		if err := json.Unmarshal(data, &legacy); err != nil {
			return goerr.Wrap(err, "decode index ids", goerr.V("path", path))
		}
		for _, id := range legacy {
			ids[id] = ""
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for id, model := range ids {
		x.ids[id] = model
	}
	return nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
