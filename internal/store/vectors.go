package store

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// VectorIndex is a brute-force nearest-neighbour index over the memory_vectors table.
// It suits small personal stores; every query scans all vectors.
type VectorIndex struct {
	db *DB
}

// NewVectorIndex returns an index backed by db.
func NewVectorIndex(db *DB) *VectorIndex {
	return &VectorIndex{db: db}
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// Upsert stores or replaces the embedding for a memory, tagged with the model
// that produced it.
func (x *VectorIndex) Upsert(ctx context.Context, id int64, model string, embedding []float64, content string) error {
	if len(embedding) == 0 {
		return goerr.New("empty embedding", goerr.V("memory_id", id))
	}
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, content, embedding, dimensions, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET content = ?, embedding = ?, dimensions = ?, model = ?, created_at = ?
	`, id, content, blob, len(embedding), model, now,
		content, blob, len(embedding), model, now)
	if err != nil {
		return goerr.Wrap(err, "save vector", goerr.V("memory_id", id))
	}
	return nil
}

// ExistingIDs returns the model each indexed memory was embedded with, keyed by memory id.
func (x *VectorIndex) ExistingIDs(ctx context.Context) (map[int64]string, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT memory_id, model FROM memory_vectors")
	if err != nil {
		return nil, goerr.Wrap(err, "list vector ids")
	}
	defer rows.Close()

	ids := make(map[int64]string)
	for rows.Next() {
		var id int64
		var model string
		if err := rows.Scan(&id, &model); err != nil {
			return nil, goerr.Wrap(err, "scan vector id")
		}
		ids[id] = model
	}
	return ids, rows.Err()
}

// Nearest returns the contents of up to k memories embedded with model that are
// most similar to embedding, highest similarity first. Vectors of another model
// or dimension are ignored.
func (x *VectorIndex) Nearest(ctx context.Context, model string, embedding []float64, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx,
		"SELECT memory_id, content, embedding FROM memory_vectors WHERE model = ? ORDER BY memory_id",
		model,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "load vectors")
	}
	defer rows.Close()

	type scored struct {
		content    string
		similarity float64
	}
	var results []scored
	for rows.Next() {
		var id int64
		var content string
		var blob []byte
		if err := rows.Scan(&id, &content, &blob); err != nil {
			return nil, goerr.Wrap(err, "scan vector")
		}
		vec := decodeEmbedding(blob)
		if len(vec) != len(embedding) {
			continue
		}
		results = append(results, scored{content: content, similarity: CosineSimilarity(embedding, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate vectors")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].similarity > results[j].similarity
	})
	if len(results) > k {
		results = results[:k]
	}

	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.content
	}
	return contents, nil
}

// Count returns the number of indexed memories.
func (x *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_vectors").Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "count vectors")
	}
	return n, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Works on unnormalized vectors; returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
