package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// OllamaEmbedder uses Ollama's embedding API.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends text to Ollama's embed endpoint and returns the embedding vector.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": text,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "create embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "ollama embed api", goerr.V("url", o.url))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "read embed response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("ollama embed error", goerr.V("status", resp.StatusCode), goerr.V("body", string(respBody)))
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, goerr.Wrap(err, "decode embed response")
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, goerr.New("ollama returned no embeddings", goerr.V("model", o.model))
	}

	o.dims = len(result.Embeddings[0])
	return result.Embeddings[0], nil
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(ctx context.Context, url, model string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	body, _ := json.Marshal(map[string]any{
		"model": model,
		"input": "test",
	})
	req, err := http.NewRequestWithContext(ctx, "POST", url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GeminiEmbedder uses the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiEmbedder creates an embedder for the Gemini Developer API.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

func (g *GeminiEmbedder) Model() string   { return "gemini:" + g.model }
func (g *GeminiEmbedder) Dimensions() int { return g.dims }

// Embed returns the Gemini embedding of text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.model))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("gemini returned no embeddings", goerr.V("model", g.model))
	}

	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	g.dims = len(vec)
	return vec, nil
}

// HashEmbedder is an offline fallback that hashes tokens into a fixed number of
// buckets. It needs no corpus, so a memory's vector never changes once stored.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder with dims buckets (default 512).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 512
	}
	return &HashEmbedder{dims: dims}
}

// Model includes the bucket count; vectors of different widths never compare.
func (h *HashEmbedder) Model() string   { return fmt.Sprintf("hash:%d", h.dims) }
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed builds a sublinear term-frequency vector over hashed tokens, L2 normalized.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)

	tf := make(map[string]int)
	for _, tok := range tokenize(text) {
		tf[tok]++
	}
	if len(tf) == 0 {
		// keep the vector non-zero so cosine similarity stays defined
		vec[h.dims-1] = 1
		return vec, nil
	}

	for term, count := range tf {
		hs := fnv.New64a()
		hs.Write([]byte(term))
		sum := hs.Sum64()

		bucket := int(sum % uint64(h.dims))
		weight := 1 + math.Log(float64(count))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[bucket] += weight
	}

	normalize(vec)
	return vec, nil
}

// tokenize splits text into lowercase tokens of letters and digits from any
// script, stripping punctuation. Runs of ideographs or kana are written without
// spaces, so they are split into overlapping rune pairs instead.
func tokenize(text string) []string {
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) > 1 { // skip single-char tokens
			if hasIdeograph(current) {
				for i := 0; i+1 < len(current); i++ {
					tokens = append(tokens, string(current[i:i+2]))
				}
			} else {
				tokens = append(tokens, string(current))
			}
		}
		current = current[:0]
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			current = append(current, unicode.ToLower(r))
		case r == '-' || r == '_':
			current = append(current, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func hasIdeograph(runes []rune) bool {
	for _, r := range runes {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
