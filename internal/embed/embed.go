// Package embed turns source-code entities and search queries into
// fixed-dimension embedding vectors for semantic_code_search.
package embed

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Dim is the fixed embedding dimension every Encoder implementation
// must return.
const Dim = 384

// Encoder turns text into a fixed-dimension vector.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Config selects which Encoder NewEncoder builds.
type Config struct {
	Endpoint string        // CODEGRAPH_EMBEDDING_ENDPOINT; empty means local-only
	Model    string        // CODEGRAPH_EMBEDDING_MODEL
	Timeout  time.Duration // per-call timeout, defaults to 10s
}

// NewEncoder picks a RemoteEncoder when cfg.Endpoint is set, else a
// LocalEncoder. The remote encoder itself falls back to the local one
// on any transport error, so callers always get a best-effort vector.
func NewEncoder(cfg Config) Encoder {
	if cfg.Endpoint == "" {
		return &LocalEncoder{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	clientCfg := openai.DefaultConfig("")
	clientCfg.BaseURL = cfg.Endpoint
	return &RemoteEncoder{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		fallback: &LocalEncoder{},
	}
}

// RemoteEncoder calls an OpenAI-compatible embeddings endpoint, lazily
// using the client constructed by NewEncoder. Any transport or shape
// error falls back to the deterministic local encoder rather than
// failing the caller.
type RemoteEncoder struct {
	client   *openai.Client
	model    string
	timeout  time.Duration
	fallback *LocalEncoder
}

func (e *RemoteEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return e.fallback.Encode(ctx, text)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil || len(resp.Data) == 0 {
		return e.fallback.Encode(ctx, text)
	}

	vec := resp.Data[0].Embedding
	if !isValidVector(vec) {
		return e.fallback.Encode(ctx, text)
	}
	return resizeVector(vec, Dim), nil
}

// LocalEncoder is a deterministic feature-hashing encoder: n-gram
// tokens are hashed into Dim buckets and the result is L2-normalized.
// It requires no network call, so offline indexing and tests stay
// fully reproducible.
type LocalEncoder struct{}

func (e *LocalEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, Dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		bucket := int(h.Sum32() % uint32(Dim))
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, Dim)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// tokenize lowercases and splits on non-alphanumeric runs, then emits
// both the unigrams and their bigrams so near-duplicate phrasing still
// hashes into overlapping buckets.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	if len(fields) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(fields)*2-1)
	tokens = append(tokens, fields...)
	for i := 0; i+1 < len(fields); i++ {
		tokens = append(tokens, fields[i]+"_"+fields[i+1])
	}
	return tokens
}

// isValidVector rejects empty vectors and any containing NaN/Inf.
func isValidVector(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}

// resizeVector truncates or zero-pads v to exactly n dimensions.
func resizeVector(v []float32, n int) []float32 {
	if len(v) == n {
		return v
	}
	out := make([]float32, n)
	copy(out, v)
	return out
}

// EncodeVector packs a float32 vector into little-endian bytes for the
// nodes.embedding column.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks little-endian bytes back into a float32 vector.
// Returns nil if b isn't a whole number of float32s.
func DecodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
