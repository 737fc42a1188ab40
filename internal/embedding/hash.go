package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider produces deterministic embeddings by hashing word and
// character trigram features into a fixed-size vector. It needs no
// network or model and is stable across runs, which makes it the
// offline default and the test provider. Semantically weaker than a
// model embedding, but token overlap still maps to vector proximity.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a hashing provider with the given dimensions.
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 256
	}

	return &HashProvider{dimensions: dimensions}
}

// Embed hashes token and trigram features into a normalized vector.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, p.dimensions)

	for _, feature := range features(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum32()

		idx := int(sum % uint32(p.dimensions))

		// High bit decides sign so features cancel rather than only
		// accumulate, keeping unrelated texts near-orthogonal.
		if sum&0x80000000 != 0 {
			vector[idx]--
		} else {
			vector[idx]++
		}
	}

	normalize(vector)

	return vector, nil
}

// Dimensions returns the vector size.
func (p *HashProvider) Dimensions() int {
	return p.dimensions
}

// Name returns the provider name for identification.
func (p *HashProvider) Name() string {
	return "hash"
}

// features extracts lowercase word tokens plus character trigrams of
// each token, so cryptic legacy names like po_vend still share signal
// with "vendor" via partial overlap.
func features(text string) []string {
	tokens := Tokenize(text)

	var feats []string
	for _, token := range tokens {
		feats = append(feats, token)

		runes := []rune(token)
		for i := 0; i+3 <= len(runes); i++ {
			feats = append(feats, "3g:"+string(runes[i:i+3]))
		}
	}

	return feats
}

// Tokenize lowercases text and splits on any non-alphanumeric rune.
// Shared with the lexical fallback ranking so both score the same
// token stream.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vector []float32) {
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return
	}

	norm = math.Sqrt(norm)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}
}

// Cosine computes cosine similarity between two vectors of equal
// length. Returns 0 for mismatched or zero vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
