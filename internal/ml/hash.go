package ml

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashProvider is a local, deterministic sentence encoder. Every token is
// mapped to a pseudo-random +-1 projection seeded by its FNV hash, token
// projections are summed and the sum is L2 normalised. Sentences that share
// words get correlated vectors, which is enough signal for offline runs and
// tests without a model server.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a hash encoder producing dim-length vectors.
func NewHashProvider(dim int) *HashProvider {
	return &HashProvider{dim: dim}
}

// Name implements Provider.
func (h *HashProvider) Name() string {
	return fmt.Sprintf("hash/%d", h.dim)
}

// Embed implements Provider.
func (h *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.encode(text)
	}
	return out, nil
}

func (h *HashProvider) encode(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		state := f.Sum64()

		for j := 0; j < h.dim; j += 64 {
			bits := splitmix64(&state)
			for k := 0; k < 64 && j+k < h.dim; k++ {
				if bits&(1<<uint(k)) != 0 {
					vec[j+k]++
				} else {
					vec[j+k]--
				}
			}
		}
	}
	return l2Normalize(vec)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// splitmix64 advances state and returns the next 64 pseudo-random bits.
func splitmix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
