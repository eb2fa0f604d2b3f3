// Package embedding produces hashed bag-of-words vectors.
//
// The vectors only capture coarse lexical overlap. They are a placeholder
// similarity signal, not a learned embedding.
package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimension matches the size of the vector collection.
const DefaultDimension = 768

// MaxTokens caps how many tokens of a text contribute to its vector.
const MaxTokens = 100

// Embedder turns text into a fixed size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Embed returns the L2 normalized hashed token count vector of text. It is
// a pure function: the same text and dim always give bit-identical output.
// Empty text yields the zero vector.
func Embed(text string, dim int) []float32 {
	if dim <= 0 {
		return []float32{}
	}

	counts := make([]float64, dim)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) > MaxTokens {
		tokens = tokens[:MaxTokens]
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		counts[h.Sum64()%uint64(dim)] += 1.0
	}

	return normalized(counts)
}

// Mean averages two vectors of equal length and renormalizes the result.
func Mean(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, errors.New("embedding: dimension mismatch")
	}
	sum := make([]float64, len(a))
	for i := range a {
		sum[i] = (float64(a[i]) + float64(b[i])) / 2
	}
	return normalized(sum), nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func normalized(v []float64) []float32 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	out := make([]float32, len(v))
	n := math.Sqrt(s)
	for i, x := range v {
		if n > 0 {
			x /= n
		}
		out[i] = float32(x)
	}
	return out
}

// HashEmbedder adapts Embed to the Embedder interface.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder returns a HashEmbedder with the given dimension, falling
// back to DefaultDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Embed(text, e.Dim), nil
}

func (e *HashEmbedder) Dimension() int {
	return e.Dim
}
