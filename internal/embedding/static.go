package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// StaticProvider is a deterministic, dependency-free embedder: each
// token of the input text is hashed into one of D buckets and
// accumulated, then the result is L2-normalized the way the CGO
// llama.cpp binding in the retrieval pack normalizes its output
// (other_examples' localllm.Model.Embed / normalize). It exists for
// tests and as the zero-dependency provider selected by
// embedding-provider=static (the default); it carries no semantic meaning across distinct
// vocabularies beyond exact and partial token overlap.
type StaticProvider struct {
	dim int
}

// NewStaticProvider returns a StaticProvider producing D-dimensional
// vectors.
func NewStaticProvider(dim int) *StaticProvider {
	return &StaticProvider{dim: dim}
}

func (p *StaticProvider) Dimension() int { return p.dim }

// ParallelSafe reports true: hashing is pure and allocates only local
// state.
func (p *StaticProvider) ParallelSafe() bool { return true }

func (p *StaticProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dim)
	if text == "" || p.dim == 0 {
		return vec, nil
	}

	token := make([]byte, 0, 32)
	flush := func() {
		if len(token) == 0 {
			return
		}
		h := fnv.New32a()
		_, _ = h.Write(token)
		bucket := int(h.Sum32()) % p.dim
		if bucket < 0 {
			bucket += p.dim
		}
		vec[bucket]++
		token = token[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			flush()
			continue
		}
		token = append(token, c)
	}
	flush()

	normalize(vec)
	return vec, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
}
