// Package vectormemory implements triple-embedding ingestion and
// weighted-cosine retrieval against a fragmentstore.Store. Grounded
// on ai/vector's VectorService
// shape (StoreEmbedding/SearchSimilar), generalized from a single
// embedding to the category/content/combined weighted scheme, and on
// store/episodic_memory_embedding.go's options-validation idiom.
package vectormemory

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/hrygo/ragd/internal/config"
	"github.com/hrygo/ragd/internal/embedding"
	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/fragment"
	"github.com/hrygo/ragd/internal/fragmentstore"
	"github.com/hrygo/ragd/internal/metrics"
)

// Memory ingests fragments and answers weighted-cosine searches.
type Memory struct {
	store    *fragmentstore.Store
	embedder embedding.Provider
	dim      int
	metrics  *metrics.Metrics
}

// New wraps a store and an embedding provider. The provider is wrapped
// in a single-flight mutex unless it declares itself parallel-safe.
func New(store *fragmentstore.Store, embedder embedding.Provider) *Memory {
	return &Memory{
		store:    store,
		embedder: embedding.EnsureSerialized(embedder),
		dim:      embedder.Dimension(),
		metrics:  metrics.New(),
	}
}

// SetMetrics swaps in a Metrics instance whose WireTo has already been
// called against a live registerer, enabling search instrumentation.
func (m *Memory) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// SearchOptions configures Search. TopK defaults to 5 when zero;
// Weights default to 0.40/0.30/0.30 when all zero.
type SearchOptions struct {
	TopK            int
	MinScore        float64
	Collection      string
	DomainFilter    string
	MaxCharsPerHit  int
	IncludeMetadata bool
	Weights         config.Weights
}

func (o *SearchOptions) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.Weights == (config.Weights{}) {
		o.Weights = config.Weights{Category: 0.40, Content: 0.30, Combined: 0.30}
	}
}

// SaveFragments generates the category/content/combined embeddings for
// each fragment, then persists the batch in one transaction. If
// replaceExisting and the collection exists, it is deleted first.
func (m *Memory) SaveFragments(ctx context.Context, fragments []*fragment.Fragment, collection string, replaceExisting bool) error {
	if replaceExisting {
		exists, err := m.store.CollectionExists(ctx, collection)
		if err != nil {
			return err
		}
		if exists {
			if err := m.store.DeleteCollection(ctx, collection); err != nil {
				return err
			}
		}
	}

	for i, f := range fragments {
		f.Collection = collection
		f.ChunkIndex = i + 1

		strippedCategory := stripCategoryMarkers(f.Category)

		categoryEmb, err := m.embedder.Embed(ctx, strippedCategory)
		if err != nil {
			return errors.Wrap(errs.ErrEmbeddingFailed, err.Error())
		}
		contentEmb, err := m.embedder.Embed(ctx, f.Content)
		if err != nil {
			return errors.Wrap(errs.ErrEmbeddingFailed, err.Error())
		}
		combinedEmb, err := m.embedder.Embed(ctx, strippedCategory+"\n\n"+f.Content)
		if err != nil {
			return errors.Wrap(errs.ErrEmbeddingFailed, err.Error())
		}

		f.CategoryEmbedding = categoryEmb
		f.ContentEmbedding = contentEmb
		f.CombinedEmbedding = combinedEmb
		f.EmbeddingDimension = m.dim

		// Advisory memory-reclamation hint every two fragments; Go's GC
		// has no per-object free, so this is a best-effort nudge only.
		if (i+1)%2 == 0 {
			runtime.GC()
		}
	}

	return m.store.BulkInsert(ctx, fragments)
}

// Search returns nil when there is nothing to return (empty query,
// empty collection, or no hit clears the score/top-k filters).
func (m *Memory) Search(ctx context.Context, query string, opts SearchOptions) (*string, error) {
	start := time.Now()
	var hit bool
	defer func() { m.metrics.ObserveSearch(time.Since(start).Seconds(), hit) }()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	opts.applyDefaults()

	q, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errs.ErrEmbeddingFailed, err.Error())
	}

	fragments, err := m.store.LoadByCollection(ctx, opts.Collection)
	if err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		return nil, nil
	}

	hits := make([]scoredFragment, 0, len(fragments))
	for _, f := range fragments {
		s, err := weightedScore(q, f, opts.Weights)
		if err != nil {
			return nil, err
		}
		hits = append(hits, scoredFragment{frag: f, score: s})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if opts.DomainFilter != "" {
		tokens := domainTokens(opts.DomainFilter)
		filtered := hits[:0]
		for _, h := range hits {
			if categoryMatchesDomain(h.frag.Category, tokens) {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	var kept []scoredFragment
	for _, h := range hits {
		if h.score < opts.MinScore {
			continue
		}
		kept = append(kept, h)
		if len(kept) == opts.TopK {
			break
		}
	}

	if len(kept) == 0 {
		return nil, nil
	}

	hit = true
	rendered := renderHits(kept, opts)
	return &rendered, nil
}

type scoredFragment struct {
	frag  *fragment.Fragment
	score float64
}

// weightedScore scores a fragment against the query embedding: the
// full triple-weighted blend when all three embeddings are present,
// a plain cosine against the legacy combined embedding when only that
// exists, or 0 for a fragment with no embeddings at all.
func weightedScore(q []float32, f *fragment.Fragment, w config.Weights) (float64, error) {
	if !f.HasAnyEmbedding() && f.CategoryEmbedding == nil && f.ContentEmbedding == nil {
		return 0, nil
	}
	if f.HasTripleEmbedding() {
		catScore, err := Cosine(q, f.CategoryEmbedding)
		if err != nil {
			return 0, err
		}
		conScore, err := Cosine(q, f.ContentEmbedding)
		if err != nil {
			return 0, err
		}
		combScore, err := Cosine(q, f.CombinedEmbedding)
		if err != nil {
			return 0, err
		}
		return w.Category*catScore + w.Content*conScore + w.Combined*combScore, nil
	}
	if f.HasAnyEmbedding() {
		return Cosine(q, f.CombinedEmbedding)
	}
	return 0, nil
}

func renderHits(hits []scoredFragment, opts SearchOptions) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if opts.IncludeMetadata {
			fmt.Fprintf(&b, "[Relevance: %.3f]\n[%s]\n", h.score, h.frag.Category)
		}
		b.WriteString(truncate(h.frag.Content, opts.MaxCharsPerHit))
	}
	return b.String()
}

// truncate cuts s to at most maxChars runes, never splitting a
// multi-byte UTF-8 codepoint.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= maxChars {
			break
		}
		b.WriteRune(r)
		n++
	}
	b.WriteString("...")
	return b.String()
}

// Cosine computes cosine similarity with on-the-fly L2 normalization.
// Zero-magnitude vectors yield 0. Vectors of differing length fail
// with ErrDimensionMismatch.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(errs.ErrDimensionMismatch, "len(a)=%d len(b)=%d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// stripCategoryMarkers removes literal "##" markdown-heading markers
// and trims whitespace.
func stripCategoryMarkers(category string) string {
	return strings.TrimSpace(strings.ReplaceAll(category, "##", ""))
}

func domainTokens(filter string) []string {
	normalized := strings.ReplaceAll(filter, "-", " ")
	fields := strings.Fields(normalized)
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

func categoryMatchesDomain(category string, tokens []string) bool {
	normalizedCategory := strings.ToLower(strings.ReplaceAll(category, "-", " "))
	for _, t := range tokens {
		if strings.Contains(normalizedCategory, t) {
			return true
		}
	}
	return false
}
