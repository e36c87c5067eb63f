// Package fragment defines the atomic unit of knowledge persisted by a
// FragmentStore and consumed by VectorMemory.
package fragment

import (
	"time"

	"github.com/google/uuid"
)

// Fragment is the atomic unit of knowledge. Embeddings are nil when
// absent (legacy rows, or not yet generated).
type Fragment struct {
	ID         uuid.UUID
	Collection string
	Category   string
	Content    string

	// ContentLength caches len(Content) in bytes; redundant but kept
	// in sync on every write path for indexed statistics.
	ContentLength int

	CombinedEmbedding []float32
	CategoryEmbedding []float32
	ContentEmbedding  []float32

	// EmbeddingDimension records D at write time; zero when no
	// embedding has ever been written.
	EmbeddingDimension int

	SourceFile string
	ChunkIndex int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFragment builds a Fragment with a freshly generated ID and
// ContentLength kept consistent with Content.
func NewFragment(collection, category, content string) *Fragment {
	now := time.Now().UTC()
	return &Fragment{
		ID:            uuid.New(),
		Collection:    collection,
		Category:      category,
		Content:       content,
		ContentLength: len(content),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetContent updates Content, ContentLength, and UpdatedAt together.
// Embeddings are left untouched; callers must regenerate them via
// delete-then-insert instead.
func (f *Fragment) SetContent(content string) {
	f.Content = content
	f.ContentLength = len(content)
	f.UpdatedAt = time.Now().UTC()
}

// HasTripleEmbedding reports whether all three embeddings are present.
func (f *Fragment) HasTripleEmbedding() bool {
	return f.CategoryEmbedding != nil && f.ContentEmbedding != nil && f.CombinedEmbedding != nil
}

// HasAnyEmbedding reports whether at least the combined embedding (the
// legacy, pre-migration column) is present.
func (f *Fragment) HasAnyEmbedding() bool {
	return f.CombinedEmbedding != nil
}
