package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderDeterministic(t *testing.T) {
	p := NewStaticProvider(32)
	a, err := p.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticProviderL2Normalized(t *testing.T) {
	p := NewStaticProvider(16)
	v, err := p.Embed(context.Background(), "some text with several distinct tokens")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}

func TestStaticProviderEmptyTextYieldsZeroVector(t *testing.T) {
	p := NewStaticProvider(8)
	v, err := p.Embed(context.Background(), "")
	require.NoError(t, err)
	for _, x := range v {
		assert.Equal(t, float32(0), x)
	}
}

func TestStaticProviderIsParallelSafe(t *testing.T) {
	p := NewStaticProvider(8)
	assert.True(t, p.ParallelSafe())
}

func TestEnsureSerializedPassesThroughParallelSafeProvider(t *testing.T) {
	p := NewStaticProvider(8)
	got := EnsureSerialized(p)
	assert.Same(t, p, got)
}
