package embedding

import "context"

// ParallelSafe is implemented by providers that are safe to call from
// many goroutines at once. Providers that don't implement it are
// assumed single-flight safe but not necessarily parallel-safe.
type ParallelSafe interface {
	ParallelSafe() bool
}

// EnsureSerialized wraps p in a single-flight mutex unless p declares
// itself ParallelSafe, so that VectorMemory never issues concurrent
// Embed calls against a provider that cannot handle them.
func EnsureSerialized(p Provider) Provider {
	if ps, ok := p.(ParallelSafe); ok && ps.ParallelSafe() {
		return p
	}
	return &serialized{inner: p, mu: make(chan struct{}, 1)}
}

type serialized struct {
	inner Provider
	mu    chan struct{}
}

func (s *serialized) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case s.mu <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.mu }()

	return s.inner.Embed(ctx, text)
}

func (s *serialized) Dimension() int { return s.inner.Dimension() }
