package loader

import (
	"context"
	"slices"
	"sync"
)

type batchKey struct{}

// batch is the set of modules to activate once the outermost resolution
// returns. Nested resolutions sharing a context add to the same batch.
type batch struct {
	mu      sync.Mutex
	modules []int64
}

func (b *batch) add(module int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.modules, module) {
		b.modules = append(b.modules, module)
	}
}

func (b *batch) drain() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.modules
	b.modules = nil
	return out
}

func batchFrom(ctx context.Context) (*batch, bool) {
	b, ok := ctx.Value(batchKey{}).(*batch)
	return b, ok
}

func withBatch(ctx context.Context, b *batch) context.Context {
	return context.WithValue(ctx, batchKey{}, b)
}

// withoutBatch hides any enclosing batch so activations start their own.
func withoutBatch(ctx context.Context) context.Context {
	return context.WithValue(ctx, batchKey{}, nil)
}
