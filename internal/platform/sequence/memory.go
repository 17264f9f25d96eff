package sequence

import (
	"context"
	"fmt"
	"sync"
)

// MemoryAllocator is an in-process Allocator for tests and tooling.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]int)}
}

func (a *MemoryAllocator) Next(_ context.Context, prefix string, year int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := fmt.Sprintf("%s-%d", prefix, year)
	a.counters[key]++
	return Format(prefix, year, a.counters[key]), nil
}
