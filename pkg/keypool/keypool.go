// Package keypool provides a round-robin credential pool with failover,
// shared by every component that rotates across multiple provider keys
// (Chain RPC endpoints, parse-provider keys, swap-aggregator keys,
// price-oracle keys).
package keypool

import (
	"fmt"
	"sync/atomic"
)

// KeyPool rotates through a fixed set of keys, advancing on MarkFailed
// and holding position on success. It is safe for concurrent use.
type KeyPool struct {
	keys       []string
	currentIdx atomic.Uint32
}

// New creates a KeyPool from a non-empty slice of keys.
func New(keys []string) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one key is required")
	}
	return &KeyPool{keys: keys}, nil
}

// Current returns the currently active key.
func (p *KeyPool) Current() string {
	idx := p.currentIdx.Load() % uint32(len(p.keys))
	return p.keys[idx]
}

// Len returns the number of keys in the pool.
func (p *KeyPool) Len() int {
	return len(p.keys)
}

// MarkFailed advances the pool to the next key, reporting whether the
// cursor has wrapped back to the first key (index 0). That matches
// "every key tried this round" only when the round began at index 0.
func (p *KeyPool) MarkFailed() (wrapped bool) {
	old := p.currentIdx.Load()
	next := (old + 1) % uint32(len(p.keys))
	p.currentIdx.CompareAndSwap(old, next)
	return next == 0
}

// Exhausted reports whether failedAttempts has covered every key in the
// pool at least once, used by callers that need to distinguish
// "rotate and retry" from "all keys exhausted within this window".
func (p *KeyPool) Exhausted(failedAttempts int) bool {
	return failedAttempts >= len(p.keys)
}

// Do runs fn once per key, starting from the current key, advancing on
// error, until fn succeeds or every key has been tried. It returns the
// last error if all attempts failed.
func Do[T any](p *KeyPool, fn func(key string) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < p.Len(); i++ {
		key := p.Current()
		result, err := fn(key)
		if err == nil {
			return result, nil
		}
		lastErr = err
		p.MarkFailed()
	}
	return zero, fmt.Errorf("all %d keys exhausted, last error: %w", p.Len(), lastErr)
}
