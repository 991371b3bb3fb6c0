// Package compilecache caches compiled wazero modules so that many guest
// instantiations of the same module bytes only pay wazero's compilation
// cost once (spec §4.4: "pre-instantiation is a cheap clone of the
// compiled module").
package compilecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
)

// Key is the content hash compiled modules are cached under.
type Key string

// KeyForBytes derives a Key from a guest module's raw wasm bytes.
func KeyForBytes(wasmBytes []byte) Key {
	sum := sha256.Sum256(wasmBytes)
	return Key(hex.EncodeToString(sum[:]))
}

// Cache is a process-wide, size-bounded cache from Key to a compiled
// module. Safe for concurrent use - the module registry compiles and
// instantiates modules from many goroutines (spec §5: "multi-threaded at
// the module registry").
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[Key, wazero.CompiledModule]
}

// New returns a Cache holding at most size compiled modules. Evicted
// entries have Close called on them so wazero can release their
// compiled-code memory.
func New(size int) (*Cache, error) {
	c := &Cache{}
	l, err := lru.NewWithEvict(size, func(_ Key, mod wazero.CompiledModule) {
		_ = mod.Close(context.Background())
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// GetOrCompile returns the cached compiled module for key, compiling
// wasmBytes with r.CompileModule and storing the result if it isn't
// already cached.
func (c *Cache) GetOrCompile(ctx context.Context, key Key, wasmBytes []byte, r wazero.Runtime) (wazero.CompiledModule, error) {
	c.mu.Lock()
	if mod, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		return mod, nil
	}
	c.mu.Unlock()

	mod, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.lru.Get(key); ok {
		// Another goroutine compiled the same module concurrently; keep
		// the one already cached and close our redundant copy.
		_ = mod.Close(ctx)
		return existing, nil
	}
	c.lru.Add(key, mod)
	return mod, nil
}

// Len reports how many compiled modules are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
