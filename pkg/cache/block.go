package cache

import (
	"sync"

	"github.com/rasterjit/engine/pkg/dag"
)

// Entry is one slot in the device-buffer pool.
type Entry struct {
	DevMem uintptr // opaque device buffer handle (see pkg/device.Ctx)
	Block  *Block  // weak back-pointer; nil when the entry is a free pool slot
	Dirty  bool

	lruPrev, lruNext *Entry // intrusive doubly linked LRU list
	used             bool   // true while linked out of the LRU list
}

// Block is the runtime representation of a Key.
type Block struct {
	Key   dag.Key
	Entry *Entry // nil unless HoldType(Key) == HOLD_N and retained

	Dependencies int32 // remaining notifications before use/eviction is legal
	Ready        bool  // data materialized
	Dirty        bool  // writes unflushed
	Used         int32 // refcount > 0 prevents eviction
	Order        int   // slot in output set, for reduction offset
	Value        float64
	Fixed        bool // true once Value is authoritative (HOLD_1 scalars)
	Hold         HoldType

	file     FileHandle
	spilled  bool
	notified bool

	mu sync.Mutex
}

// MarkUsed increments the use-count, pinning the block against eviction of
// its entry.
func (b *Block) MarkUsed() {
	b.mu.Lock()
	b.Used++
	b.mu.Unlock()
}

// Unuse decrements the use-count.
func (b *Block) Unuse() {
	b.mu.Lock()
	if b.Used > 0 {
		b.Used--
	}
	b.mu.Unlock()
}

// IsUsed reports whether the block is currently pinned.
func (b *Block) IsUsed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Used > 0
}

// Notify decrements Dependencies by n and reports whether it reached zero
// on this call (the trigger to enqueue successor jobs, §4.G).
func (b *Block) Notify(n int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notified {
		return false
	}
	b.Dependencies -= n
	if b.Dependencies <= 0 {
		b.notified = true
		return true
	}
	return false
}

// Discardable reports whether the block's dependencies have fully drained
// and it is safe to remove from the Cache's hash (§3 Lifecycles).
func (b *Block) Discardable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Dependencies <= 0 && b.Used == 0
}
