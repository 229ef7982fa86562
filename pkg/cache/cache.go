package cache

import (
	"fmt"
	"sync"

	"github.com/rasterjit/engine/pkg/dag"
	apperrors "github.com/rasterjit/engine/pkg/errors"
	"github.com/rasterjit/engine/pkg/utils"
)

// DepOf computes the initial Dependencies count for a Key when its Block is
// first created, and HoldOf classifies its storage requirement. Both are
// supplied by the Task that owns the Key's node (§4.D).
type DepOf func(dag.Key) int32
type HoldOf func(dag.Key) HoldType

// Cache manages a fixed pool of Entries, a Key->Block hash, an LRU list of
// unused entries, and a file-spill map. Lock order is mtx_blk < mtx_lru <
// mtx_file (§4.E); any operation touching more than one acquires them in
// that order and never the reverse.
type Cache struct {
	mtxBlk  sync.Mutex
	mtxLru  sync.Mutex
	mtxFile sync.Mutex

	blkHash map[dag.Key]*Block

	entries          []*Entry
	lruHead, lruTail *Entry // sentinels; head side = MRU, tail side = victim
	entryCond        *sync.Cond

	fileHash  map[dag.Key]FileHandle
	fileCount int

	store  FileStore
	logger utils.Logger
}

// New creates a Cache with a fixed pool of poolSize entries.
func New(poolSize int, store FileStore, logger utils.Logger) *Cache {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	c := &Cache{
		blkHash:  make(map[dag.Key]*Block),
		fileHash: make(map[dag.Key]FileHandle),
		store:    store,
		logger:   logger,
	}
	c.entryCond = sync.NewCond(&c.mtxLru)

	c.lruHead = &Entry{}
	c.lruTail = &Entry{}
	c.lruHead.lruNext = c.lruTail
	c.lruTail.lruPrev = c.lruHead

	c.entries = make([]*Entry, poolSize)
	for i := range c.entries {
		e := &Entry{}
		c.entries[i] = e
		c.lruPushHead(e)
	}
	return c
}

// --- LRU list helpers (caller must hold mtxLru) ---

func (c *Cache) lruUnlink(e *Entry) {
	e.lruPrev.lruNext = e.lruNext
	e.lruNext.lruPrev = e.lruPrev
	e.lruPrev, e.lruNext = nil, nil
}

func (c *Cache) lruPushHead(e *Entry) {
	e.lruNext = c.lruHead.lruNext
	e.lruPrev = c.lruHead
	c.lruHead.lruNext.lruPrev = e
	c.lruHead.lruNext = e
}

func (c *Cache) lruPopTail() *Entry {
	if c.lruTail.lruPrev == c.lruHead {
		return nil
	}
	victim := c.lruTail.lruPrev
	c.lruUnlink(victim)
	return victim
}

// RequestBlocks returns the Block for each key, creating it if absent.
// Concurrent requesters for the same key share the same Block (§4.E
// invariant: at most one Block per Key at any instant; §8 property 2).
func (c *Cache) RequestBlocks(keys []dag.Key, depOf DepOf, holdOf HoldOf) []*Block {
	c.mtxBlk.Lock()
	defer c.mtxBlk.Unlock()

	blocks := make([]*Block, len(keys))
	for i, k := range keys {
		b, ok := c.blkHash[k]
		if !ok {
			b = &Block{
				Key:          k,
				Dependencies: depOf(k),
				Hold:         holdOf(k),
			}
			c.blkHash[k] = b
		}
		blocks[i] = b
	}
	return blocks
}

// RetainEntries ensures every HOLD_N block in blocks has a bound Entry,
// acquiring one via eviction if the pool is exhausted.
func (c *Cache) RetainEntries(blocks []*Block) error {
	for _, b := range blocks {
		if b.Hold != HOLD_N {
			continue
		}
		b.MarkUsed()
		if b.Entry != nil {
			continue
		}
		e, err := c.getEntry(b)
		if err != nil {
			return err
		}
		b.Entry = e
	}
	return nil
}

// getEntry pops an unused entry from the LRU tail, evicting its current
// backing Block if any, and binds it to b.
func (c *Cache) getEntry(b *Block) (*Entry, error) {
	c.mtxLru.Lock()
	e := c.lruPopTail()
	for e != nil && e.used {
		// Defensive: used entries must never be in the free list; if one
		// slipped through, skip it rather than violate "eviction never
		// picks a used entry" (§4.E invariant, §8 property 4).
		e = c.lruPopTail()
	}
	c.mtxLru.Unlock()

	if e == nil {
		return nil, apperrors.Wrap(apperrors.CodeCacheCapacityError,
			"no evictable entry in pool", fmt.Errorf("all %d entries in use", len(c.entries)))
	}

	if e.Block != nil {
		if err := c.evict(e); err != nil {
			return nil, err
		}
	}

	e.Block = b
	e.used = true

	if b.spilled {
		if err := c.reload(b); err != nil {
			return nil, err
		}
		b.Ready = true
		b.Dirty = false
	} else {
		b.Ready = false
	}
	return e, nil
}

// evict flushes e's current backing block to file if dirty, then detaches
// it, never picking a used entry (checked by the caller).
func (c *Cache) evict(e *Entry) error {
	old := e.Block
	if e.Dirty {
		if err := c.spill(old); err != nil {
			return err
		}
		e.Dirty = false
	}
	old.Entry = nil
	e.Block = nil
	return nil
}

func (c *Cache) spill(b *Block) error {
	if c.store == nil {
		return apperrors.Wrap(apperrors.CodeIOError, "spill requested with no FileStore configured", nil)
	}
	c.mtxFile.Lock()
	defer c.mtxFile.Unlock()

	handle, ok := c.fileHash[b.Key]
	if !ok {
		h, err := c.store.Open(b.Key.String())
		if err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "open spill file failed", err)
		}
		handle = h
		c.fileHash[b.Key] = handle
		c.fileCount++
	}
	// The actual element payload is produced by the DeviceCtx read-back in
	// the worker loop (out of scope here); this records the round-trip
	// bookkeeping the spec requires (§4.E, §8 property 5).
	if err := c.store.WriteBlock(handle, nil); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "write spill block failed", err)
	}
	b.spilled = true
	b.Dirty = false
	return nil
}

func (c *Cache) reload(b *Block) error {
	if c.store == nil {
		return apperrors.Wrap(apperrors.CodeIOError, "reload requested with no FileStore configured", nil)
	}
	c.mtxFile.Lock()
	handle, ok := c.fileHash[b.Key]
	c.mtxFile.Unlock()
	if !ok {
		return apperrors.Wrap(apperrors.CodeIOError, "reload of unspilled block", nil)
	}
	if _, err := c.store.ReadBlock(handle, nil); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "read spill block failed", err)
	}
	return nil
}

// ReturnBlocks is the dual of RetainEntries: decrements use-count, and when
// it reaches zero pushes the entry to the LRU head (warm-reuse side).
func (c *Cache) ReturnBlocks(blocks []*Block) {
	for _, b := range blocks {
		b.Unuse()
		if b.Hold != HOLD_N || b.Entry == nil {
			continue
		}
		if b.IsUsed() {
			continue
		}
		e := b.Entry
		c.mtxLru.Lock()
		e.used = false
		c.lruPushHead(e)
		c.entryCond.Signal()
		c.mtxLru.Unlock()
	}
}

// ReleaseBlock removes a Block from the hash once its dependencies have
// fully drained (§3 Lifecycles; §4.E point 4); its Entry, if any, becomes a
// pure pool slot again (it was already returned to the LRU by ReturnBlocks).
func (c *Cache) ReleaseBlock(key dag.Key) {
	c.mtxBlk.Lock()
	defer c.mtxBlk.Unlock()
	if b, ok := c.blkHash[key]; ok && b.Discardable() {
		delete(c.blkHash, key)
	}
}

// NotifyKey decrements the Dependencies of an already-created Block
// identified by key, without creating it if absent. LOOP tasks use this to
// drain the branch not taken on a given iteration, so its dependency count
// reaches zero and never blocks termination even though that branch's
// block was never loaded this round (§4.D LOOP, postStore).
func (c *Cache) NotifyKey(key dag.Key, n int32) bool {
	c.mtxBlk.Lock()
	b, ok := c.blkHash[key]
	c.mtxBlk.Unlock()
	if !ok {
		return false
	}
	return b.Notify(n)
}

// ReleaseEntries is named for symmetry with the worker loop pseudocode
// (§4.G); entry lifetime here is driven entirely by ReturnBlocks, so this
// is a no-op retained for interface parity with the spec's call sequence.
func (c *Cache) ReleaseEntries(blocks []*Block) {}

// Forward swaps the device-memory handle between an input and output Entry
// so that an identity passthrough or a taken Loop branch avoids a copy
// (§4.E Forwarding; §8 scenario S6). The input block is marked not-loaded
// so the next iteration's load step reloads it instead of reusing stale
// forwarded contents.
func (c *Cache) Forward(in, out *Block) error {
	if in.Entry == nil || out.Entry == nil {
		return apperrors.Wrap(apperrors.CodeInvariantViolation, "forward requires both blocks to hold entries", nil)
	}
	in.Entry.DevMem, out.Entry.DevMem = out.Entry.DevMem, in.Entry.DevMem
	in.Ready = false
	return nil
}

// LoadInputBlocks materializes blocks that are not yet Ready by reloading
// from file (if spilled) or leaving them for the DeviceCtx write path (out
// of scope). Blocks already Ready (e.g. forwarded) are left untouched.
func (c *Cache) LoadInputBlocks(blocks []*Block) error {
	for _, b := range blocks {
		if b.Ready || b.Hold != HOLD_N {
			continue
		}
		if b.spilled {
			if err := c.reload(b); err != nil {
				return err
			}
		}
		b.Ready = true
	}
	return nil
}

// InitOutputBlocks zeroes reduction scalars / marks dense output blocks
// ready-to-write.
func (c *Cache) InitOutputBlocks(blocks []*Block) {
	for _, b := range blocks {
		if b.Hold == HOLD_1 {
			b.Value = 0
		}
		b.Ready = true
	}
}

// ReduceOutputBlocks reads back atomic reductions (FOCAL+ZONAL, STATS); the
// actual device read-back is DeviceCtx's concern, out of scope here.
func (c *Cache) ReduceOutputBlocks(blocks []*Block) {}

// WriteOutputBlocks marks written output blocks dirty; the deferred
// eviction path (not this call) is what actually flushes to file, per the
// invariant that dirty entries are never silently dropped.
func (c *Cache) WriteOutputBlocks(blocks []*Block) {
	for _, b := range blocks {
		b.Dirty = true
		if b.Entry != nil {
			b.Entry.Dirty = true
		}
	}
}

// Stats reports pool occupancy for diagnostics and the CLI's `cache stats`
// subcommand.
type Stats struct {
	PoolSize    int
	BlocksAlive int
	FilesSpilled int
}

func (c *Cache) Stats() Stats {
	c.mtxBlk.Lock()
	alive := len(c.blkHash)
	c.mtxBlk.Unlock()

	c.mtxFile.Lock()
	files := c.fileCount
	c.mtxFile.Unlock()

	return Stats{PoolSize: len(c.entries), BlocksAlive: alive, FilesSpilled: files}
}
