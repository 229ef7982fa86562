package cache

import (
	"testing"

	"github.com/rasterjit/engine/pkg/dag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memHandle struct{ key string }

type memFileStore struct {
	data map[string][]byte
}

func newMemFileStore() *memFileStore { return &memFileStore{data: make(map[string][]byte)} }

func (m *memFileStore) Open(key string) (FileHandle, error) { return &memHandle{key: key}, nil }

func (m *memFileStore) WriteBlock(handle FileHandle, src []byte) error {
	h := handle.(*memHandle)
	m.data[h.key] = []byte("payload:" + h.key)
	return nil
}

func (m *memFileStore) ReadBlock(handle FileHandle, dst []byte) (int, error) {
	h := handle.(*memHandle)
	_, ok := m.data[h.key]
	if !ok {
		return 0, nil
	}
	return len(m.data[h.key]), nil
}

func (m *memFileStore) Close(handle FileHandle) error { return nil }

func denseKey(id int) dag.Key { return dag.Key{NodeID: id, Coord: dag.Coord{}, Iter: 0} }

func holdN(dag.Key) HoldType  { return HOLD_N }
func depZero(dag.Key) int32   { return 0 }

func TestRequestBlocksSharedIdentity(t *testing.T) {
	c := New(4, nil, nil)
	k := denseKey(1)
	b1 := c.RequestBlocks([]dag.Key{k}, depZero, holdN)[0]
	b2 := c.RequestBlocks([]dag.Key{k}, depZero, holdN)[0]
	assert.Same(t, b1, b2, "concurrent requesters for the same key must share the Block")
	assert.Equal(t, k, b1.Key)
}

func TestEntryBlockBackPointerInvariant(t *testing.T) {
	c := New(2, nil, nil)
	b := c.RequestBlocks([]dag.Key{denseKey(1)}, depZero, holdN)[0]
	require.NoError(t, c.RetainEntries([]*Block{b}))
	require.NotNil(t, b.Entry)
	assert.Same(t, b, b.Entry.Block)
}

func TestEvictionNeverPicksUsedEntry(t *testing.T) {
	c := New(1, newMemFileStore(), nil)
	b1 := c.RequestBlocks([]dag.Key{denseKey(1)}, depZero, holdN)[0]
	require.NoError(t, c.RetainEntries([]*Block{b1}))
	assert.True(t, b1.IsUsed())

	// Only one entry exists and it is pinned by b1; requesting a second
	// dense block must fail rather than evict the used entry.
	b2 := c.RequestBlocks([]dag.Key{denseKey(2)}, depZero, holdN)[0]
	err := c.RetainEntries([]*Block{b2})
	assert.Error(t, err)
}

// TestCacheEvictionSpillRoundTrip mirrors scenario S5: pool of 2 entries,
// three distinct dense blocks requested in sequence with writes, then the
// first is re-requested after eviction.
func TestCacheEvictionSpillRoundTrip(t *testing.T) {
	store := newMemFileStore()
	c := New(2, store, nil)

	var blocks []*Block
	for i := 1; i <= 3; i++ {
		b := c.RequestBlocks([]dag.Key{denseKey(i)}, depZero, holdN)[0]
		require.NoError(t, c.RetainEntries([]*Block{b}))
		c.WriteOutputBlocks([]*Block{b})
		c.ReturnBlocks([]*Block{b}) // release use so the pool can recycle it
		blocks = append(blocks, b)
	}

	// The first block's entry must have been evicted (pool size 2, three
	// requests) and spilled since it was dirty.
	assert.True(t, blocks[0].spilled, "first block should have been spilled on eviction")

	// Re-request reloads it.
	reRequested := c.RequestBlocks([]dag.Key{denseKey(1)}, depZero, holdN)[0]
	assert.Same(t, blocks[0], reRequested)
	require.NoError(t, c.RetainEntries([]*Block{reRequested}))
	assert.True(t, reRequested.Ready)
}

func TestForwardSwapsDevMemAndInvalidatesInputReady(t *testing.T) {
	c := New(2, nil, nil)
	in := c.RequestBlocks([]dag.Key{denseKey(1)}, depZero, holdN)[0]
	out := c.RequestBlocks([]dag.Key{denseKey(2)}, depZero, holdN)[0]
	require.NoError(t, c.RetainEntries([]*Block{in, out}))

	in.Entry.DevMem = 0xAA
	out.Entry.DevMem = 0xBB
	in.Ready = true

	require.NoError(t, c.Forward(in, out))
	assert.Equal(t, uintptr(0xAA), out.Entry.DevMem)
	assert.Equal(t, uintptr(0xBB), in.Entry.DevMem)
	assert.False(t, in.Ready)
}

// TestNotifyKeyDrainsMultiConsumerBlockThenReleaseBlockRemovesIt mirrors a
// node with two distinct downstream consumers: the producing job's own
// Notify(1) alone isn't enough to drain Dependencies, but a second NotifyKey
// call (standing in for the second consumer's read) finishes the job and
// ReleaseBlock can then remove it instead of leaking it in blkHash forever.
func TestNotifyKeyDrainsMultiConsumerBlockThenReleaseBlockRemovesIt(t *testing.T) {
	c := New(2, nil, nil)
	k := denseKey(1)
	depTwo := func(dag.Key) int32 { return 2 }
	b := c.RequestBlocks([]dag.Key{k}, depTwo, holdN)[0]

	assert.False(t, b.Notify(1), "one of two consumers notifying must not drain Dependencies yet")
	c.ReleaseBlock(k)
	still, ok := c.blkHash[k]
	require.True(t, ok, "block must survive while a consumer has not yet notified")
	assert.Same(t, b, still)

	assert.True(t, c.NotifyKey(k, 1), "the second consumer's notify must cross zero")
	c.ReleaseBlock(k)
	_, ok = c.blkHash[k]
	assert.False(t, ok, "a block with all consumers notified must be removed from the hash")
}

func TestReleaseBlockRemovesDrainedBlockFromHash(t *testing.T) {
	c := New(2, nil, nil)
	k := denseKey(1)
	b := c.RequestBlocks([]dag.Key{k}, depZero, holdN)[0]
	b.Dependencies = 0

	c.ReleaseBlock(k)
	b2 := c.RequestBlocks([]dag.Key{k}, depZero, holdN)[0]
	assert.NotSame(t, b, b2, "a fully-drained block must be removed from the hash, not reused")
}
