package loopasm

import (
	"testing"

	"github.com/rasterjit/engine/pkg/dag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idGen(start int) func() int {
	id := start
	return func() int {
		id++
		return id
	}
}

func TestEnterRespectsNestLimit(t *testing.T) {
	a := New(1, idGen(0))
	require.NoError(t, a.Enter())
	assert.Error(t, a.Enter())
}

func TestAddIsNoopOutsideNestedMode(t *testing.T) {
	a := New(0, idGen(0))
	assert.Equal(t, NormalMode, a.Mode())
	a.Add(&dag.Node{ID: 1})
	require.NoError(t, a.Enter())
	assert.Equal(t, NestedMode, a.Mode())
	a.SetCond(&dag.Node{ID: 2})
	result, err := a.Assemble()
	require.NoError(t, err)
	assert.Empty(t, result.Loop.Body)
}

func TestAssembleWithoutCondFails(t *testing.T) {
	a := New(0, idGen(0))
	require.NoError(t, a.Enter())
	_, err := a.Assemble()
	assert.Error(t, err)
}

func TestAssembleProducesPairedLoopInputsAndOrderedSubNodes(t *testing.T) {
	a := New(0, idGen(100))
	require.NoError(t, a.Enter())

	initVal := &dag.Node{ID: 1, Kind: dag.KindAccess, Pattern: dag.LOCAL, Meta: dag.MetaData{BlockSize: 4, DataSize: 8}}
	bodyStep := &dag.Node{ID: 2, Kind: dag.KindLhsAccess, Pattern: dag.LOCAL, Meta: dag.MetaData{BlockSize: 4, DataSize: 8}}
	cond := &dag.Node{ID: 3, Kind: dag.KindAccess, Pattern: dag.LOCAL, Meta: dag.MetaData{BlockSize: 4, DataSize: 8}}

	a.AddCarried(initVal, bodyStep)
	a.SetCond(cond)
	a.Add(bodyStep)

	result, err := a.Assemble()
	require.NoError(t, err)
	require.NotNil(t, result.Loop)

	assert.Equal(t, dag.KindLoop, result.Loop.Kind)
	assert.Same(t, cond, result.Loop.Cond)
	assert.Equal(t, []*dag.Node{bodyStep}, result.Loop.Body)

	// Prev must be paired (feed-in, feed-out) so task.Loop.BlocksToLoad's
	// i, i+1 stride selects the right branch.
	require.Len(t, result.Loop.Prev, 2)
	assert.Equal(t, dag.KindMerge, result.Loop.Prev[0].Kind)
	assert.Equal(t, dag.KindSwitch, result.Loop.Prev[1].Kind)
	require.Len(t, result.Loop.BackList, 1)
	assert.Same(t, result.Loop.Prev[1], result.Loop.BackList[0])

	// Ordered must be cond, heads, feed-ins, feed-outs, tails.
	require.Len(t, result.Ordered, 5)
	assert.Same(t, cond, result.Ordered[0])
	assert.Equal(t, dag.KindHead, result.Ordered[1].Kind)
	assert.Equal(t, dag.KindMerge, result.Ordered[2].Kind)
	assert.Equal(t, dag.KindSwitch, result.Ordered[3].Kind)
	assert.Equal(t, dag.KindTail, result.Ordered[4].Kind)

	// The stack is empty again; Assembler is back in NormalMode.
	assert.Equal(t, NormalMode, a.Mode())
}

func TestAssembleWithNoOpenFrameFails(t *testing.T) {
	a := New(0, idGen(0))
	_, err := a.Assemble()
	assert.Error(t, err)
}
