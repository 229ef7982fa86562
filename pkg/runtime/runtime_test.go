package runtime

import (
	"context"
	"testing"

	"github.com/rasterjit/engine/pkg/dag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEvaluateLocalChainRunsToCompletion builds a tiny a+b style LOCAL
// chain (two Access inputs feeding one LhsAccess output over a 2x2 block
// grid) and drives it through Compile/Evaluate end to end.
func TestEvaluateLocalChainRunsToCompletion(t *testing.T) {
	a := &dag.Node{ID: 1, Kind: dag.KindAccess, Pattern: dag.LOCAL, Op: "a",
		Meta: dag.MetaData{BlockSize: 4, DataSize: 8}}
	b := &dag.Node{ID: 2, Kind: dag.KindAccess, Pattern: dag.LOCAL, Op: "b",
		Meta: dag.MetaData{BlockSize: 4, DataSize: 8}}
	out := &dag.Node{ID: 3, Kind: dag.KindLhsAccess, Pattern: dag.LOCAL, Op: "+",
		Meta: dag.MetaData{BlockSize: 4, DataSize: 8}}
	dag.AddEdge(a, out)
	dag.AddEdge(b, out)

	rt := New(Config{NumMachines: 1, NumDevices: 1, NumRanks: 2, CacheEntryCount: 16}, nil, nil, nil, nil)
	for _, n := range []*dag.Node{a, b, out} {
		rt.AddNode(n, nil)
	}

	ctx := context.Background()
	require.NoError(t, rt.Compile(ctx, []*dag.Node{a, b, out}))
	require.NoError(t, rt.Evaluate(ctx))

	metrics := rt.Metrics()
	assert.Greater(t, metrics.CompletedTasks, int64(0))
	assert.Equal(t, int64(0), metrics.FailedTasks)

	stats := rt.Cache().Stats()
	assert.Equal(t, 16, stats.PoolSize)
}
