package program

import (
	"strings"
	"testing"

	"github.com/rasterjit/engine/pkg/dag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
	"nodes": [
		{"id": 1, "kind": "Access", "op": "a", "pattern": ["LOCAL"], "meta": {"data_size": 8, "block_size": 4}},
		{"id": 2, "kind": "Access", "op": "b", "pattern": ["LOCAL"], "meta": {"data_size": 8, "block_size": 4}},
		{"id": 3, "kind": "LhsAccess", "op": "+", "pattern": ["LOCAL"], "prev": [1, 2], "meta": {"data_size": 8, "block_size": 4}}
	]
}`

func TestLoadAndBuildChain(t *testing.T) {
	d, err := Load(strings.NewReader(sampleJSON))
	require.NoError(t, err)
	require.Len(t, d.Nodes, 3)

	nodes, err := Build(d)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	out := nodes[2]
	assert.Equal(t, dag.KindLhsAccess, out.Kind)
	require.Len(t, out.Prev, 2)
	assert.Equal(t, 1, out.Prev[0].ID)
	assert.Equal(t, 2, out.Prev[1].ID)
	assert.True(t, out.Pattern.Is(dag.LOCAL))
}

func TestBuildRejectsForwardReference(t *testing.T) {
	const badJSON = `{"nodes": [{"id": 1, "kind": "Access", "pattern": ["LOCAL"], "prev": [2], "meta": {"data_size": 8, "block_size": 4}}]}`
	d, err := Load(strings.NewReader(badJSON))
	require.NoError(t, err)
	_, err = Build(d)
	assert.Error(t, err)
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	const badJSON = `{"nodes": [{"id": 1, "kind": "Mystery", "pattern": ["LOCAL"], "meta": {"data_size": 8, "block_size": 4}}]}`
	d, err := Load(strings.NewReader(badJSON))
	require.NoError(t, err)
	_, err = Build(d)
	assert.Error(t, err)
}
