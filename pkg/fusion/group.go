// Package fusion turns a topologically ordered DAG into a list of fusible
// Groups, the clusters the Program compiles into Tasks (§4.C).
package fusion

import (
	"strings"

	"github.com/rasterjit/engine/pkg/dag"
)

// Group is a fused subgraph (cluster) that will become one Task.
type Group struct {
	ID        int
	Nodes     []*dag.Node
	Pattern   dag.Pattern // union of every member node's Pattern
	BlockSize int

	InputList  []*dag.Node // edges entering the group from outside
	OutputList []*dag.Node // member nodes with an external Next edge, or none at all (a DAG sink)
	BackList   []*dag.Node // loop back-edges (members whose Next re-enters the group)
}

func newGroup(id int, n *dag.Node) *Group {
	return &Group{
		ID:        id,
		Nodes:     []*dag.Node{n},
		Pattern:   n.Pattern,
		BlockSize: n.Meta.BlockSize,
	}
}

func (g *Group) add(n *dag.Node) {
	g.Nodes = append(g.Nodes, n)
	g.Pattern = g.Pattern.Union(n.Pattern)
}

// Signature is a canonical string over every member node's own signature,
// the Program's key for the in-process and persistent Version caches
// (§4.D, §2.NEW component J).
func (g *Group) Signature() string {
	parts := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		parts = append(parts, n.Signature())
	}
	return strings.Join(parts, ";")
}

func (g *Group) contains(n *dag.Node) bool {
	for _, m := range g.Nodes {
		if m == n {
			return true
		}
	}
	return false
}

// computeEdges fills InputList/OutputList/BackList from the finished
// membership, per §4.C's post-pass.
func (g *Group) computeEdges(groupOf map[*dag.Node]*Group) {
	g.InputList = nil
	g.OutputList = nil
	g.BackList = nil

	for _, n := range g.Nodes {
		for _, p := range n.Prev {
			if groupOf[p] != g {
				g.InputList = append(g.InputList, n)
				break
			}
		}
		// A node with no consumers at all is a sink of the whole DAG, not
		// just of this group, and is as much an output as one with an
		// external Next edge (it is what the caller ultimately reads).
		external := len(n.Next) == 0
		backEdge := false
		for _, c := range n.Next {
			if groupOf[c] != g {
				external = true
			} else {
				backEdge = true
			}
		}
		if external {
			g.OutputList = append(g.OutputList, n)
		}
		if backEdge && n.Kind == dag.KindLoop {
			g.BackList = append(g.BackList, n)
		}
	}
}
