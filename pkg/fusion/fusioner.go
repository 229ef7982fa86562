package fusion

import (
	"github.com/rasterjit/engine/pkg/collections"
	"github.com/rasterjit/engine/pkg/dag"
)

// representable enumerates the pattern combinations an existing Task
// skeleton can compile (§4.C, point 2). Combinations outside this table
// force a fresh group boundary.
var representable = map[dag.Pattern]bool{
	dag.LOCAL:                   true,
	dag.FOCAL:                   true,
	dag.FOCAL.Union(dag.ZONAL):  true,
	dag.ZONAL:                   true,
	dag.RADIAL:                  true,
	dag.RADIAL.Union(dag.LOCAL): true,
	dag.STATS:                   true,
	dag.LOOP:                    true,
	dag.LOOP.Union(dag.LOCAL):   true,
	dag.BARRIER:                 true,
	dag.SPREAD:                  true,
	dag.MERGE:                   true,
	dag.SWITCH:                  true,
}

// Fusioner partitions a topologically ordered node list into fusible
// Groups.
type Fusioner struct {
	groupOf map[*dag.Node]*Group
	groups  []*Group
	nextID  int

	// groupAdj records finalized inter-group edges (producer group id ->
	// consumer group id), used by the cycle check below.
	groupAdj map[int]map[int]bool

	visited *collections.VersionedBitset
}

// NewFusioner creates an empty Fusioner.
func NewFusioner() *Fusioner {
	return &Fusioner{
		groupOf:  make(map[*dag.Node]*Group),
		groupAdj: make(map[int]map[int]bool),
		visited:  collections.NewVersionedBitset(64),
	}
}

// Fuse clusters a topologically ordered node list into Groups. Ties (a node
// fits more than one predecessor's group) are broken by preferring the
// predecessor with fewest outputs, then lowest id (§4.C).
func (f *Fusioner) Fuse(topoOrder []*dag.Node) []*Group {
	for _, n := range topoOrder {
		candidate := f.pickMergeTarget(n)
		if candidate != nil {
			candidate.add(n)
			f.groupOf[n] = candidate
		} else {
			g := newGroup(f.nextID, n)
			f.nextID++
			f.groups = append(f.groups, g)
			f.groupOf[n] = g
		}
		f.recordInterGroupEdges(n)
	}

	for _, g := range f.groups {
		g.computeEdges(f.groupOf)
	}
	return f.groups
}

// pickMergeTarget returns the predecessor group n should join, or nil if n
// must start a fresh group.
func (f *Fusioner) pickMergeTarget(n *dag.Node) *Group {
	if n.Kind == dag.KindRadial || n.Kind == dag.KindLoop {
		// RADIAL/LOOP groups are singleton-seeded: they never join an
		// existing predecessor group directly; only compatible LOCAL
		// nodes may later join them (handled by the symmetric check
		// below when such a node is processed).
		return nil
	}

	var candidates []*Group
	seen := make(map[*Group]bool)
	for _, p := range n.Prev {
		g, ok := f.groupOf[p]
		if !ok || seen[g] {
			continue
		}
		seen[g] = true
		if f.canMerge(g, n) {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// OutputList is only filled by computeEdges after Fuse, so count each
	// candidate's current outputs from its members' Next edges instead.
	outputs := func(g *Group) int {
		count := 0
		for _, m := range g.Nodes {
			external := len(m.Next) == 0
			for _, c := range m.Next {
				if f.groupOf[c] != g {
					external = true
				}
			}
			if external {
				count++
			}
		}
		return count
	}
	best, bestOut := candidates[0], outputs(candidates[0])
	for _, g := range candidates[1:] {
		out := outputs(g)
		if out < bestOut || (out == bestOut && g.ID < best.ID) {
			best, bestOut = g, out
		}
	}
	return best
}

func (f *Fusioner) canMerge(g *Group, n *dag.Node) bool {
	if g.BlockSize != n.Meta.BlockSize {
		return false
	}
	if n.Pattern.Is(dag.BARRIER) {
		return false // BARRIER always forces a fresh group boundary
	}
	if g.Pattern.Is(dag.RADIAL) || g.Pattern.Is(dag.LOOP) {
		// Singleton-seeded groups only accept compatible LOCAL nodes.
		if n.Pattern != dag.LOCAL {
			return false
		}
	}
	union := g.Pattern.Union(n.Pattern)
	if !representable[union] {
		return false
	}
	return !f.wouldCycle(g, n)
}

// wouldCycle reports whether merging n into g would induce a cycle across
// groups: true iff g can already reach (is upstream of) some other group
// that also feeds n, which would require a back-edge from that group into
// g once n is merged.
func (f *Fusioner) wouldCycle(g *Group, n *dag.Node) bool {
	for _, p := range n.Prev {
		other, ok := f.groupOf[p]
		if !ok || other == g {
			continue
		}
		if f.reaches(g, other) {
			return true
		}
	}
	return false
}

func (f *Fusioner) reaches(from, to *Group) bool {
	if from == to {
		return true
	}
	f.visited.Reset()
	stack := []int{from.ID}
	f.visited.Set(from.ID)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range f.groupAdj[cur] {
			if next == to.ID {
				return true
			}
			if !f.visited.Test(next) {
				f.visited.Set(next)
				stack = append(stack, next)
			}
		}
	}
	return false
}

func (f *Fusioner) recordInterGroupEdges(n *dag.Node) {
	g := f.groupOf[n]
	for _, p := range n.Prev {
		pg, ok := f.groupOf[p]
		if !ok || pg == g {
			continue
		}
		if f.groupAdj[pg.ID] == nil {
			f.groupAdj[pg.ID] = make(map[int]bool)
		}
		f.groupAdj[pg.ID][g.ID] = true
	}
}

// GroupOf returns the group a node was assigned to, after Fuse.
func (f *Fusioner) GroupOf(n *dag.Node) *Group {
	return f.groupOf[n]
}
