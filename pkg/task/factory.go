package task

import (
	"github.com/rasterjit/engine/pkg/dag"
	"github.com/rasterjit/engine/pkg/fusion"
)

// New instantiates the concrete Task subtype matching g's dominant pattern
// (§4.D: "the Program instantiates a concrete Task subtype selected by the
// group's dominant pattern").
func New(id int, g *fusion.Group) Task {
	switch {
	case g.Pattern.Is(dag.LOOP):
		return NewLoop(id, g)
	case g.Pattern.Is(dag.RADIAL):
		return NewRadial(id, g)
	case g.Pattern.IsFocalZonal():
		return NewFocalZonal(id, g)
	case g.Pattern.Is(dag.FOCAL):
		return NewFocal(id, g)
	default:
		return NewLocal(id, g)
	}
}
