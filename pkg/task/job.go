// Package task turns a fusion.Group into a compiled, schedulable Task:
// the pattern-specific block-dependency and compute policies of §4.D.
package task

import (
	"fmt"

	"github.com/rasterjit/engine/pkg/cache"
	"github.com/rasterjit/engine/pkg/dag"
)

// Job is a unit of work: (task, coord, iter). The scheduler's queue
// element.
type Job struct {
	TaskID int
	Coord  dag.Coord
	Iter   int
}

func (j Job) String() string {
	return fmt.Sprintf("task=%d coord=%s iter=%d", j.TaskID, j.Coord, j.Iter)
}

// KeyDep pairs a block Key with the HoldType and Dependencies count the
// Cache needs to create it (§4.E requestBlocks).
type KeyDep struct {
	Key          dag.Key
	Hold         cache.HoldType
	Dependencies int32
}
