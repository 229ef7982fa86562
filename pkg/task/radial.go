package task

import (
	"fmt"
	"sync"

	"github.com/rasterjit/engine/pkg/cache"
	"github.com/rasterjit/engine/pkg/dag"
	"github.com/rasterjit/engine/pkg/fusion"
)

// radialOffsets are the 8 compass/diagonal steps a wave propagates through
// per completed coord, grounded on RadiatingTask.cpp's sector dispatch.
var radialOffsets = []dag.Coord{
	{X: 0, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 0}, {X: 1, Y: 1},
	{X: 0, Y: 1}, {X: -1, Y: 1}, {X: -1, Y: 0}, {X: -1, Y: -1},
}

// Radial propagates jobs outward from a scan start coordinate; each coord's
// intra-dependency count reflects how many of the 8 neighbor directions can
// actually notify it (§4.D RADIAL).
type Radial struct {
	base
	scan dag.Coord

	mu      sync.Mutex
	pending map[dag.Coord]int32
}

// NewRadial constructs a RADIAL task seeded from its single Radial member
// node's scan start.
func NewRadial(id int, g *fusion.Group) *Radial {
	r := &Radial{base: newBase(id, g), pending: make(map[dag.Coord]int32)}
	for _, n := range g.Nodes {
		if n.Kind == dag.KindRadial {
			r.scan = n.ScanStart
			break
		}
	}
	grid := r.numBlockGrid()
	iterateGrid(grid, func(c dag.Coord) {
		r.pending[c] = selfIntraDepends(r.scan, c)
	})
	return r
}

// selfIntraDepends gates a coord's own job on the number of strictly-closer
// 8-neighbor completions SelfJobs actually delivers to it: 0 at the scan
// start (seeded directly by InitialJobs, nothing to wait on), 1 when the
// coord shares an axis with start (only the straight-line neighbor closer to
// start notifies it), 3 otherwise (RadiatingTask.cpp selfIntraDepends).
func selfIntraDepends(start, c dag.Coord) int32 {
	dx, dy := c.X-start.X, c.Y-start.Y
	switch {
	case dx == 0 && dy == 0:
		return 0
	case dx == 0 || dy == 0:
		return 1
	default:
		return 3
	}
}

func (t *Radial) BlocksToLoad(job Job) []KeyDep {
	var keys []KeyDep
	for _, n := range t.group.InputList {
		for _, p := range n.Prev {
			keys = append(keys, KeyDep{
				Key:          dag.Key{NodeID: p.ID, Coord: job.Coord, Iter: job.Iter},
				Hold:         cache.HOLD_N,
				Dependencies: 1,
			})
		}
	}
	return keys
}

func (t *Radial) BlocksToStore(job Job) []KeyDep {
	return outKeys(t.outputs, job.Coord, job.Iter)
}

// InitialJobs seeds exactly the scan start coord; every other coord is
// unlocked later by SelfJobs.
func (t *Radial) InitialJobs() []Job {
	return []Job{{TaskID: t.id, Coord: t.scan}}
}

// SelfJobs notifies every coord one step farther from the scan start than
// done, releasing it once its intra-dependency count is fully drained.
func (t *Radial) SelfJobs(done Job) []Job {
	grid := t.numBlockGrid()
	var ready []Job
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, off := range radialOffsets {
		c := done.Coord.Add(off)
		if c.X < 0 || c.Y < 0 || c.X >= max1(grid.X) || c.Y >= max1(grid.Y) {
			continue
		}
		if c.Manhattan(t.scan) <= done.Coord.Manhattan(t.scan) {
			continue // only propagate outward
		}
		remaining, ok := t.pending[c]
		if !ok {
			continue
		}
		remaining--
		t.pending[c] = remaining
		if remaining == 0 {
			ready = append(ready, Job{TaskID: t.id, Coord: c, Iter: done.Iter})
		}
	}
	return ready
}

func (t *Radial) NextJobs(done Job) []Job { return nil }

func (t *Radial) PreCompute(job Job, in, out []*cache.Block) {}

// Detail selects the sector-case Version: the compass octant the coord
// sits in relative to the scan start, clamped to the 8 cases the worker's
// dispatch loop may invoke (§4.D, createVersions per sector-case).
func (t *Radial) Detail(job Job) string {
	dx, dy := job.Coord.X-t.scan.X, job.Coord.Y-t.scan.Y
	if dx == 0 && dy == 0 {
		return "sector-all"
	}
	for i, off := range radialOffsets {
		if sign(dx) == sign(off.X) && sign(dy) == sign(off.Y) {
			return fmt.Sprintf("sector-%d", i)
		}
	}
	return "sector-0"
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func (t *Radial) Compute(job Job, in, out []*cache.Block) error {
	// Marks every output block Ready. No kernel arguments are bound and no
	// sector kernel is dispatched here.
	for _, b := range out {
		b.Ready = true
	}
	return nil
}

func (t *Radial) PostStore(job Job, in, out []*cache.Block) {}
