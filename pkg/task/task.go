package task

import (
	"github.com/rasterjit/engine/pkg/cache"
	"github.com/rasterjit/engine/pkg/dag"
	"github.com/rasterjit/engine/pkg/fusion"
)

// Task is one fused cluster's runtime policy: which blocks a Job needs,
// which Jobs a completion unblocks, and how to drive its Version's kernel.
type Task interface {
	ID() int
	Pattern() dag.Pattern
	BlockSize() int
	Group() *fusion.Group

	BlocksToLoad(job Job) []KeyDep
	BlocksToStore(job Job) []KeyDep

	InitialJobs() []Job
	SelfJobs(done Job) []Job
	NextJobs(done Job) []Job

	PreCompute(job Job, in, out []*cache.Block)
	Compute(job Job, in, out []*cache.Block) error
	PostStore(job Job, in, out []*cache.Block)

	// Detail is the pattern-specific string a Version is keyed by in
	// addition to (task, device) — e.g. a RADIAL sector case.
	Detail(job Job) string
}

// base carries the fields every pattern-specific Task shares.
type base struct {
	id        int
	group     *fusion.Group
	blockSize int
	outputs   []*dag.Node // group.OutputList, the nodes whose blocks are stored
}

func newBase(id int, g *fusion.Group) base {
	return base{id: id, group: g, blockSize: g.BlockSize, outputs: g.OutputList}
}

func (b base) ID() int             { return b.id }
func (b base) Pattern() dag.Pattern { return b.group.Pattern }
func (b base) BlockSize() int      { return b.blockSize }
func (b base) Group() *fusion.Group { return b.group }
func (b base) Detail(job Job) string { return "" }

// numBlockGrid returns the coord grid of the task's representative output
// node (every member shares BlockSize; DataSize is assumed uniform per
// group for non-BARRIER clusters, §3 invariant 3).
func (b base) numBlockGrid() dag.Coord {
	if len(b.outputs) == 0 {
		return dag.Coord{X: 1, Y: 1, Z: 1}
	}
	return b.outputs[0].NumBlock()
}

func iterateGrid(grid dag.Coord, fn func(dag.Coord)) {
	for z := 0; z < max1(grid.Z); z++ {
		for y := 0; y < max1(grid.Y); y++ {
			for x := 0; x < max1(grid.X); x++ {
				fn(dag.Coord{X: x, Y: y, Z: z})
			}
		}
	}
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

// outKeys builds output KeyDeps with Dependencies set to the consumer count
// (len(n.Next)); each downstream job that reads the key back as an input
// drains one unit via worker.runJob's NotifyKey call, so a node with no
// consumers relies solely on the producing job's own Notify(1) and a node
// with several only becomes Discardable once every consumer has read it.
func outKeys(outputs []*dag.Node, coord dag.Coord, iter int) []KeyDep {
	keys := make([]KeyDep, 0, len(outputs))
	for _, n := range outputs {
		hold := cache.HOLD_N
		if n.Pattern.Is(dag.ZONAL) {
			hold = cache.HOLD_1
		}
		keys = append(keys, KeyDep{
			Key:          dag.Key{NodeID: n.ID, Coord: coord, Iter: iter},
			Hold:         hold,
			Dependencies: int32(len(n.Next)),
		})
	}
	return keys
}

// --- LOCAL ---

// Local is a one-to-one coord mapping task, no halo.
type Local struct{ base }

// NewLocal constructs a LOCAL task from a fused group.
func NewLocal(id int, g *fusion.Group) *Local { return &Local{newBase(id, g)} }

func (t *Local) BlocksToLoad(job Job) []KeyDep {
	keys := make([]KeyDep, 0, len(t.group.InputList))
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

func (t *Local) BlocksToStore(job Job) []KeyDep { return outKeys(t.outputs, job.Coord, job.Iter) }

func (t *Local) InitialJobs() []Job {
	var jobs []Job
	iterateGrid(t.numBlockGrid(), func(c dag.Coord) {
		jobs = append(jobs, Job{TaskID: t.id, Coord: c})
	})
	return jobs
}

func (t *Local) SelfJobs(done Job) []Job { return nil }

func (t *Local) NextJobs(done Job) []Job { return nil }

func (t *Local) PreCompute(job Job, in, out []*cache.Block) {}

func (t *Local) Compute(job Job, in, out []*cache.Block) error {
	for _, b := range out {
		b.Ready = true
	}
	return nil
}

func (t *Local) PostStore(job Job, in, out []*cache.Block) {}

// --- FOCAL ---

// Focal reads a halo of neighboring input coords; nextJobs only notify the
// central coord.
type Focal struct {
	base
	halo dag.Halo
}

// NewFocal constructs a FOCAL task.
func NewFocal(id int, g *fusion.Group) *Focal {
	f := &Focal{base: newBase(id, g)}
	for _, n := range g.Nodes {
		if n.Kind == dag.KindFocal {
			f.halo = n.Halo
			break
		}
	}
	return f
}

func (t *Focal) BlocksToLoad(job Job) []KeyDep {
	var keys []KeyDep
	for _, n := range t.group.InputList {
		for _, p := range n.Prev {
			for _, d := range t.halo.Deltas {
				keys = append(keys, KeyDep{
					Key:          dag.Key{NodeID: p.ID, Coord: job.Coord.Add(d), Iter: job.Iter},
					Hold:         cache.HOLD_N,
					Dependencies: 1,
				})
			}
			if len(t.halo.Deltas) == 0 {
				keys = append(keys, KeyDep{
					Key:          dag.Key{NodeID: p.ID, Coord: job.Coord, Iter: job.Iter},
					Hold:         cache.HOLD_N,
					Dependencies: 1,
				})
			}
		}
	}
	return keys
}

func (t *Focal) BlocksToStore(job Job) []KeyDep { return outKeys(t.outputs, job.Coord, job.Iter) }

func (t *Focal) InitialJobs() []Job {
	var jobs []Job
	iterateGrid(t.numBlockGrid(), func(c dag.Coord) {
		jobs = append(jobs, Job{TaskID: t.id, Coord: c})
	})
	return jobs
}

func (t *Focal) SelfJobs(done Job) []Job { return nil }
func (t *Focal) NextJobs(done Job) []Job { return nil }

func (t *Focal) PreCompute(job Job, in, out []*cache.Block) {}

func (t *Focal) Compute(job Job, in, out []*cache.Block) error {
	for _, b := range out {
		b.Ready = true
	}
	return nil
}

func (t *Focal) PostStore(job Job, in, out []*cache.Block) {}

// --- FOCAL+ZONAL ---

// FocalZonal is a FOCAL input combined with a ZONAL atomic-reduce into a
// single HOLD_1 scalar output, grounded on FocalZonalTask.hpp.
type FocalZonal struct {
	Focal
}

// NewFocalZonal constructs a FOCAL+ZONAL reduce task.
func NewFocalZonal(id int, g *fusion.Group) *FocalZonal {
	return &FocalZonal{Focal: *NewFocal(id, g)}
}

func (t *FocalZonal) BlocksToStore(job Job) []KeyDep {
	keys := make([]KeyDep, 0, len(t.outputs))
	for _, n := range t.outputs {
		keys = append(keys, KeyDep{
			Key:          dag.Key{NodeID: n.ID, Coord: dag.Coord{}, Iter: job.Iter},
			Hold:         cache.HOLD_1,
			Dependencies: int32(len(iterateGridCoords(t.numBlockGrid()))),
		})
	}
	return keys
}

func iterateGridCoords(grid dag.Coord) []dag.Coord {
	var coords []dag.Coord
	iterateGrid(grid, func(c dag.Coord) { coords = append(coords, c) })
	return coords
}

func (t *FocalZonal) Compute(job Job, in, out []*cache.Block) error {
	for _, b := range out {
		var sum float64
		for _, ib := range in {
			sum += ib.Value
		}
		b.Value += sum
		b.Ready = true
	}
	return nil
}
