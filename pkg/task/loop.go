package task

import (
	"sync"

	"github.com/rasterjit/engine/pkg/cache"
	"github.com/rasterjit/engine/pkg/dag"
	"github.com/rasterjit/engine/pkg/fusion"
)

// Loop is a LOOP task: inputs arrive in paired (initial, back) form, each
// Job carries an iter, and a per-coord condition node decides whether the
// next iteration runs, grounded on LoopTask.cpp.
type Loop struct {
	base
	loopNode *dag.Node
	condID   int
	cacheRef *cache.Cache

	mu       sync.Mutex
	cycling  map[dag.Coord]bool
	continue_ map[dag.Coord]bool
}

// NewLoop constructs a LOOP task from a group seeded by a single Loop node.
func NewLoop(id int, g *fusion.Group) *Loop {
	l := &Loop{
		base:      newBase(id, g),
		cycling:   make(map[dag.Coord]bool),
		continue_: make(map[dag.Coord]bool),
	}
	for _, n := range g.Nodes {
		if n.Kind == dag.KindLoop {
			l.loopNode = n
			if n.Cond != nil {
				l.condID = n.Cond.ID
			}
			break
		}
	}
	return l
}

// SetCache wires the Cache instance Compute/PostStore need for entry
// forwarding and for draining the branch not taken (§4.D LOOP). Called
// once by Runtime/Program construction, not by the generic Task interface.
func (t *Loop) SetCache(c *cache.Cache) { t.cacheRef = c }

func (t *Loop) isCycling(c dag.Coord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycling[c]
}

// BlocksToLoad selects between the initial input set and the back
// (prior-iteration) input set per coord using the cycling flag; loopNode.Prev
// is paired (initial_0, back_0, initial_1, back_1, ...).
func (t *Loop) BlocksToLoad(job Job) []KeyDep {
	if t.loopNode == nil {
		return nil
	}
	cyc := t.isCycling(job.Coord)
	prev := t.loopNode.Prev
	var keys []KeyDep
	for i := 0; i+1 < len(prev); i += 2 {
		chosen := prev[i]
		if cyc {
			chosen = prev[i+1]
		}
		keys = append(keys, KeyDep{
			Key:          dag.Key{NodeID: chosen.ID, Coord: job.Coord, Iter: job.Iter},
			Hold:         cache.HOLD_N,
			Dependencies: 1,
		})
	}
	return keys
}

// BlocksToStore always includes the per-coord condition block alongside the
// task's declared outputs.
func (t *Loop) BlocksToStore(job Job) []KeyDep {
	keys := outKeys(t.outputs, job.Coord, job.Iter)
	if t.condID != 0 {
		keys = append(keys, KeyDep{
			Key:          dag.Key{NodeID: t.condID, Coord: job.Coord, Iter: job.Iter},
			Hold:         cache.HOLD_1,
			Dependencies: 1,
		})
	}
	return keys
}

func (t *Loop) InitialJobs() []Job {
	var jobs []Job
	iterateGrid(t.numBlockGrid(), func(c dag.Coord) {
		jobs = append(jobs, Job{TaskID: t.id, Coord: c, Iter: 0})
	})
	return jobs
}

// SelfJobs emits the next iteration's Job for this coord iff PostStore
// decided (from the condition block's value) to continue.
func (t *Loop) SelfJobs(done Job) []Job {
	t.mu.Lock()
	cont := t.continue_[done.Coord]
	t.mu.Unlock()
	if cont {
		return []Job{{TaskID: t.id, Coord: done.Coord, Iter: done.Iter + 1}}
	}
	return nil
}

func (t *Loop) NextJobs(done Job) []Job { return nil }

func (t *Loop) PreCompute(job Job, in, out []*cache.Block) {}

// Compute marks every non-condition output ready, then performs entry
// forwarding when the whole output set for this coord is fixed/forwardable
// from its paired input: the output's entry is never separately allocated,
// the dev_mem handles swap, and the input block is marked not-loaded so
// next iteration's load step reloads it (§4.E Forwarding, Scenario S6).
func (t *Loop) Compute(job Job, in, out []*cache.Block) error {
	forwardable := len(out) > 0
	for _, b := range out {
		if b.Key.NodeID == t.condID {
			continue
		}
		b.Ready = true
		if !b.Fixed {
			forwardable = false
		}
	}
	if forwardable && t.cacheRef != nil {
		oi := 0
		for _, ob := range out {
			if ob.Key.NodeID == t.condID {
				continue
			}
			if oi < len(in) {
				_ = t.cacheRef.Forward(in[oi], ob)
			}
			oi++
		}
	}
	return nil
}

// PostStore re-derives cycling from the condition block's scalar value and,
// on the branch not taken, drains that branch's dependency count for the
// coord so it never blocks termination.
func (t *Loop) PostStore(job Job, in, out []*cache.Block) {
	if t.loopNode == nil {
		return
	}
	var condVal float64
	for _, b := range out {
		if b.Key.NodeID == t.condID {
			condVal = b.Value
			break
		}
	}
	keepLooping := condVal != 0

	t.mu.Lock()
	t.continue_[job.Coord] = keepLooping
	wasCycling := t.cycling[job.Coord] // the branch BlocksToLoad picked for this round
	t.cycling[job.Coord] = keepLooping
	t.mu.Unlock()

	if t.cacheRef == nil {
		return
	}
	prev := t.loopNode.Prev
	for i := 0; i+1 < len(prev); i += 2 {
		otherIdx := i + 1
		if wasCycling {
			otherIdx = i
		}
		otherKey := dag.Key{NodeID: prev[otherIdx].ID, Coord: job.Coord, Iter: job.Iter}
		t.cacheRef.NotifyKey(otherKey, 1)
	}
}
