// Package loopasm builds the control-flow subgraph for a loop construct
// (§4.H). It is the one place in the pipeline where a single user call
// ("assemble this loop body") expands into several Node insertions: a
// condition node, a Head per loop-carried variable, paired Feed-in/Feed-out
// back-edge nodes, and a Tail per live-out value, grounded on
// original_source/runtime/Runtime.cpp's loopAssemble()/LoopAssembler
// collaboration (the node_list.push_back sequence there — cond, heads,
// feed-ins, feed-outs, tails — is mirrored by Assembled.Ordered below).
package loopasm

import (
	"fmt"

	"github.com/rasterjit/engine/pkg/dag"
)

// Mode is the assembler's current recording state.
type Mode int

const (
	// NormalMode: node creation is not being captured; Add is a no-op.
	NormalMode Mode = iota
	// NestedMode: a loop body is open; every node the caller adds while in
	// this mode is captured as part of the body, at the current nesting
	// depth.
	NestedMode
)

// carried is one loop-carried variable: the Head that seeds iteration 0,
// the user-visible node whose value feeds back each round (back), and the
// Tail that exposes its final value once the loop stops.
type carried struct {
	head *dag.Node
	back *dag.Node
	tail *dag.Node
}

// frame is one nesting level's in-progress capture.
type frame struct {
	body    []*dag.Node
	carried []*carried
	cond    *dag.Node
	nextID  func() int
}

// Assembler is a modal builder: Enter flags subsequent node creations as
// "inside a loop body" (NestedMode); Add records each one; Assemble
// synthesizes the Loop node and returns every sub-node the Runtime must
// also register, in the original's node_list order (cond, heads, feed-ins,
// feed-outs, tails).
type Assembler struct {
	nestLimit int
	stack     []*frame
	nextID    func() int
}

// New constructs an Assembler. nestLimit bounds how many Enter calls may be
// open at once (0 means unlimited), mirroring conf.loop_nested_limit.
// nextID supplies fresh Node ids for the head, feed-in, feed-out, tail and
// Loop nodes it synthesizes (the cond node comes from SetCond); callers
// typically pass a Simplifier- or Runtime-owned counter.
func New(nestLimit int, nextID func() int) *Assembler {
	return &Assembler{nestLimit: nestLimit, nextID: nextID}
}

// Mode reports whether a loop body is currently being captured.
func (a *Assembler) Mode() Mode {
	if len(a.stack) == 0 {
		return NormalMode
	}
	return NestedMode
}

// Depth returns the current nesting depth (0 outside any loop).
func (a *Assembler) Depth() int { return len(a.stack) }

// Enter opens a new loop body capture, nested inside whatever loop (if any)
// is already open. Returns an error if nestLimit is exceeded.
func (a *Assembler) Enter() error {
	if a.nestLimit > 0 && len(a.stack) >= a.nestLimit {
		return fmt.Errorf("loopasm: nesting limit %d exceeded", a.nestLimit)
	}
	a.stack = append(a.stack, &frame{})
	return nil
}

// AddCarried registers one loop-carried variable: head is the node whose
// value seeds iteration 0, back is the node computed each round that
// should feed the next iteration's head. AddCarried synthesizes no nodes
// itself; Assemble does, once the whole body is known.
func (a *Assembler) AddCarried(head, back *dag.Node) {
	f := a.top()
	if f == nil {
		return
	}
	f.carried = append(f.carried, &carried{head: head, back: back})
}

// SetCond records the per-coord scalar node whose value, read after each
// round's PostStore, decides whether the loop continues.
func (a *Assembler) SetCond(cond *dag.Node) {
	f := a.top()
	if f == nil {
		return
	}
	f.cond = cond
}

// Add records n as part of the currently open loop body. A no-op in
// NormalMode, so callers can unconditionally call it from their general
// node-construction path (mirroring Runtime::addNode's `if
// (assembler.mode() != NORMAL_MODE) assembler.addNode(...)`).
func (a *Assembler) Add(n *dag.Node) {
	f := a.top()
	if f == nil {
		return
	}
	f.body = append(f.body, n)
}

func (a *Assembler) top() *frame {
	if len(a.stack) == 0 {
		return nil
	}
	return a.stack[len(a.stack)-1]
}

// Assembled is the result of Assemble: the synthesized Loop node plus every
// sub-node the caller must also insert into the Runtime's node list, in the
// order the original registers them (cond, heads, feed-ins, feed-outs,
// tails).
type Assembled struct {
	Loop    *dag.Node
	Ordered []*dag.Node
}

// Assemble closes the innermost open loop body (the one most recently
// Entered), synthesizing: one Head per carried variable (a Head node fed by
// the variable's seed node, standing in for "iteration 0's value"), one Feed-in/
// Feed-out pair per carried variable (the paired (initial, back) inputs
// Loop.Prev is built from, §4.D LOOP), one Tail per carried variable
// (exposing the final value once SelfJobs stops re-queuing), and the Loop
// node itself, whose Body is the captured node list and whose Cond is the
// per-coord condition node. Returns an error if no frame is open or no
// condition was set.
func (a *Assembler) Assemble() (*Assembled, error) {
	f := a.top()
	if f == nil {
		return nil, fmt.Errorf("loopasm: Assemble called with no open loop body")
	}
	if f.cond == nil {
		return nil, fmt.Errorf("loopasm: Assemble called with no condition node set")
	}
	a.stack = a.stack[:len(a.stack)-1]

	var heads, feedIns, feedOuts, tails []*dag.Node
	var loopPrev []*dag.Node

	for _, cv := range f.carried {
		head := &dag.Node{ID: a.nextID(), Kind: dag.KindHead, Pattern: cv.head.Pattern, Meta: cv.head.Meta}
		dag.AddEdge(cv.head, head)
		heads = append(heads, head)

		feedIn := &dag.Node{ID: a.nextID(), Kind: dag.KindMerge, Pattern: cv.head.Pattern, Meta: cv.head.Meta}
		dag.AddEdge(head, feedIn)
		feedIns = append(feedIns, feedIn)

		feedOut := &dag.Node{ID: a.nextID(), Kind: dag.KindSwitch, Pattern: cv.back.Pattern, Meta: cv.back.Meta}
		dag.AddEdge(cv.back, feedOut)
		feedOuts = append(feedOuts, feedOut)

		tail := &dag.Node{ID: a.nextID(), Kind: dag.KindTail, Pattern: cv.back.Pattern, Meta: cv.back.Meta}
		feedOuts[len(feedOuts)-1].Next = append(feedOuts[len(feedOuts)-1].Next, tail)
		tail.Prev = append(tail.Prev, feedOut)
		tails = append(tails, tail)

		loopPrev = append(loopPrev, feedIn, feedOut)
	}

	loop := &dag.Node{
		ID:      a.nextID(),
		Kind:    dag.KindLoop,
		Pattern: dag.LOOP,
		Meta:    f.cond.Meta,
		Prev:    loopPrev,
		Body:    f.body,
		Cond:    f.cond,
	}
	for i := 0; i+1 < len(loopPrev); i += 2 {
		loopPrev[i].Next = append(loopPrev[i].Next, loop)
		loopPrev[i+1].Next = append(loopPrev[i+1].Next, loop)
		loop.BackList = append(loop.BackList, loopPrev[i+1])
	}

	ordered := make([]*dag.Node, 0, 1+len(heads)+len(feedIns)+len(feedOuts)+len(tails))
	ordered = append(ordered, f.cond)
	ordered = append(ordered, heads...)
	ordered = append(ordered, feedIns...)
	ordered = append(ordered, feedOuts...)
	ordered = append(ordered, tails...)

	return &Assembled{Loop: loop, Ordered: ordered}, nil
}
