package dag

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags the closed set of concrete Node subtypes. Dispatch over Kind
// (plus Visitor, below) replaces dynamic-cast dispatch over Node subtypes
// per the runtime's redesign notes.
type Kind int

const (
	KindAccess Kind = iota
	KindLhsAccess
	KindFocal
	KindReduce
	KindRadial
	KindSpreadNeighbor
	KindMerge
	KindSwitch
	KindHead
	KindTail
	KindLoop
	KindBarrier
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "Access"
	case KindLhsAccess:
		return "LhsAccess"
	case KindFocal:
		return "Focal"
	case KindReduce:
		return "Reduce"
	case KindRadial:
		return "Radial"
	case KindSpreadNeighbor:
		return "SpreadNeighbor"
	case KindMerge:
		return "Merge"
	case KindSwitch:
		return "Switch"
	case KindHead:
		return "Head"
	case KindTail:
		return "Tail"
	case KindLoop:
		return "Loop"
	case KindBarrier:
		return "Barrier"
	default:
		return "Unknown"
	}
}

// Halo is the extra border a FOCAL operation reads beyond its core tile,
// expressed as the set of coordinate deltas it touches.
type Halo struct {
	Deltas []Coord
}

// Square3x3Halo is the halo of a classic 3x3 convolution kernel.
func Square3x3Halo() Halo {
	var d []Coord
	for y := -1; y <= 1; y++ {
		for x := -1; x <= 1; x++ {
			d = append(d, Coord{X: x, Y: y})
		}
	}
	return Halo{Deltas: d}
}

// Node is an IR vertex. The field set is the union of every concrete
// subtype's data (tagged-variant style); Kind selects which fields are
// meaningful. Operator-specific behavior lives in the pattern.go /
// fusion / task packages that switch on Kind, not in per-type Go types,
// so that Fusioner and Program can treat *Node uniformly.
type Node struct {
	ID      int
	Kind    Kind
	Pattern Pattern
	Meta    MetaData

	Prev []*Node // predecessors, order-significant
	Next []*Node // successors (back-edge to consumers)

	RefCount int32

	// Operator-specific fields. Only the subset relevant to Kind is set.
	Op        string  // Access/LhsAccess/Focal: operator name, e.g. "+", "conv"
	ConstVal  float64 // Access: constant source value, when not reading external input
	Halo      Halo    // Focal, FocalZonal: neighborhood shape
	ScanStart Coord   // Radial: scan.start
	NeighborHalo Halo // SpreadNeighbor: halo() of the second input

	// Loop-related (populated by the LoopAssembler on assemble()).
	Body     []*Node // Loop: nodeList, the arena of body nodes
	BackList []*Node // Loop: back-edges (feed_in/feed_out pairs), index pairs
	Cond     *Node   // Loop: per-coord condition node

	signature string // memoized signature(), invalidated by clone
}

// NumBlock returns the block grid dimensions implied by DataSize/BlockSize,
// the domain a Key's Coord ranges over.
func (n *Node) NumBlock() Coord {
	bs := n.Meta.BlockSize
	if bs <= 0 {
		bs = 1
	}
	side := (n.Meta.DataSize + bs - 1) / bs
	if side <= 0 {
		side = 1
	}
	return Coord{X: side, Y: side, Z: 1}
}

// AddEdge links from as a predecessor of to, maintaining the bidirectional
// invariant `prev.next` contains `this` iff `this.prev` contains `prev`
// (§3, invariant 1; §8 property 1).
func AddEdge(from, to *Node) {
	from.Next = append(from.Next, to)
	to.Prev = append(to.Prev, from)
}

// RemoveEdge is the inverse of AddEdge.
func RemoveEdge(from, to *Node) {
	from.Next = removeNode(from.Next, to)
	to.Prev = removeNode(to.Prev, from)
}

func removeNode(list []*Node, target *Node) []*Node {
	out := list[:0]
	for _, n := range list {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// CheckBidirectional verifies invariant 1 of §8 for n and all of its
// immediate neighbors; it is the API-boundary check the redesign notes
// call for in place of an internal assert.
func CheckBidirectional(n *Node) error {
	for _, p := range n.Prev {
		if !contains(p.Next, n) {
			return fmt.Errorf("invariant violation: %d.prev contains %d but %d.next does not contain %d", n.ID, p.ID, p.ID, n.ID)
		}
	}
	for _, nx := range n.Next {
		if !contains(nx.Prev, n) {
			return fmt.Errorf("invariant violation: %d.next contains %d but %d.prev does not contain %d", n.ID, nx.ID, nx.ID, n.ID)
		}
	}
	return nil
}

func contains(list []*Node, target *Node) bool {
	for _, n := range list {
		if n == target {
			return true
		}
	}
	return false
}

// Signature returns a canonical string over structural attributes
// (datatype, operator, halo, pattern) sufficient for CSE and code-cache
// keys. It is memoized; clone() invalidates the memo.
func (n *Node) Signature() string {
	if n.signature != "" {
		return n.signature
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|dt=%d|bs=%d|op=%s", n.Kind, n.Pattern, n.Meta.DataType, n.Meta.BlockSize, n.Op)
	if n.Kind == KindFocal || n.Kind == KindReduce {
		fmt.Fprintf(&b, "|halo=%s", haloKey(n.Halo))
	}
	if n.Kind == KindRadial {
		fmt.Fprintf(&b, "|scan=%s", n.ScanStart)
	}
	if n.Kind == KindSpreadNeighbor {
		fmt.Fprintf(&b, "|nhalo=%s", haloKey(n.NeighborHalo))
	}
	ids := make([]int, 0, len(n.Prev))
	for _, p := range n.Prev {
		ids = append(ids, p.ID)
	}
	fmt.Fprintf(&b, "|prev=%v", ids)
	n.signature = b.String()
	return n.signature
}

func haloKey(h Halo) string {
	deltas := make([]string, 0, len(h.Deltas))
	for _, d := range h.Deltas {
		deltas = append(deltas, d.String())
	}
	sort.Strings(deltas)
	return strings.Join(deltas, ",")
}

// Clone deep-copies n with a fresh id, re-pointing edges to newPrev/newBack
// rather than sharing the original's slices.
func (n *Node) Clone(id int, newPrev, newBack []*Node) *Node {
	c := *n
	c.ID = id
	c.Prev = append([]*Node(nil), newPrev...)
	c.Next = nil
	c.BackList = append([]*Node(nil), newBack...)
	c.signature = ""
	for _, p := range c.Prev {
		p.Next = append(p.Next, &c)
	}
	return &c
}

// Accept performs double-dispatch into the Visitor for n's Kind.
func (n *Node) Accept(v Visitor) {
	switch n.Kind {
	case KindAccess:
		v.VisitAccess(n)
	case KindLhsAccess:
		v.VisitLhsAccess(n)
	case KindFocal:
		v.VisitFocal(n)
	case KindReduce:
		v.VisitReduce(n)
	case KindRadial:
		v.VisitRadial(n)
	case KindSpreadNeighbor:
		v.VisitSpreadNeighbor(n)
	case KindMerge:
		v.VisitMerge(n)
	case KindSwitch:
		v.VisitSwitch(n)
	case KindHead:
		v.VisitHead(n)
	case KindTail:
		v.VisitTail(n)
	case KindLoop:
		v.VisitLoop(n)
	case KindBarrier:
		v.VisitBarrier(n)
	}
}

// Isolated reports whether n has no remaining edges, the precondition (along
// with RefCount==0) for Runtime destruction (§3 Lifecycles).
func (n *Node) Isolated() bool {
	return len(n.Prev) == 0 && len(n.Next) == 0
}
