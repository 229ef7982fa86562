package dag

// Simplifier performs construction-time common-subexpression elimination:
// structural duplicates are hash-consed so that repeated construction of the
// same subexpression shares storage and, later, shares cached blocks
// (§4.B). Grounded on the per-node-kind Key/Hash pattern of
// original_source/runtime/dag/{Access,LhsAccess}.hpp: rather than one
// global hash table keyed loosely, each Kind gets its own table so that
// signature collisions across unrelated operators can never merge two
// structurally distinct nodes.
type Simplifier struct {
	tables map[Kind]map[string]*Node
	nextID int
}

// NewSimplifier creates an empty Simplifier. startID seeds the monotonic
// node-id counter (unique per evaluation, §3 invariants).
func NewSimplifier(startID int) *Simplifier {
	return &Simplifier{
		tables: make(map[Kind]map[string]*Node),
		nextID: startID,
	}
}

// Insert hash-conses n: if a structurally equal node (same Kind, same
// Signature()) already exists, n is discarded, its would-be Next edges are
// re-parented onto the existing node, and the existing node is returned.
// Otherwise n is assigned a fresh id, recorded, and returned.
//
// pendingNext is the set of consumers that were about to be wired to n;
// Insert itself adds an edge from the returned node (not n) to each of
// them, so callers do not add those edges again.
func (s *Simplifier) Insert(n *Node, pendingNext []*Node) *Node {
	table, ok := s.tables[n.Kind]
	if !ok {
		table = make(map[string]*Node)
		s.tables[n.Kind] = table
	}

	sig := n.Signature()
	if existing, found := table[sig]; found {
		for _, c := range pendingNext {
			AddEdge(existing, c)
		}
		return existing
	}

	n.ID = s.nextID
	s.nextID++
	table[sig] = n
	for _, c := range pendingNext {
		AddEdge(n, c)
	}
	return n
}

// Drop removes n from the hash tables, e.g. when the Runtime destroys a
// node whose refcount has dropped to zero and which has become isolated.
func (s *Simplifier) Drop(n *Node) {
	if table, ok := s.tables[n.Kind]; ok {
		delete(table, n.Signature())
	}
}

// Lookup returns the hash-consed node for sig under kind, if any.
func (s *Simplifier) Lookup(kind Kind, sig string) (*Node, bool) {
	table, ok := s.tables[kind]
	if !ok {
		return nil, false
	}
	n, ok := table[sig]
	return n, ok
}

// Size returns the total number of distinct nodes retained across all
// kinds, useful for cache-sizing diagnostics.
func (s *Simplifier) Size() int {
	total := 0
	for _, t := range s.tables {
		total += len(t)
	}
	return total
}
