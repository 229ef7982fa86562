package dag

// Visitor implements double-dispatch over the closed Node.Kind set,
// replacing dynamic-cast dispatch per the runtime's redesign notes.
// Skeletons (code generation) and Tasks (fusion/compute dispatch) both
// implement Visitor to specialize per concrete Node kind.
type Visitor interface {
	VisitAccess(n *Node)
	VisitLhsAccess(n *Node)
	VisitFocal(n *Node)
	VisitReduce(n *Node)
	VisitRadial(n *Node)
	VisitSpreadNeighbor(n *Node)
	VisitMerge(n *Node)
	VisitSwitch(n *Node)
	VisitHead(n *Node)
	VisitTail(n *Node)
	VisitLoop(n *Node)
	VisitBarrier(n *Node)
}

// BaseVisitor is embeddable by Visitor implementations that only care about
// a handful of Kinds; unimplemented methods are no-ops.
type BaseVisitor struct{}

func (BaseVisitor) VisitAccess(n *Node)         {}
func (BaseVisitor) VisitLhsAccess(n *Node)      {}
func (BaseVisitor) VisitFocal(n *Node)          {}
func (BaseVisitor) VisitReduce(n *Node)         {}
func (BaseVisitor) VisitRadial(n *Node)         {}
func (BaseVisitor) VisitSpreadNeighbor(n *Node) {}
func (BaseVisitor) VisitMerge(n *Node)          {}
func (BaseVisitor) VisitSwitch(n *Node)         {}
func (BaseVisitor) VisitHead(n *Node)           {}
func (BaseVisitor) VisitTail(n *Node)           {}
func (BaseVisitor) VisitLoop(n *Node)           {}
func (BaseVisitor) VisitBarrier(n *Node)        {}
