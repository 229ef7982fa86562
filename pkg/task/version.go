package task

import "github.com/rasterjit/engine/pkg/device"

// ArgKind tags one slot of a Version's argument layout.
type ArgKind int

const (
	ArgInputBuffer ArgKind = iota
	ArgOutputBuffer
	ArgBlockSize
	ArgCoord
	ArgGroupSize
	ArgExtra
)

// ArgSpec describes one declared kernel argument slot, in binding order
// (§4.G compute: inputs' (dev_mem, value, fixed) triples by HoldType, then
// outputs, then block/coord/group-size ints, then per-task extras).
type ArgSpec struct {
	Kind ArgKind
	Name string
}

// Version is a compiled kernel specialization of a Task for a
// (device, detail-string) pair.
type Version struct {
	Device        string
	Detail        string
	Source        string
	WorkGroupSize [3]int
	ArgLayout     []ArgSpec
	Kernel        device.Kernel // nil until Program.Compile runs
}

// defaultArgLayout is the binding order every pattern shares before its own
// extras: one InputBuffer slot per declared input, one OutputBuffer slot
// per declared output, then the three geometry int groups.
func defaultArgLayout(numInputs, numOutputs int) []ArgSpec {
	layout := make([]ArgSpec, 0, numInputs+numOutputs+3)
	for i := 0; i < numInputs; i++ {
		layout = append(layout, ArgSpec{Kind: ArgInputBuffer, Name: "in"})
	}
	for i := 0; i < numOutputs; i++ {
		layout = append(layout, ArgSpec{Kind: ArgOutputBuffer, Name: "out"})
	}
	layout = append(layout,
		ArgSpec{Kind: ArgBlockSize, Name: "block_size"},
		ArgSpec{Kind: ArgCoord, Name: "coord"},
		ArgSpec{Kind: ArgGroupSize, Name: "group_size"},
	)
	return layout
}
