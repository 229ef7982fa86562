// Package device defines the DeviceCtx collaborator contract (§6): command
// queues, buffer allocation, and kernel dispatch. The concrete GPU backend
// is out of scope for this repository; NullCtx is a minimal host-memory
// stand-in sufficient to drive the runtime pipeline end to end in tests and
// in environments with no GPU present.
package device

import (
	"sync"
	"sync/atomic"
)

// Kernel is an opaque compiled kernel artifact, as produced by CodeGen and
// built by a Version's compile step.
type Kernel interface{}

// Arg is one bound kernel argument, in the declared order §4.G specifies:
// input (dev_mem, value, fixed) triples per HoldType, then outputs, then
// block/coord/group-size integers, then per-task extras.
type Arg struct {
	DevMem uintptr
	Value  float64
	Fixed  bool
	Int    int
	IsInt  bool
}

// Ctx is the DeviceCtx collaborator contract.
type Ctx interface {
	AllocBuffer(size int) (uintptr, error)
	Free(handle uintptr)
	EnqueueKernel(kernel Kernel, args []Arg, globalWorkSize, localWorkSize [3]int) error
	EnqueueRead(buffer uintptr, offset, size int, host []byte) error
	EnqueueWrite(buffer uintptr, offset, size int, host []byte) error
	EnqueueFill(buffer uintptr, offset, size int, value byte) error
	Finish() error
}

// NullCtx implements Ctx over plain host memory, with no real device
// behind it. It is deterministic and safe for concurrent use by the
// worker pool, one queue identity at a time per Tid as the spec requires.
type NullCtx struct {
	mu      sync.Mutex
	buffers map[uintptr][]byte
	nextID  uint64
}

// NewNullCtx creates a NullCtx.
func NewNullCtx() *NullCtx {
	return &NullCtx{buffers: make(map[uintptr][]byte)}
}

func (c *NullCtx) AllocBuffer(size int) (uintptr, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	c.mu.Lock()
	c.buffers[uintptr(id)] = make([]byte, size)
	c.mu.Unlock()
	return uintptr(id), nil
}

func (c *NullCtx) Free(handle uintptr) {
	c.mu.Lock()
	delete(c.buffers, handle)
	c.mu.Unlock()
}

func (c *NullCtx) EnqueueKernel(kernel Kernel, args []Arg, gws, lws [3]int) error {
	// No-op: code generation and execution are out of scope; this stands
	// in for the dispatch call the worker loop makes (§4.G).
	return nil
}

func (c *NullCtx) EnqueueRead(buffer uintptr, offset, size int, host []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[buffer]
	if !ok {
		return nil
	}
	n := copy(host, buf[offset:])
	_ = n
	return nil
}

func (c *NullCtx) EnqueueWrite(buffer uintptr, offset, size int, host []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[buffer]
	if !ok {
		return nil
	}
	copy(buf[offset:], host)
	return nil
}

func (c *NullCtx) EnqueueFill(buffer uintptr, offset, size int, value byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[buffer]
	if !ok {
		return nil
	}
	for i := offset; i < offset+size && i < len(buf); i++ {
		buf[i] = value
	}
	return nil
}

func (c *NullCtx) Finish() error { return nil }
