// Package cache implements the block cache: a fixed Entry pool bound to
// device-memory chunks, LRU eviction, file-backed spill, and entry
// forwarding (§4.E).
package cache

// HoldType classifies a Block's storage requirement.
type HoldType int

const (
	// HOLD_0 - the block is absent; no entry, no scalar value.
	HOLD_0 HoldType = iota
	// HOLD_1 - the block is scalar-only (a D0/reduced value, or a fixed
	// loop-condition result); no device entry is ever allocated for it.
	HOLD_1
	// HOLD_N - the block is a dense buffer backed by a device Entry.
	HOLD_N
)

func (h HoldType) String() string {
	switch h {
	case HOLD_0:
		return "HOLD_0"
	case HOLD_1:
		return "HOLD_1"
	case HOLD_N:
		return "HOLD_N"
	default:
		return "UNKNOWN"
	}
}
