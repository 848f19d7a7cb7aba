package pool

import "fmt"

// Handle identifies one logical slot in one specific Pool. The zero Handle is
// never issued, so it can be used as "no object".
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) Index() uint32      { return h.index }
func (h Handle) Generation() uint32 { return h.generation }
func (h Handle) IsZero() bool       { return h == Handle{} }

// Pack encodes the handle with the index in the lower 32 bits and the
// generation in the upper 32 bits, for carrying through untyped channels.
func (h Handle) Pack() uint64 {
	return uint64(h.generation)<<32 | uint64(h.index)
}

// Unpack reverses Pack. It is only meaningful for values produced by Pack.
func Unpack(v uint64) Handle {
	return Handle{index: uint32(v), generation: uint32(v >> 32)}
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.generation)
}
