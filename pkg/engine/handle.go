package engine

import "fmt"

// DatumHandle references a slot in one of the engine's fixed-capacity tables.
// The low word is the slot index and the high word is the slot's id (salt),
// which the engine bumps every time the slot is reused.
type DatumHandle uint32

// NoHandle is the value the engine stores for an unset handle
const NoHandle DatumHandle = 0xFFFFFFFF

// NewDatumHandle packs an index and id into a handle
func NewDatumHandle(index, id uint16) DatumHandle {
	return DatumHandle(uint32(id)<<16 | uint32(index))
}

// Index returns the slot index
func (h DatumHandle) Index() uint16 {
	return uint16(h & 0xFFFF)
}

// ID returns the slot id, also called the salt
func (h DatumHandle) ID() uint16 {
	return uint16(h >> 16)
}

// Raw returns the packed 32-bit value
func (h DatumHandle) Raw() uint32 {
	return uint32(h)
}

// IsNone reports whether the handle is the engine's unset value
func (h DatumHandle) IsNone() bool {
	return h == NoHandle
}

// SameSlot reports whether both handles point at the same table slot.
// The id is ignored, so a handle to a reused slot still matches.
func (h DatumHandle) SameSlot(other DatumHandle) bool {
	return h.Index() == other.Index()
}

// String returns a human-readable representation of the handle
func (h DatumHandle) String() string {
	if h.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%d:%d (0x%08X)", h.Index(), h.ID(), h.Raw())
}
