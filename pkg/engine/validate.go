package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotUnavailable matches every error BuildSnapshot returns.
	// The capture is not usable as a whole; try again on the next refresh.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
	// ErrBadSignature is returned when a structure's magic value does not match
	ErrBadSignature = errors.New("signature mismatch")
)

// Names of the structures gated by the whole-snapshot checks
const (
	StructObjectPool    = "object pool header"
	StructPlayerPool    = "player pool header"
	StructTagHeader     = "tag header"
	StructPlayerGlobals = "player globals"
)

// StructureError reports which whole-snapshot check failed
type StructureError struct {
	Structure string
	Address   uint32
	Err       error
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s at 0x%08X: %v", e.Structure, e.Address, e.Err)
}

func (e *StructureError) Unwrap() error {
	return e.Err
}

// Is lets every StructureError match ErrSnapshotUnavailable
func (e *StructureError) Is(target error) bool {
	return target == ErrSnapshotUnavailable
}

func structureError(name string, addr uint32, err error) error {
	return &StructureError{Structure: name, Address: addr, Err: err}
}

func checkSignature(name string, addr uint32, got, want uint32) error {
	if got != want {
		return structureError(name, addr,
			fmt.Errorf("%w: got 0x%08X, want 0x%08X", ErrBadSignature, got, want))
	}
	return nil
}

// validBody is the per-slot gate. A body that fails it was read mid-write
// or the slot is free; either way the slot is left empty.
func (l Layout) validBody(obj GameObject) bool {
	return obj.HeadGuard == l.ObjectHeadGuard && obj.TailGuard == l.ObjectTailGuard
}

// bodyAddress turns a pool entry's link into the address of its body
func (l Layout) bodyAddress(link uint32) (uint32, bool) {
	if link == 0 || link < l.ObjectBodyBias {
		return 0, false
	}
	return link - l.ObjectBodyBias, true
}
