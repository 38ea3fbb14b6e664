package engine

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ObjectSlot is an occupied object table slot
type ObjectSlot struct {
	Index       uint16
	Entry       ObjectPoolEntry
	Object      GameObject
	BodyAddress uint32
}

// Handle returns the datum handle that refers to this slot
func (s *ObjectSlot) Handle() DatumHandle {
	return NewDatumHandle(s.Index, s.Entry.ID)
}

// EngineSnapshot is the decoded state of one capture. It never changes after
// BuildSnapshot returns and shares no memory with the capture buffer.
type EngineSnapshot struct {
	Layout Layout

	ObjectPoolHeader PoolHeader
	// Objects has one element per object slot; nil means empty
	Objects []*ObjectSlot

	PlayerPoolHeader PoolHeader
	// Players has one element per player slot; nil means empty
	Players []*PlayerPoolEntry

	Globals   PlayerGlobals
	TagHeader TagHeader
	Tags      map[uint32]string
}

// BuildSnapshot decodes a capture. If any of the gating structures fails
// its check no snapshot is returned and the error matches
// ErrSnapshotUnavailable. Individual slots that fail validation are left
// empty. An unusable layout is reported with ErrInvalidLayout instead.
func BuildSnapshot(buf []byte, l Layout) (*EngineSnapshot, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	r := NewReader(buf)

	objectHeader, err := decodePoolHeader(r, l.ObjectPoolHeader)
	if err != nil {
		return nil, structureError(StructObjectPool, l.ObjectPoolHeader, err)
	}
	if err := checkSignature(StructObjectPool, l.ObjectPoolHeader, objectHeader.Signature, l.PoolSignature); err != nil {
		return nil, err
	}

	tagHeader, err := decodeTagHeader(r, l.TagHeader)
	if err != nil {
		return nil, structureError(StructTagHeader, l.TagHeader, err)
	}
	if err := checkSignature(StructTagHeader, l.TagHeader, tagHeader.Footer, l.TagFooter); err != nil {
		return nil, err
	}

	playerHeader, err := decodePoolHeader(r, l.PlayerPoolHeader)
	if err != nil {
		return nil, structureError(StructPlayerPool, l.PlayerPoolHeader, err)
	}
	if err := checkSignature(StructPlayerPool, l.PlayerPoolHeader, playerHeader.Signature, l.PoolSignature); err != nil {
		return nil, err
	}

	// There is no marker to check the globals against.
	globals, err := decodePlayerGlobals(r, l.PlayerGlobals, l.MaxLocalPlayers)
	if err != nil {
		return nil, structureError(StructPlayerGlobals, l.PlayerGlobals, err)
	}

	return &EngineSnapshot{
		Layout:           l,
		ObjectPoolHeader: objectHeader,
		Objects:          scanObjects(r, l, objectHeader),
		PlayerPoolHeader: playerHeader,
		Players:          scanPlayers(r, l, playerHeader),
		Globals:          globals,
		TagHeader:        tagHeader,
		Tags:             resolveTagNames(r, tagHeader),
	}, nil
}

// Object returns the slot at index if it is occupied
func (s *EngineSnapshot) Object(index int) (*ObjectSlot, bool) {
	if index < 0 || index >= len(s.Objects) || s.Objects[index] == nil {
		return nil, false
	}
	return s.Objects[index], true
}

// Player returns the player slot at index if it is live
func (s *EngineSnapshot) Player(index int) (*PlayerPoolEntry, bool) {
	if index < 0 || index >= len(s.Players) || s.Players[index] == nil {
		return nil, false
	}
	return s.Players[index], true
}

// OwningLocalPlayer returns the local player index of the first player
// slot whose current unit is the object at objectIndex
func (s *EngineSnapshot) OwningLocalPlayer(objectIndex uint16) (uint16, bool) {
	for _, p := range s.Players {
		if p == nil {
			continue
		}
		if p.UnitHandle.Index() == objectIndex {
			return p.LocalPlayerIndex, true
		}
	}
	return 0, false
}

// DeadPlayerSlot returns the local player whose dead-unit entry refers to
// the same slot as h
func (s *EngineSnapshot) DeadPlayerSlot(h DatumHandle) (int, bool) {
	for i, dead := range s.Globals.LocalDeadUnits {
		if dead.SameSlot(h) {
			return i, true
		}
	}
	return 0, false
}

// Handle returns the datum handle for an occupied object slot
func (s *EngineSnapshot) Handle(index int) (DatumHandle, bool) {
	slot, ok := s.Object(index)
	if !ok {
		return NoHandle, false
	}
	return slot.Handle(), true
}

// TagName returns the path of a tag
func (s *EngineSnapshot) TagName(tagIndex uint32) (string, bool) {
	name, ok := s.Tags[tagIndex]
	return name, ok
}

// ObjectTagName returns the tag path of the object at index
func (s *EngineSnapshot) ObjectTagName(index int) (string, bool) {
	slot, ok := s.Object(index)
	if !ok {
		return "", false
	}
	return s.TagName(slot.Object.TagIndex)
}

// HighestOccupied returns the highest occupied object index, or -1
func (s *EngineSnapshot) HighestOccupied() int {
	for i := len(s.Objects) - 1; i >= 0; i-- {
		if s.Objects[i] != nil {
			return i
		}
	}
	return -1
}

// FirstFree returns the lowest empty object index, or -1 if the table is full.
// It can disagree with the pool header's next index.
func (s *EngineSnapshot) FirstFree() int {
	for i, slot := range s.Objects {
		if slot == nil {
			return i
		}
	}
	return -1
}

// OccupiedCount returns the number of occupied object slots
func (s *EngineSnapshot) OccupiedCount() int {
	n := 0
	for _, slot := range s.Objects {
		if slot != nil {
			n++
		}
	}
	return n
}

// LivePlayers returns the live player slots in slot order
func (s *EngineSnapshot) LivePlayers() []*PlayerPoolEntry {
	var live []*PlayerPoolEntry
	for _, p := range s.Players {
		if p != nil {
			live = append(live, p)
		}
	}
	return live
}

// LocalPlayer returns the player slot controlled by a local player
func (s *EngineSnapshot) LocalPlayer(localIndex int) (*PlayerPoolEntry, bool) {
	if localIndex < 0 || localIndex >= len(s.Globals.LocalPlayers) {
		return nil, false
	}
	return s.Player(int(s.Globals.LocalPlayers[localIndex].Index()))
}

// PositionOffset returns the capture offset of the position vector of the
// object at index. The slot may have been reused by the time a write lands.
func (s *EngineSnapshot) PositionOffset(index int) (uint32, error) {
	slot, ok := s.Object(index)
	if !ok {
		return 0, fmt.Errorf("object slot %d is empty", index)
	}
	return slot.BodyAddress + s.Layout.PositionOffset, nil
}

// EncodePosition returns the in-memory representation of a position
func EncodePosition(v Vector3) []byte {
	b := make([]byte, positionSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(v.Z))
	return b
}
