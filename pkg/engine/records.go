package engine

import (
	"bytes"
	"fmt"
	"unicode/utf16"
)

// Record sizes in bytes
const (
	poolHeaderSize      = 56
	objectPoolEntrySize = 12
	gameObjectSize      = 48
	playerPoolEntrySize = 212
	tagEntrySize        = 32
	tagHeaderSize       = 40
	positionSize        = 12
	pvsSize             = 0x40
	playerNameLen       = 12
)

// Vector3 is a position in world units
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// String returns a human-readable representation of the vector
func (v Vector3) String() string {
	return fmt.Sprintf("X: %.4f Y: %.4f Z: %.4f", v.X, v.Y, v.Z)
}

// PoolHeader describes a data pool. Object and player pools share the shape.
type PoolHeader struct {
	Name          string
	MaxSlots      uint16
	SlotSize      uint16
	Unknown1      uint32
	Signature     uint32
	NextIndex     uint16
	MaxCount      uint16
	CurrentCount  uint16
	NextID        uint16
	DataBegin     uint32
	HeaderAddress uint32
}

func decodePoolHeader(r *Reader, addr uint32) (PoolHeader, error) {
	raw, err := r.Slice(uint64(addr), poolHeaderSize)
	if err != nil {
		return PoolHeader{}, err
	}
	b := le(raw)
	h := PoolHeader{
		Name:          cName(b[0:32]),
		MaxSlots:      b.u16(32),
		SlotSize:      b.u16(34),
		Unknown1:      b.u32(36),
		Signature:     b.u32(40),
		NextIndex:     b.u16(44),
		MaxCount:      b.u16(46),
		CurrentCount:  b.u16(48),
		NextID:        b.u16(50),
		DataBegin:     b.ptr(52),
		HeaderAddress: addr,
	}
	return h, nil
}

// ObjectPoolEntry is the pool's bookkeeping for one object slot
type ObjectPoolEntry struct {
	ID       uint16
	Flags    uint16
	Type     uint16
	Size     uint16
	BodyLink uint32
}

func decodeObjectPoolEntry(r *Reader, addr uint64) (ObjectPoolEntry, error) {
	raw, err := r.Slice(addr, objectPoolEntrySize)
	if err != nil {
		return ObjectPoolEntry{}, err
	}
	b := le(raw)
	return ObjectPoolEntry{
		ID:       b.u16(0),
		Flags:    b.u16(2),
		Type:     b.u16(4),
		Size:     b.u16(6),
		BodyLink: b.ptr(8),
	}, nil
}

// GameObject is the live body of a simulation entity
type GameObject struct {
	HeadGuard  uint32
	TagID      uint32
	Link       uint32
	NextObject uint32
	PrevObject uint32
	TailGuard  uint32
	TagIndex   uint32
	Flags      uint32
	Padding    uint32
	Position   Vector3
}

func decodeGameObject(r *Reader, addr uint32, positionOffset uint32) (GameObject, error) {
	raw, err := r.Slice(uint64(addr), gameObjectSize)
	if err != nil {
		return GameObject{}, err
	}
	b := le(raw)
	p := int(positionOffset)
	return GameObject{
		HeadGuard:  b.u32(0),
		TagID:      b.u32(4),
		Link:       b.u32(8),
		NextObject: b.u32(12),
		PrevObject: b.u32(16),
		TailGuard:  b.u32(20),
		TagIndex:   b.u32(24),
		Flags:      b.u32(28),
		Padding:    b.u32(32),
		Position:   Vector3{X: b.f32(p), Y: b.f32(p + 4), Z: b.f32(p + 8)},
	}, nil
}

// PlayerPoolEntry is one slot of the player pool
type PlayerPoolEntry struct {
	ID               uint16
	LocalPlayerIndex uint16
	Name             string
	Unknown1         [6]int32
	UnitHandle       DatumHandle
	LastUnitHandle   DatumHandle
	Slot             int
}

// IsLive reports whether the engine considers the slot in use
func (p PlayerPoolEntry) IsLive() bool {
	return p.ID != 0
}

func decodePlayerPoolEntry(r *Reader, addr uint64) (PlayerPoolEntry, error) {
	raw, err := r.Slice(addr, playerPoolEntrySize)
	if err != nil {
		return PlayerPoolEntry{}, err
	}
	b := le(raw)
	p := PlayerPoolEntry{
		ID:               b.u16(0),
		LocalPlayerIndex: b.u16(2),
		UnitHandle:       b.handle(52),
		LastUnitHandle:   b.handle(56),
	}

	name := make([]uint16, 0, playerNameLen)
	for i := 0; i < playerNameLen; i++ {
		c := b.u16(4 + i*2)
		if c == 0 {
			break
		}
		name = append(name, c)
	}
	p.Name = string(utf16.Decode(name))

	for i := range p.Unknown1 {
		p.Unknown1[i] = b.i32(28 + i*4)
	}
	return p, nil
}

// PlayerGlobals is the singleton holding local player state
type PlayerGlobals struct {
	Unknown1                  int32
	LocalPlayers              []DatumHandle
	LocalDeadUnits            []DatumHandle
	LocalPlayerCount          uint16
	DoubleSpeedTicksRemaining uint16
	AreAllDead                bool
	InputDisabled             bool
	BSPIndex                  uint16
	RespawnFailure            uint16
	Teleported                bool
	Flags                     uint8
	CombinedPVS               [pvsSize]byte
	CombinedPVSLocal          [pvsSize]byte
}

func playerGlobalsSize(localPlayers int) int {
	return 4 + 8*localPlayers + 12 + 2*pvsSize
}

func decodePlayerGlobals(r *Reader, addr uint32, localPlayers int) (PlayerGlobals, error) {
	raw, err := r.Slice(uint64(addr), playerGlobalsSize(localPlayers))
	if err != nil {
		return PlayerGlobals{}, err
	}
	b := le(raw)
	g := PlayerGlobals{
		Unknown1:       b.i32(0),
		LocalPlayers:   make([]DatumHandle, localPlayers),
		LocalDeadUnits: make([]DatumHandle, localPlayers),
	}
	off := 4
	for i := 0; i < localPlayers; i++ {
		g.LocalPlayers[i] = b.handle(off + i*4)
	}
	off += 4 * localPlayers
	for i := 0; i < localPlayers; i++ {
		g.LocalDeadUnits[i] = b.handle(off + i*4)
	}
	off += 4 * localPlayers

	g.LocalPlayerCount = b.u16(off)
	g.DoubleSpeedTicksRemaining = b.u16(off + 2)
	g.AreAllDead = b.u8(off+4) != 0
	g.InputDisabled = b.u8(off+5) != 0
	g.BSPIndex = b.u16(off + 6)
	g.RespawnFailure = b.u16(off + 8)
	g.Teleported = b.u8(off+10) != 0
	g.Flags = b.u8(off + 11)
	off += 12
	copy(g.CombinedPVS[:], b[off:off+pvsSize])
	copy(g.CombinedPVSLocal[:], b[off+pvsSize:off+2*pvsSize])
	return g, nil
}

// TagHeader describes the loaded tag catalog
type TagHeader struct {
	ArrayBase     uint32
	ScenarioTag   uint32
	MapID         uint32
	TagCount      uint32
	VertexCount   uint32
	VertexOffset  uint32
	IndexCount    uint32
	IndexOffset   uint32
	ModelDataSize uint32
	Footer        uint32
	HeaderAddress uint32
}

func decodeTagHeader(r *Reader, addr uint32) (TagHeader, error) {
	raw, err := r.Slice(uint64(addr), tagHeaderSize)
	if err != nil {
		return TagHeader{}, err
	}
	b := le(raw)
	return TagHeader{
		ArrayBase:     b.ptr(0),
		ScenarioTag:   b.u32(4),
		MapID:         b.u32(8),
		TagCount:      b.u32(12),
		VertexCount:   b.u32(16),
		VertexOffset:  b.u32(20),
		IndexCount:    b.u32(24),
		IndexOffset:   b.u32(28),
		ModelDataSize: b.u32(32),
		Footer:        b.u32(36),
		HeaderAddress: addr,
	}, nil
}

// TagEntry is one entry of the tag catalog
type TagEntry struct {
	Class            uint32
	ParentClass      uint32
	GrandparentClass uint32
	TagIndex         uint32
	PathAddress      uint32
	DataAddress      uint32
	Unknown1         uint32
	Unknown2         uint32
}

// ClassName renders the primary class as its four character code, e.g. "weap"
func (t TagEntry) ClassName() string {
	return fourCC(t.Class)
}

func decodeTagEntry(r *Reader, addr uint64) (TagEntry, error) {
	raw, err := r.Slice(addr, tagEntrySize)
	if err != nil {
		return TagEntry{}, err
	}
	b := le(raw)
	return TagEntry{
		Class:            b.u32(0),
		ParentClass:      b.u32(4),
		GrandparentClass: b.u32(8),
		TagIndex:         b.u32(12),
		PathAddress:      b.ptr(16),
		DataAddress:      b.ptr(20),
		Unknown1:         b.u32(24),
		Unknown2:         b.u32(28),
	}, nil
}

// cName decodes a fixed-size, null-padded ASCII name
func cName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// fourCC renders a class code, most significant byte first
func fourCC(v uint32) string {
	if v == 0 || v == 0xFFFFFFFF {
		return ""
	}
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return string(bytes.TrimRight(b, "\x00 "))
}
