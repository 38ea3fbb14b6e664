// Package enginetest builds synthetic captures for tests.
package enginetest

import (
	"encoding/binary"
	"math"
	"unicode/utf16"

	"github.com/willibrandon/haloscope/pkg/engine"
)

// DefaultSize is large enough for the default layout plus the heap the
// builder allocates tables and bodies from
const DefaultSize = 8 << 20

const heapStart = 0x00400000

// Record strides as the engine lays them out
const (
	ObjectEntryStride = 12
	PlayerEntryStride = 212
	TagEntryStride    = 32
	GameObjectSize    = 48
)

// Builder writes a well-formed capture that tests can then damage
type Builder struct {
	Layout engine.Layout
	buf    []byte
	heap   uint32

	objectTable uint32
	playerTable uint32
	tagTable    uint32
	tagCount    uint32
	maxTags     int
}

// NewBuilder returns a capture with valid headers, empty tables and every
// local player handle unset
func NewBuilder(l engine.Layout, size int) *Builder {
	b := &Builder{
		Layout:  l,
		buf:     make([]byte, size),
		heap:    heapStart,
		maxTags: 256,
	}

	b.objectTable = b.alloc(uint32(l.MaxObjects * ObjectEntryStride))
	b.playerTable = b.alloc(uint32(l.MaxPlayers * PlayerEntryStride))
	b.tagTable = b.alloc(uint32(b.maxTags * TagEntryStride))

	b.writePoolHeader(l.ObjectPoolHeader, "object", uint16(l.MaxObjects), b.objectTable)
	b.writePoolHeader(l.PlayerPoolHeader, "players", uint16(l.MaxPlayers), b.playerTable)

	b.PutPointer(l.TagHeader, b.tagTable)
	b.PutUint32(l.TagHeader+12, 0)
	b.PutUint32(l.TagHeader+36, l.TagFooter)

	for i := 0; i < l.MaxLocalPlayers; i++ {
		b.SetLocalPlayer(i, engine.NoHandle)
		b.SetDeadUnit(i, engine.NoHandle)
	}
	return b
}

// New is NewBuilder with the default layout and size
func New() *Builder {
	return NewBuilder(engine.DefaultLayout(), DefaultSize)
}

// Bytes returns the capture
func (b *Builder) Bytes() []byte {
	return b.buf
}

func (b *Builder) alloc(size uint32) uint32 {
	addr := b.heap
	b.heap += (size + 15) &^ 15
	return addr
}

func (b *Builder) writePoolHeader(addr uint32, name string, maxSlots uint16, table uint32) {
	copy(b.buf[addr:addr+32], name)
	b.PutUint16(addr+32, maxSlots)
	b.PutUint32(addr+40, b.Layout.PoolSignature)
	b.PutPointer(addr+52, table)
}

// PutUint16 writes a little-endian uint16
func (b *Builder) PutUint16(addr uint32, v uint16) {
	binary.LittleEndian.PutUint16(b.buf[addr:], v)
}

// PutUint32 writes a little-endian uint32
func (b *Builder) PutUint32(addr uint32, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[addr:], v)
}

// PutPointer writes a stored pointer field
func (b *Builder) PutPointer(addr uint32, target uint32) {
	p := engine.EncodePointer(target)
	copy(b.buf[addr:addr+4], p[:])
}

// ObjectEntryAddress returns the address of an object pool entry
func (b *Builder) ObjectEntryAddress(index int) uint32 {
	return b.objectTable + uint32(index*ObjectEntryStride)
}

// PlayerEntryAddress returns the address of a player pool entry
func (b *Builder) PlayerEntryAddress(slot int) uint32 {
	return b.playerTable + uint32(slot*PlayerEntryStride)
}

// AddObject writes a pool entry and a valid body at index and returns the
// body address
func (b *Builder) AddObject(index int, id uint16, tagIndex uint32, pos engine.Vector3) uint32 {
	body := b.alloc(GameObjectSize)
	entry := b.ObjectEntryAddress(index)
	b.PutUint16(entry, id)
	b.PutPointer(entry+8, body+b.Layout.ObjectBodyBias)

	b.PutUint32(body, b.Layout.ObjectHeadGuard)
	b.PutUint32(body+20, b.Layout.ObjectTailGuard)
	b.PutUint32(body+24, tagIndex)
	b.SetPosition(body, pos)
	return body
}

// SetPosition writes a position into a body
func (b *Builder) SetPosition(body uint32, pos engine.Vector3) {
	p := body + b.Layout.PositionOffset
	b.PutUint32(p, math.Float32bits(pos.X))
	b.PutUint32(p+4, math.Float32bits(pos.Y))
	b.PutUint32(p+8, math.Float32bits(pos.Z))
}

// SetGuards overwrites the head and tail guards of a body
func (b *Builder) SetGuards(body uint32, head, tail uint32) {
	b.PutUint32(body, head)
	b.PutUint32(body+20, tail)
}

// LinkObject points the entry at index to an arbitrary link value
func (b *Builder) LinkObject(index int, link uint32) {
	b.PutPointer(b.ObjectEntryAddress(index)+8, link)
}

// AddString writes a null-terminated string and returns its address
func (b *Builder) AddString(s string) uint32 {
	addr := b.alloc(uint32(len(s) + 1))
	copy(b.buf[addr:], s)
	b.buf[addr+uint32(len(s))] = 0
	return addr
}

// AddTag appends a tag entry and its path string
func (b *Builder) AddTag(tagIndex uint32, class string, path string) uint32 {
	return b.AddTagEntry(tagIndex, class, b.AddString(path))
}

// AddTagEntry appends a tag entry whose path pointer is pathAddr
func (b *Builder) AddTagEntry(tagIndex uint32, class string, pathAddr uint32) uint32 {
	if int(b.tagCount) >= b.maxTags {
		panic("enginetest: tag table full")
	}
	entry := b.tagTable + b.tagCount*TagEntryStride
	b.PutUint32(entry, classCode(class))
	b.PutUint32(entry+12, tagIndex)
	b.PutPointer(entry+16, pathAddr)
	b.tagCount++
	b.SetTagCount(b.tagCount)
	return entry
}

// SetTagCount overwrites the tag header's entry count
func (b *Builder) SetTagCount(n uint32) {
	b.PutUint32(b.Layout.TagHeader+12, n)
}

// AddPlayer writes a player pool entry
func (b *Builder) AddPlayer(slot int, id, localIndex uint16, name string, unit engine.DatumHandle) uint32 {
	entry := b.PlayerEntryAddress(slot)
	b.PutUint16(entry, id)
	b.PutUint16(entry+2, localIndex)
	for i, c := range utf16.Encode([]rune(name)) {
		if i >= 12 {
			break
		}
		b.PutUint16(entry+4+uint32(i*2), c)
	}
	b.PutUint32(entry+52, unit.Raw())
	b.PutUint32(entry+56, engine.NoHandle.Raw())
	return entry
}

// SetLocalPlayer writes a local player handle into the globals
func (b *Builder) SetLocalPlayer(i int, h engine.DatumHandle) {
	b.PutUint32(b.Layout.PlayerGlobals+4+uint32(i*4), h.Raw())
}

// SetDeadUnit writes a dead-unit handle into the globals
func (b *Builder) SetDeadUnit(i int, h engine.DatumHandle) {
	off := 4 + 4*uint32(b.Layout.MaxLocalPlayers)
	b.PutUint32(b.Layout.PlayerGlobals+off+uint32(i*4), h.Raw())
}

// classCode packs a four character class name most significant byte first
func classCode(class string) uint32 {
	var c [4]byte
	copy(c[:], class)
	return uint32(c[0])<<24 | uint32(c[1])<<16 | uint32(c[2])<<8 | uint32(c[3])
}
