package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

var (
	// ErrOutOfBounds is returned when a read would leave the capture
	ErrOutOfBounds = errors.New("address out of bounds")
	// ErrNullPointer is returned when a pointer field is zero
	ErrNullPointer = errors.New("null pointer")
	// ErrUnterminated is returned when a string has no terminator within
	// MaxStringLen bytes or before the end of the capture
	ErrUnterminated = errors.New("unterminated string")
	// ErrInvalidText is returned when a string is not valid UTF-8
	ErrInvalidText = errors.New("invalid text")
)

// Reader performs bounds-checked little-endian reads from a capture.
// Addresses are offsets from the start of the captured window.
type Reader struct {
	buf []byte
}

// NewReader wraps a capture buffer
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the size of the capture
func (r *Reader) Len() int {
	return len(r.buf)
}

// InBounds reports whether [addr, addr+size) lies inside the capture.
// The sum is computed in 64 bits so it cannot wrap.
func (r *Reader) InBounds(addr uint64, size int) bool {
	return size >= 0 && addr+uint64(size) <= uint64(len(r.buf)) && addr <= uint64(len(r.buf))
}

// Slice returns the size bytes at addr without copying
func (r *Reader) Slice(addr uint64, size int) ([]byte, error) {
	if !r.InBounds(addr, size) {
		return nil, fmt.Errorf("%w: 0x%08X+0x%X (capture is 0x%X bytes)", ErrOutOfBounds, addr, size, len(r.buf))
	}
	return r.buf[addr : addr+uint64(size)], nil
}

// Uint16 reads a little-endian uint16
func (r *Reader) Uint16(addr uint64) (uint16, error) {
	b, err := r.Slice(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian uint32
func (r *Reader) Uint32(addr uint64) (uint32, error) {
	b, err := r.Slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Float32 reads a little-endian IEEE 754 float
func (r *Reader) Float32(addr uint64) (float32, error) {
	v, err := r.Uint32(addr)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Pointer reads a stored pointer field at addr and resolves it
func (r *Reader) Pointer(addr uint64) (uint32, error) {
	b, err := r.Slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return ResolvePointer(b), nil
}

// MaxStringLen bounds the search for a terminator, which must lie within
// this many bytes of the string's start
const MaxStringLen = 256

// CString reads a null-terminated UTF-8 string starting at addr
func (r *Reader) CString(addr uint64) (string, error) {
	if addr >= uint64(len(r.buf)) {
		return "", fmt.Errorf("%w: string at 0x%08X", ErrOutOfBounds, addr)
	}
	rest := r.buf[addr:]
	if len(rest) > MaxStringLen {
		rest = rest[:MaxStringLen]
	}
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", fmt.Errorf("%w at 0x%08X", ErrUnterminated, addr)
	}
	if !utf8.Valid(rest[:end]) {
		return "", fmt.Errorf("%w at 0x%08X", ErrInvalidText, addr)
	}
	return string(rest[:end]), nil
}

// ResolvePointer turns a stored pointer field into a capture offset.
// Only the low three bytes are meaningful; the high byte is taken as zero.
func ResolvePointer(field []byte) uint32 {
	if len(field) < 3 {
		return 0
	}
	return uint32(field[0]) | uint32(field[1])<<8 | uint32(field[2])<<16
}

// EncodePointer is the inverse of ResolvePointer
func EncodePointer(addr uint32) [4]byte {
	return [4]byte{byte(addr), byte(addr >> 8), byte(addr >> 16), 0}
}

// le is a cursor over an already bounds-checked record
type le []byte

func (b le) u8(off int) uint8 { return b[off] }

func (b le) u16(off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }

func (b le) u32(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

func (b le) i32(off int) int32 { return int32(binary.LittleEndian.Uint32(b[off:])) }

func (b le) f32(off int) float32 { return math.Float32frombits(b.u32(off)) }

func (b le) ptr(off int) uint32 { return ResolvePointer(b[off : off+4]) }

func (b le) handle(off int) DatumHandle { return DatumHandle(b.u32(off)) }
