// Package memory reads and writes the emulated console's RAM window.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrClosed              = errors.New("memory provider closed")
	ErrWriteUnsupported    = errors.New("provider does not support writes")
	ErrUnsupportedPlatform = errors.New("process memory access is not supported on this platform")
	ErrOutOfRange          = errors.New("write outside the capture window")
	ErrShortRead           = errors.New("short read from target")
)

// Provider yields fresh copies of a fixed-size window of target memory.
//
// Read returns a new buffer every call. Callers own it and the decoder never
// sees a buffer the provider can still mutate.
type Provider interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, offset uint32, data []byte) error
	BaseAddress() uint64
	Close() error
}

// Buffer is a Provider over a byte slice
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	base   uint64
	closed bool
}

// NewBuffer returns a Buffer over a private copy of data
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), data...)}
}

// NewBufferAt is NewBuffer with a reported base address
func NewBufferAt(data []byte, base uint64) *Buffer {
	b := NewBuffer(data)
	b.base = base
	return b
}

func (b *Buffer) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return append([]byte(nil), b.data...), nil
}

func (b *Buffer) Write(ctx context.Context, offset uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := checkRange(offset, len(data), len(b.data)); err != nil {
		return err
	}
	copy(b.data[offset:], data)
	return nil
}

// Update swaps the backing bytes, as a running target would between reads
func (b *Buffer) Update(data []byte) {
	b.mu.Lock()
	b.data = append(b.data[:0], data...)
	b.mu.Unlock()
}

func (b *Buffer) BaseAddress() uint64 {
	return b.base
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func checkRange(offset uint32, n, size int) error {
	if uint64(offset)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: 0x%08X+%d exceeds %d bytes", ErrOutOfRange, offset, n, size)
	}
	return nil
}

// ParseAddress parses the host virtual address printed by the emulator
// monitor, with or without a 0x prefix
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, errors.New("empty address")
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %v", s, err)
	}
	if addr == 0 {
		return 0, errors.New("address must not be zero")
	}
	return addr, nil
}
