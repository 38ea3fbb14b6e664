package memory

import (
	"context"
	"fmt"
	"sync"
)

// readChunk bounds each system call so long reads notice cancellation
const readChunk = 1 << 20

// Process reads the window [base, base+size) of another process's memory
type Process struct {
	mu     sync.Mutex
	pid    int
	base   uint64
	size   int
	handle processHandle
	closed bool
}

// OpenProcess opens pid for reading and writing size bytes at base
func OpenProcess(pid int, base uint64, size int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if base == 0 || size <= 0 {
		return nil, fmt.Errorf("invalid window 0x%X+%d", base, size)
	}
	h, err := openProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	return &Process{pid: pid, base: base, size: size, handle: h}, nil
}

func (p *Process) Read(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, p.size)
	for off := 0; off < len(buf); off += readChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := off + readChunk
		if end > len(buf) {
			end = len(buf)
		}
		n, err := p.handle.read(p.base+uint64(off), buf[off:end])
		if err != nil {
			return nil, fmt.Errorf("failed to read 0x%X from process %d: %w", p.base+uint64(off), p.pid, err)
		}
		if n != end-off {
			return nil, fmt.Errorf("%w: %d of %d bytes at 0x%X", ErrShortRead, n, end-off, p.base+uint64(off))
		}
	}
	return buf, nil
}

func (p *Process) Write(ctx context.Context, offset uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := checkRange(offset, len(data), p.size); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	n, err := p.handle.write(p.base+uint64(offset), data)
	if err != nil {
		return fmt.Errorf("failed to write 0x%X in process %d: %w", p.base+uint64(offset), p.pid, err)
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (p *Process) BaseAddress() uint64 {
	return p.base
}

// Pid returns the target process id
func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.handle.close()
}
