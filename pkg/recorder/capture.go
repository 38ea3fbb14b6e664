package recorder

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyCapture   = errors.New("empty capture")
	ErrCorruptCapture = errors.New("corrupt capture")
)

// Capture is one recorded copy of the target's memory window
type Capture struct {
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	BaseAddress uint64          `json:"base_address"`
	Layout      string          `json:"layout"`
	Compression CompressionType `json:"compression"`
	Size        int             `json:"size"`
	Data        []byte          `json:"data"`
}

// NewCapture compresses raw into a capture
func NewCapture(id int64, raw []byte, base uint64, layout string, ct CompressionType) (Capture, error) {
	if len(raw) == 0 {
		return Capture{}, ErrEmptyCapture
	}
	data, err := CompressData(raw, ct)
	if err != nil {
		return Capture{}, fmt.Errorf("failed to compress capture %d: %w", id, err)
	}
	if ct == NoCompression {
		data = append([]byte(nil), raw...)
	}
	return Capture{
		ID:          id,
		Timestamp:   time.Now(),
		BaseAddress: base,
		Layout:      layout,
		Compression: ct,
		Size:        len(raw),
		Data:        data,
	}, nil
}

// Raw returns the uncompressed memory window
func (c Capture) Raw() ([]byte, error) {
	raw, err := DecompressData(c.Data, c.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: capture %d: %v", ErrCorruptCapture, c.ID, err)
	}
	if len(raw) != c.Size {
		return nil, fmt.Errorf("%w: capture %d has %d bytes, expected %d", ErrCorruptCapture, c.ID, len(raw), c.Size)
	}
	return raw, nil
}

// String returns a one line description of the capture
func (c Capture) String() string {
	return fmt.Sprintf("Capture{ID: %d, Time: %s, Size: %d, %s}",
		c.ID, c.Timestamp.Format(time.RFC3339), c.Size, c.Compression)
}
