package recorder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm to use
type CompressionType int

const (
	// NoCompression indicates no compression
	NoCompression CompressionType = iota
	// ZstdCompression indicates Zstandard compression
	ZstdCompression
)

var (
	// DefaultCompression is the default compression algorithm
	DefaultCompression = ZstdCompression

	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func (ct CompressionType) String() string {
	switch ct {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression maps a name from the command line or environment
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return NoCompression, fmt.Errorf("unknown compression %q", s)
}

func (ct CompressionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(ct.String())
}

func (ct *CompressionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCompression(s)
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}

// CompressData compresses a byte slice using the specified compression algorithm
func CompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	switch compressionType {
	case NoCompression:
		return data, nil
	case ZstdCompression:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
	}
	return nil, fmt.Errorf("unsupported compression %d", compressionType)
}

// DecompressData decompresses a byte slice using the specified compression algorithm
func DecompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	switch compressionType {
	case NoCompression:
		return data, nil
	case ZstdCompression:
		return zstdDecoder.DecodeAll(data, nil)
	}
	return nil, fmt.Errorf("unsupported compression %d", compressionType)
}

// NewCompressedWriter returns a writer that compresses data before writing
func NewCompressedWriter(w io.Writer, compressionType CompressionType) io.Writer {
	if compressionType == NoCompression {
		return w
	}

	encoder, _ := zstd.NewWriter(w)
	return encoder
}

// NewCompressedReader returns a reader that decompresses data after reading
func NewCompressedReader(r io.Reader, compressionType CompressionType) (io.Reader, error) {
	if compressionType == NoCompression {
		return r, nil
	}

	return zstd.NewReader(r)
}

// CloseCompressedWriter closes the compressed writer if needed
func CloseCompressedWriter(w io.Writer, compressionType CompressionType) error {
	if compressionType == NoCompression {
		return nil
	}

	if zw, ok := w.(*zstd.Encoder); ok {
		return zw.Close()
	}
	return nil
}

// compressionForPath picks zstd for .zst files
func compressionForPath(path string) CompressionType {
	if strings.HasSuffix(strings.ToLower(path), ".zst") {
		return ZstdCompression
	}
	return NoCompression
}

// LoadRawCapture reads a raw memory dump, decompressing .zst files
func LoadRawCapture(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ct := compressionForPath(path)
	r, err := NewCompressedReader(f, ct)
	if err != nil {
		return nil, err
	}
	if d, ok := r.(*zstd.Decoder); ok {
		defer d.Close()
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to read capture %s: %w", path, err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyCapture
	}
	return buf.Bytes(), nil
}

// SaveRawCapture writes a raw memory dump, compressing .zst files
func SaveRawCapture(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	ct := compressionForPath(path)
	w := NewCompressedWriter(f, ct)
	if _, err := w.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := CloseCompressedWriter(w, ct); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
