package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileRecorder appends captures to a file, one JSON object per line.
// Frame data is compressed per capture so a recording can be read back
// without decompressing the whole file.
type FileRecorder struct {
	mu        sync.Mutex
	file      *os.File
	bufWriter *bufio.Writer
	path      string
	count     int
}

var _ Recorder = (*FileRecorder)(nil)

// NewFileRecorder opens path for appending, creating it if needed
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &FileRecorder{
		file:      f,
		bufWriter: bufio.NewWriter(f),
		path:      path,
	}, nil
}

// RecordCapture writes a capture and flushes it to the file
func (fr *FileRecorder) RecordCapture(c Capture) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, err := fr.bufWriter.Write(data); err != nil {
		return err
	}
	if err := fr.bufWriter.WriteByte('\n'); err != nil {
		return err
	}
	if err := fr.bufWriter.Flush(); err != nil {
		return err
	}

	fr.count++
	return nil
}

// Count returns the number of captures written by this recorder
func (fr *FileRecorder) Count() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.count
}

// GetCaptures reads every capture in the file. Unreadable files yield nil.
func (fr *FileRecorder) GetCaptures() []Capture {
	fr.mu.Lock()
	fr.bufWriter.Flush()
	fr.mu.Unlock()

	captures, err := LoadCaptures(fr.path)
	if err != nil {
		return nil
	}
	return captures
}

// Clear truncates the file
func (fr *FileRecorder) Clear() {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	fr.bufWriter.Flush()
	fr.file.Close()
	os.Truncate(fr.path, 0)

	f, err := os.OpenFile(fr.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		fr.file = f
		fr.bufWriter = bufio.NewWriter(f)
		fr.count = 0
	}
}

// Close flushes and closes the file
func (fr *FileRecorder) Close() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if err := fr.bufWriter.Flush(); err != nil {
		return err
	}
	return fr.file.Close()
}

// LoadCaptures reads a recording written by FileRecorder
func LoadCaptures(path string) ([]Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCaptures(f)
}

// ReadCaptures decodes captures until EOF. A truncated final record, as left
// by an interrupted recording, ends the stream without an error.
func ReadCaptures(r io.Reader) ([]Capture, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	var captures []Capture
	for {
		var c Capture
		err := dec.Decode(&c)
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return captures, nil
		}
		if err != nil {
			return captures, fmt.Errorf("capture %d: %w", len(captures), err)
		}
		captures = append(captures, c)
	}
}
