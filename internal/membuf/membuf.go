// Package membuf provides fixed-capacity in-memory streams used as transfer
// body sources and sinks.
//
// A Buffer is opened in exactly one mode:
// - reader mode wraps caller bytes as a read-only stream
// - writer mode owns a zeroed region of capacity+1 bytes that captures output
//
// Neither mode ever grows its backing region.
package membuf

import (
	"errors"
	"fmt"
	"io"
)

// MaxCapacity bounds the backing region of any single Buffer.
const MaxCapacity = 64 << 20

var (
	ErrAllocation  = errors.New("membuf: failed to open buffer")
	ErrNotReadable = errors.New("membuf: buffer not set for reading")
	ErrReadOnly    = errors.New("membuf: buffer is read-only")
	ErrWriteOnly   = errors.New("membuf: buffer is write-only")
	ErrClosed      = errors.New("membuf: buffer closed")
)

type mode int

const (
	modeReader mode = iota
	modeWriter
)

// Buffer is a fixed-size byte region exposed as a stream.
// It is not safe for concurrent use.
type Buffer struct {
	data   []byte
	pos    int
	mode   mode
	closed bool
}

// NewWriter opens a zeroed read/write region of n+1 bytes positioned at 0.
// The extra byte tolerates a reply one byte longer than the request.
func NewWriter(n int) (*Buffer, error) {
	if n < 0 || n+1 > MaxCapacity {
		return nil, fmt.Errorf("%w: write capacity %d", ErrAllocation, n)
	}
	return &Buffer{
		data: make([]byte, n+1),
		mode: modeWriter,
	}, nil
}

// NewReader wraps data as a read-only stream of exactly len(data) bytes.
// The bytes are not copied; callers must not mutate them while the Buffer
// is in use.
func NewReader(data []byte) (*Buffer, error) {
	if len(data) > MaxCapacity {
		return nil, fmt.Errorf("%w: read length %d", ErrAllocation, len(data))
	}
	return &Buffer{
		data: data,
		mode: modeReader,
	}, nil
}

// Cap reports the size of the backing region.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len reports the current stream position: bytes written so far in writer
// mode, bytes consumed so far in reader mode.
func (b *Buffer) Len() int {
	return b.pos
}

func (b *Buffer) Read(p []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if b.mode != modeReader {
		return 0, ErrWriteOnly
	}
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// Write stores p at the current position. When the region cannot hold all
// of p it stores what fits and returns io.ErrShortWrite.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if b.mode != modeWriter {
		return 0, ErrReadOnly
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Contents returns a copy of everything written so far. The position is
// left where it was, so repeated calls return the same bytes.
func (b *Buffer) Contents() ([]byte, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if b.mode != modeWriter {
		return nil, ErrNotReadable
	}
	size := b.pos
	out := make([]byte, size)
	copy(out, b.data[:size])
	return out, nil
}

// Close releases the backing region. It is safe to call more than once.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.data = nil
	return nil
}
