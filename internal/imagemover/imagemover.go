// Package imagemover streams a fixed number of bytes from a source reader
// to a sink writer in fixed-size, page-aligned chunks. It exists because
// the sink side ultimately lands on a direct-I/O file (internal/diskfile),
// which only accepts page-multiple buffers — the mover is what guarantees
// every write it issues meets that constraint, padding the final chunk
// with zeros when the caller asks for a padded output length.
package imagemover

import (
	"fmt"
	"io"
)

// Mover copies exactly totalBytes from src to dst, reading and writing in
// chunks sized bufferBytes (itself a multiple of pageBytes).
type Mover struct {
	src        io.Reader
	dst        io.Writer
	totalBytes int64
	pageBytes  int
	bufferBytes int
	padOutput  bool
}

// New returns a Mover that will copy totalBytes from src to dst using
// buffers of bufferBytes, which must be a positive multiple of pageBytes.
func New(src io.Reader, dst io.Writer, totalBytes int64, pageBytes, bufferBytes int) (*Mover, error) {
	if pageBytes <= 0 {
		return nil, fmt.Errorf("imagemover: page size must be positive, got %d", pageBytes)
	}
	if bufferBytes <= 0 || bufferBytes%pageBytes != 0 {
		return nil, fmt.Errorf("imagemover: buffer size %d must be a positive multiple of page size %d", bufferBytes, pageBytes)
	}
	if totalBytes < 0 {
		return nil, fmt.Errorf("imagemover: total bytes must be non-negative, got %d", totalBytes)
	}
	return &Mover{src: src, dst: dst, totalBytes: totalBytes, pageBytes: pageBytes, bufferBytes: bufferBytes}, nil
}

// PadOutputLength causes the final, partial chunk to be padded with zeros
// up to a full page boundary before being written to dst, even though only
// the genuine bytes read from src count toward progress. This matches the
// requirement that direct-I/O writes to the main image data file always be
// page-multiple in length.
func (m *Mover) PadOutputLength() { m.padOutput = true }

// MoveAll copies totalBytes from src to dst and returns the number of
// bytes actually read from src (which, with padding, may be fewer than
// the number of bytes written to dst).
func (m *Mover) MoveAll() (int64, error) {
	var moved int64
	buf := make([]byte, m.bufferBytes)

	for moved < m.totalBytes {
		want := m.bufferBytes
		remaining := m.totalBytes - moved
		if int64(want) > remaining {
			want = int(remaining)
		}

		n, err := io.ReadFull(m.src, buf[:want])
		if err != nil && err != io.ErrUnexpectedEOF {
			return moved + int64(n), fmt.Errorf("imagemover: read at offset %d: %w", moved, err)
		}
		moved += int64(n)

		writeLen := n
		if m.padOutput {
			writeLen = padToPage(n, m.pageBytes)
			for i := n; i < writeLen; i++ {
				buf[i] = 0
			}
		}

		if _, werr := m.dst.Write(buf[:writeLen]); werr != nil {
			return moved, fmt.Errorf("imagemover: write at offset %d: %w", moved-int64(n), werr)
		}

		if n < want {
			break
		}
	}

	return moved, nil
}

// padToPage rounds n up to the next multiple of pageBytes.
func padToPage(n, pageBytes int) int {
	if n%pageBytes == 0 {
		return n
	}
	return ((n / pageBytes) + 1) * pageBytes
}
