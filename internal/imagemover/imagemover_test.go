package imagemover

import (
	"bytes"
	"testing"
)

type countingWriter struct {
	buf bytes.Buffer
}

func (c *countingWriter) Write(p []byte) (int, error) { return c.buf.Write(p) }

func TestMoveAllExactMultiple(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0x42}, 8192))
	dst := &countingWriter{}

	m, err := New(src, dst, 8192, 4096, 4096)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	moved, err := m.MoveAll()
	if err != nil {
		t.Fatalf("MoveAll() error: %v", err)
	}
	if moved != 8192 {
		t.Fatalf("expected 8192 bytes moved, got %d", moved)
	}
	if dst.buf.Len() != 8192 {
		t.Fatalf("expected 8192 bytes written, got %d", dst.buf.Len())
	}
}

// TestMoveAllPadsFinalChunk covers a body of 4904 bytes moved with a
// 4096-byte page and PadOutputLength set: it must write a full 8192-byte
// chunk to the sink (padded to the next page) while only counting 4904
// bytes as moved.
func TestMoveAllPadsFinalChunk(t *testing.T) {
	body := bytes.Repeat([]byte{0x7}, 4904)
	src := bytes.NewReader(body)
	dst := &countingWriter{}

	m, err := New(src, dst, int64(len(body)), 4096, 8192)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	m.PadOutputLength()

	moved, err := m.MoveAll()
	if err != nil {
		t.Fatalf("MoveAll() error: %v", err)
	}
	if moved != 4904 {
		t.Fatalf("expected 4904 bytes moved, got %d", moved)
	}
	if dst.buf.Len() != 8192 {
		t.Fatalf("expected padded output of 8192 bytes, got %d", dst.buf.Len())
	}
	// The padding bytes must be zero, not garbage.
	written := dst.buf.Bytes()
	for i := 4904; i < 8192; i++ {
		if written[i] != 0 {
			t.Fatalf("expected zero padding at offset %d, got %#x", i, written[i])
		}
	}
}

func TestNewRejectsBadBufferSize(t *testing.T) {
	if _, err := New(bytes.NewReader(nil), &countingWriter{}, 100, 4096, 5000); err == nil {
		t.Fatalf("expected New to reject a non-page-multiple buffer size")
	}
}
