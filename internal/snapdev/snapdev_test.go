package snapdev

import (
	"bytes"
	"io"
	"testing"
)

// fakeTicket is a test double for the Ticket contract, local to this
// package's tests; the conductor tests define their own.
type fakeTicket struct {
	suspend     bool
	snapshotErr error
	imageSize   int64
	image       []byte
	released    bool
}

var _ Ticket = (*fakeTicket)(nil)

func (f *fakeTicket) AtomicSnapshot() (bool, error) {
	if f.snapshotErr != nil {
		return false, f.snapshotErr
	}
	return f.suspend, nil
}

func (f *fakeTicket) GetImageSize() (int64, error) { return f.imageSize, nil }
func (f *fakeTicket) Reader() io.Reader            { return bytes.NewReader(f.image) }
func (f *fakeTicket) Release() error {
	f.released = true
	return nil
}

func TestFakeTicketReleaseIdempotent(t *testing.T) {
	ft := &fakeTicket{suspend: true, imageSize: 4096, image: make([]byte, 4096)}
	suspend, err := ft.AtomicSnapshot()
	if err != nil || !suspend {
		t.Fatalf("expected suspend path, got suspend=%v err=%v", suspend, err)
	}
	if err := ft.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if !ft.released {
		t.Fatal("expected released=true")
	}
}
