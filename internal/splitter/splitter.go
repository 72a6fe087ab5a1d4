// Package splitter implements the io.Writer the image mover streams pages
// into, which in turn fans each page out to either the header file or the
// body (hiber) file, depending on how large the kernel-declared header
// turns out to be. The header's own declared size lives in the first
// eight bytes of the very first page, since the mover doesn't know it
// up front — that's exactly why the first move is a single bare page.
package splitter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/tuqiao/hiberman/internal/hibertypes"
)

// headerSizeFieldLen is the width of the leading header-size field that
// the kernel writes at the very start of the image.
const headerSizeFieldLen = 8

// Splitter routes image bytes between a header sink and a body sink,
// learning the header/body split point from the stream itself, and
// authenticates every body byte into the metadata's DataTag.
type Splitter struct {
	headerFile io.Writer
	bodyFile   io.Writer
	metadata   *hibertypes.Metadata

	computeHeaderHash bool

	// MetaSize is the number of leading bytes routed to headerFile. It is
	// zero until the first Write call parses it from the stream.
	MetaSize int64

	written int64
	mac     hash.Hash
	done    bool
}

// New returns a Splitter that authenticates body bytes under key and
// writes header/body bytes to the given sinks. If computeHeaderHash is
// set, header bytes are folded into the same running tag as well,
// matching callers that want one tag covering the whole image rather
// than just the body.
func New(headerFile, bodyFile io.Writer, metadata *hibertypes.Metadata, key []byte, computeHeaderHash bool) *Splitter {
	return &Splitter{
		headerFile:        headerFile,
		bodyFile:          bodyFile,
		metadata:          metadata,
		computeHeaderHash: computeHeaderHash,
		mac:               hmac.New(sha256.New, key),
	}
}

// Write implements io.Writer. The first call, when MetaSize is still
// zero, must carry at least headerSizeFieldLen bytes so the split point
// can be parsed; internal/imagemover guarantees this by moving a bare
// page first.
func (s *Splitter) Write(p []byte) (int, error) {
	if s.done {
		return 0, fmt.Errorf("splitter: write after Finish")
	}

	if s.MetaSize == 0 {
		if len(p) < headerSizeFieldLen {
			return 0, fmt.Errorf("splitter: first write must carry at least %d bytes to parse the header size, got %d", headerSizeFieldLen, len(p))
		}
		s.MetaSize = int64(binary.LittleEndian.Uint64(p[:headerSizeFieldLen]))
		if s.MetaSize <= 0 {
			return 0, fmt.Errorf("splitter: parsed non-positive header size %d", s.MetaSize)
		}
	}

	total := len(p)
	for len(p) > 0 {
		if s.written < s.MetaSize {
			n := int64(len(p))
			if remaining := s.MetaSize - s.written; int64(len(p)) > remaining {
				n = remaining
			}
			chunk := p[:n]
			if _, err := s.headerFile.Write(chunk); err != nil {
				return 0, fmt.Errorf("splitter: write header bytes: %w", err)
			}
			if s.computeHeaderHash {
				s.mac.Write(chunk)
			}
			s.written += n
			p = p[n:]
		} else {
			if _, err := s.bodyFile.Write(p); err != nil {
				return 0, fmt.Errorf("splitter: write body bytes: %w", err)
			}
			s.mac.Write(p)
			s.written += int64(len(p))
			p = nil
		}
	}
	return total, nil
}

// Finish computes the authentication tag over everything written so far
// (body bytes, plus header bytes if computeHeaderHash was set) and stores
// it truncated to hibertypes.MetaTagSize in the bound Metadata. It must be
// called exactly once, after the mover has streamed the entire image.
func (s *Splitter) Finish() {
	sum := s.mac.Sum(nil)
	copy(s.metadata.DataTag[:], sum[:hibertypes.MetaTagSize])
	s.done = true
}
