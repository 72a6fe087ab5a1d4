package hibertypes

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MetaTagSize is the length in bytes of the authentication tag carried in
// the metadata header.
const MetaTagSize = 16

// Flag bits for Metadata.Flags.
const (
	// FlagValid is set only after the image has been fully written and
	// authenticated: DataTag != 0 and ImageSize > 0.
	FlagValid uint32 = 1 << 0
)

// MetaVersion is the on-disk format version written to every metadata file.
const MetaVersion uint32 = 1

// Metadata is the authenticated record the Conductor owns for one attempt.
// It is written to the metadata file last, on the suspend side, and read
// back first by the (separate) resume conductor on the following boot.
//
// Layout on disk (fixed-size header, little-endian):
//
//	version   uint32
//	flags     uint32
//	imageSize uint64
//	metaSize  uint64
//	dataTag   [MetaTagSize]byte
//	keyLen    uint32
//	wrappedKey []byte (keyLen bytes)
type Metadata struct {
	Version   uint32
	Flags     uint32
	ImageSize int64
	MetaSize  int64
	DataTag   [MetaTagSize]byte

	// WrappedKey is the opaque, key-manager-produced key material for this
	// attempt's metadata encryption key, wrapped with AES-256-GCM under the
	// process-local symmetric wrapping key (internal/keyman); no public key
	// is involved.
	WrappedKey []byte
}

// New returns a zeroed Metadata record for a fresh attempt.
func New() *Metadata {
	return &Metadata{Version: MetaVersion}
}

// IsValid reports whether the VALID flag is set and the flag's own
// invariant (non-zero tag and positive image size) actually holds.
func (m *Metadata) IsValid() bool {
	if m.Flags&FlagValid == 0 {
		return false
	}
	return m.DataTag != [MetaTagSize]byte{} && m.ImageSize > 0
}

// MarkValid sets the VALID flag. It panics if the invariant it asserts does
// not hold — a programmer error in the splitter, not a runtime condition.
func (m *Metadata) MarkValid() {
	if m.DataTag == [MetaTagSize]byte{} {
		panic("hibertypes: MarkValid called with zero data tag")
	}
	if m.ImageSize <= 0 {
		panic("hibertypes: MarkValid called with non-positive image size")
	}
	m.Flags |= FlagValid
}

// WriteTo serializes the metadata header in the fixed on-disk layout.
func (m *Metadata) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 4+4+8+8+MetaTagSize+4)
	binary.LittleEndian.PutUint32(buf[0:4], m.Version)
	binary.LittleEndian.PutUint32(buf[4:8], m.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.ImageSize))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(m.MetaSize))
	copy(buf[24:24+MetaTagSize], m.DataTag[:])
	binary.LittleEndian.PutUint32(buf[24+MetaTagSize:], uint32(len(m.WrappedKey)))

	n, err := w.Write(buf)
	if err != nil {
		return int64(n), fmt.Errorf("write metadata header: %w", err)
	}
	if len(m.WrappedKey) == 0 {
		return int64(n), nil
	}
	n2, err := w.Write(m.WrappedKey)
	if err != nil {
		return int64(n + n2), fmt.Errorf("write wrapped key: %w", err)
	}
	return int64(n + n2), nil
}

// ReadFrom deserializes a metadata header previously written by WriteTo.
func ReadFrom(r io.Reader) (*Metadata, error) {
	head := make([]byte, 4+4+8+8+MetaTagSize+4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}
	m := &Metadata{
		Version:   binary.LittleEndian.Uint32(head[0:4]),
		Flags:     binary.LittleEndian.Uint32(head[4:8]),
		ImageSize: int64(binary.LittleEndian.Uint64(head[8:16])),
		MetaSize:  int64(binary.LittleEndian.Uint64(head[16:24])),
	}
	copy(m.DataTag[:], head[24:24+MetaTagSize])
	keyLen := binary.LittleEndian.Uint32(head[24+MetaTagSize:])
	if keyLen > 0 {
		m.WrappedKey = make([]byte, keyLen)
		if _, err := io.ReadFull(r, m.WrappedKey); err != nil {
			return nil, fmt.Errorf("read wrapped key: %w", err)
		}
	}
	return m, nil
}
