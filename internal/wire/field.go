// Package wire implements the length-prefixed, tag-identified framing used
// on every session connection: a Field locates a fixed-width little-endian
// unsigned integer inside a frame, and Receiver_Config's ReceiveNext reads
// one complete frame off a raw file descriptor.
package wire

import "fmt"

// Field describes a fixed-width little-endian unsigned integer at a byte
// offset inside a buffer. Size must be one of 1, 2, 4 or 8.
type Field struct {
	Off  uint32
	Size uint32
}

// ReadUint decodes the field's value out of b. b must be at least
// f.Off+f.Size bytes long.
func (f Field) ReadUint(b []byte) (uint64, error) {
	if uint64(f.Off)+uint64(f.Size) > uint64(len(b)) {
		return 0, fmt.Errorf("wire: buffer too small for reading field at off=%d size=%d (len=%d)", f.Off, f.Size, len(b))
	}
	s := b[f.Off : f.Off+f.Size]
	var r uint64
	for i, c := range s {
		r |= uint64(c) << (8 * uint(i))
	}
	return r, nil
}

// WriteUint encodes v into b at the field's offset, little-endian,
// truncated to f.Size bytes. b must be at least f.Off+f.Size bytes long.
func (f Field) WriteUint(b []byte, v uint64) error {
	if uint64(f.Off)+uint64(f.Size) > uint64(len(b)) {
		return fmt.Errorf("wire: buffer too small for writing field at off=%d size=%d (len=%d)", f.Off, f.Size, len(b))
	}
	s := b[f.Off : f.Off+f.Size]
	for i := range s {
		s[i] = byte(v >> (8 * uint(i)))
	}
	return nil
}

// ValidSize reports whether size is one of the widths a wire-format Field
// supports (1, 2, 4 or 8).
func ValidSize(size uint32) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}
