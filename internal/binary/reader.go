package binary

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/wippyai/wasmflow/errors"
)

// Reader is a sequential cursor over an immutable byte buffer.
// Offsets reported by Offset and by errors are absolute: the reader's base
// plus its position, so sub-readers over a section payload still report
// file offsets.
type Reader struct {
	data []byte
	pos  int
	base int64
}

// NewReader creates a Reader over data with base offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewReaderAt creates a Reader over data whose first byte lives at base.
func NewReaderAt(data []byte, base int64) *Reader {
	return &Reader{data: data, base: base}
}

// Position returns the current byte position relative to the reader start.
func (r *Reader) Position() int {
	return r.pos
}

// Offset returns the current absolute byte offset.
func (r *Reader) Offset() int64 {
	return r.base + int64(r.pos)
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// Reset seeks to the given relative position.
func (r *Reader) Reset(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return errors.Truncated(r.base+int64(pos), pos, len(r.data))
	}
	r.pos = pos
	return nil
}

// ReadByte consumes one byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errors.Truncated(r.Offset(), 1, 0)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without advancing.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errors.Truncated(r.Offset(), 1, 0)
	}
	return r.data[r.pos], nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, errors.Truncated(r.Offset(), n, r.Len())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Sub reads n bytes and returns a Reader over them that keeps absolute offsets.
func (r *Reader) Sub(n int) (*Reader, error) {
	start := r.Offset()
	b, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return NewReaderAt(b, start), nil
}

// ReadRemaining reads all remaining bytes.
func (r *Reader) ReadRemaining() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

// ReadU32 decodes a varuint32.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.readUnsigned(32)
	return uint32(v), err
}

// ReadU64 decodes a varuint64.
func (r *Reader) ReadU64() (uint64, error) {
	return r.readUnsigned(64)
}

// ReadS32 decodes a varint32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := r.readSigned(32)
	return int32(v), err
}

// ReadS33 reads a signed LEB128 encoded 33-bit value, as used by block types.
func (r *Reader) ReadS33() (int64, error) {
	return r.readSigned(33)
}

// ReadS64 decodes a varint64.
func (r *Reader) ReadS64() (int64, error) {
	return r.readSigned(64)
}

// readUnsigned decodes at most ceil(bits/7) bytes. The final byte may only
// carry the bits left over from the declared width.
func (r *Reader) readUnsigned(bits uint) (uint64, error) {
	start := r.Offset()
	maxBytes := (bits + 6) / 7
	var result uint64
	var shift uint
	for i := uint(0); ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == maxBytes-1 && b>>(bits-shift) != 0 {
			return 0, errors.MalformedVarint(start, int(bits))
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// readSigned decodes at most ceil(bits/7) bytes and sign-extends from the
// last byte. Unused bits of a full-width final byte must repeat the sign bit.
func (r *Reader) readSigned(bits uint) (int64, error) {
	start := r.Offset()
	maxBytes := (bits + 6) / 7
	var result int64
	var shift uint
	var b byte
	for i := uint(0); ; i++ {
		var err error
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == maxBytes-1 {
			rem := bits - shift
			top := (b & 0x7f) >> (rem - 1)
			if b&0x80 != 0 || (top != 0 && top != 0x7f>>(rem-1)) {
				return 0, errors.MalformedVarint(start, int(bits))
			}
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// Sign extend
	if shift < 64 && b&0x40 != 0 {
		result |= ^int64(0) << shift
	}
	return result, nil
}

// ReadU32LE decodes a fixed-width little-endian uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64LE reads a little-endian uint64 (fixed 8 bytes).
func (r *Reader) ReadU64LE() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadName decodes a length-prefixed UTF-8 name.
func (r *Reader) ReadName() (string, error) {
	start := r.Offset()
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.New(errors.PhaseRead, errors.KindMalformedModule).
			At(start).
			Detail("invalid UTF-8 in name").
			Build()
	}
	return string(data), nil
}
