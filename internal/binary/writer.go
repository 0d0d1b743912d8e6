package binary

import "encoding/binary"

// Writer accumulates an encoded module. It never fails; fixtures build
// whole modules in memory and hand the bytes to the parser.
type Writer struct {
	b []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte { return w.b }
func (w *Writer) Len() int      { return len(w.b) }

func (w *Writer) Byte(b byte) {
	w.b = append(w.b, b)
}

func (w *Writer) WriteBytes(data []byte) {
	w.b = append(w.b, data...)
}

// WriteU32 appends v as unsigned LEB128.
func (w *Writer) WriteU32(v uint32) {
	w.b = AppendU32(w.b, v)
}

// WriteS32 appends v as signed LEB128.
func (w *Writer) WriteS32(v int32) {
	w.b = AppendS64(w.b, int64(v))
}

// WriteS64 appends v as signed LEB128.
func (w *Writer) WriteS64(v int64) {
	w.b = AppendS64(w.b, v)
}

// WriteName appends a length-prefixed name.
func (w *Writer) WriteName(s string) {
	w.b = AppendU32(w.b, uint32(len(s)))
	w.b = append(w.b, s...)
}

func (w *Writer) WriteU32LE(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *Writer) WriteU64LE(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

// AppendU32 appends the unsigned LEB128 encoding of v to dst.
func AppendU32(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendS64 appends the signed LEB128 encoding of v to dst.
func AppendS64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

func EncodeU32(v uint32) []byte { return AppendU32(nil, v) }
func EncodeS32(v int32) []byte  { return AppendS64(nil, int64(v)) }
