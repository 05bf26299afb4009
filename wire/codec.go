package wire

import (
	"encoding/binary"
	"fmt"
)

// Encoder builds a stable little-endian encoding of the application
// messages: fixed-width integers, u64-length-prefixed sequences/bytes,
// and u32 discriminants for tagged unions (in source-declaration order),
// matching a bincode-compatible wire format.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) PutTag(tag uint32) { e.PutU32(tag) }

func (e *Encoder) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutI32(v int32) { e.PutU32(uint32(v)) }

func (e *Encoder) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// PutLenBytes writes a u64 length prefix followed by the raw bytes, the
// encoding used for strings, byte arrays (bitsets), and other
// variable-length blobs.
func (e *Encoder) PutLenBytes(b []byte) {
	e.PutU64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) PutString(s string) { e.PutLenBytes([]byte(s)) }

func (e *Encoder) PutBitSet(b *BitSet) { e.PutLenBytes(EncodeBitSet(b)) }

// PutSeqLen writes the u64 length prefix for a sequence or map; the
// caller encodes each element/pair immediately after.
func (e *Encoder) PutSeqLen(n int) { e.PutU64(uint64(n)) }

// Decoder reads values written by Encoder, failing on short input rather
// than panicking.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) take(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, fmt.Errorf("wire: short buffer: need %d bytes, have %d", n, d.Remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) Tag() (uint32, error) { return d.U32() }

func (d *Decoder) U16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) U32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

func (d *Decoder) U64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// maxSeqLen guards against a corrupt or hostile length prefix causing an
// enormous allocation before the data backing it has even been checked.
const maxSeqLen = 1 << 24

func (d *Decoder) LenBytes() ([]byte, error) {
	n, err := d.U64()
	if err != nil {
		return nil, err
	}
	if n > maxSeqLen {
		return nil, fmt.Errorf("wire: length prefix %d exceeds sanity limit", n)
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *Decoder) String() (string, error) {
	b, err := d.LenBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) BitSet() (*BitSet, error) {
	b, err := d.LenBytes()
	if err != nil {
		return nil, err
	}
	return DecodeBitSet(b)
}

// SeqLen reads a u64 sequence/map length prefix, rejecting unreasonably
// large counts the same way LenBytes does.
func (d *Decoder) SeqLen() (int, error) {
	n, err := d.U64()
	if err != nil {
		return 0, err
	}
	if n > maxSeqLen {
		return 0, fmt.Errorf("wire: sequence length %d exceeds sanity limit", n)
	}
	return int(n), nil
}
