package wire

import "testing"

func TestCodecRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PutTag(2)
	e.PutU16(0xBEEF)
	e.PutI32(-12345)
	e.PutString("hello, entangle")
	bs := NewBitSet(40)
	bs.Set(0)
	bs.Set(39)
	e.PutBitSet(bs)
	e.PutSeqLen(3)
	for i := 0; i < 3; i++ {
		e.PutU32(uint32(i))
	}

	d := NewDecoder(e.Bytes())
	if tag, err := d.Tag(); err != nil || tag != 2 {
		t.Fatalf("tag = %d, %v; want 2, nil", tag, err)
	}
	if v, err := d.U16(); err != nil || v != 0xBEEF {
		t.Fatalf("u16 = %x, %v", v, err)
	}
	if v, err := d.I32(); err != nil || v != -12345 {
		t.Fatalf("i32 = %d, %v", v, err)
	}
	if s, err := d.String(); err != nil || s != "hello, entangle" {
		t.Fatalf("string = %q, %v", s, err)
	}
	gotBS, err := d.BitSet()
	if err != nil {
		t.Fatalf("bitset: %v", err)
	}
	if !gotBS.Equal(bs) {
		t.Fatalf("bitset round trip mismatch")
	}
	n, err := d.SeqLen()
	if err != nil || n != 3 {
		t.Fatalf("seqlen = %d, %v", n, err)
	}
	for i := 0; i < 3; i++ {
		v, err := d.U32()
		if err != nil || v != uint32(i) {
			t.Fatalf("u32[%d] = %d, %v", i, v, err)
		}
	}
	if d.Remaining() != 0 {
		t.Fatalf("expected no trailing bytes, got %d", d.Remaining())
	}
}

func TestDecoderRejectsShortBuffer(t *testing.T) {
	d := NewDecoder([]byte{1, 2, 3})
	if _, err := d.U32(); err == nil {
		t.Fatalf("expected error reading u32 from 3-byte buffer")
	}
}

func TestDecoderRejectsOversizedLengthPrefix(t *testing.T) {
	e := NewEncoder()
	e.PutU64(1 << 40)
	d := NewDecoder(e.Bytes())
	if _, err := d.LenBytes(); err == nil {
		t.Fatalf("expected error for oversized length prefix")
	}
}
