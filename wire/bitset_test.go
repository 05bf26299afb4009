package wire

import (
	"reflect"
	"testing"
)

func TestBitSetRoundTrip(t *testing.T) {
	b := NewBitSet(70)
	for _, i := range []int{0, 1, 31, 32, 63, 69} {
		b.Set(i)
	}

	enc := EncodeBitSet(b)
	if len(enc)%4 != 0 {
		t.Fatalf("encoded length %d not a multiple of 4", len(enc))
	}

	dec, err := DecodeBitSet(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !b.Equal(dec) {
		t.Fatalf("round trip mismatch: %v vs %v", b.Ones(), dec.Ones())
	}
	if got, want := dec.Ones(), []int{0, 1, 31, 32, 63, 69}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Ones() = %v, want %v", got, want)
	}
}

func TestBitSetEmpty(t *testing.T) {
	b := NewBitSet(0)
	enc := EncodeBitSet(b)
	if len(enc) != 0 {
		t.Fatalf("expected empty encoding, got %d bytes", len(enc))
	}
	dec, err := DecodeBitSet(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Ones()) != 0 {
		t.Fatalf("expected no set bits")
	}
}

func TestDecodeBitSetRejectsUnaligned(t *testing.T) {
	if _, err := DecodeBitSet([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for unaligned byte array")
	}
}
