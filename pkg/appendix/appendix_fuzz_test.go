package appendix

import (
	"strconv"
	"testing"
)

// FuzzPackUnpack checks the round trip for every in-range field combination.
func FuzzPackUnpack(f *testing.F) {
	f.Add(uint32(0), uint64(0), uint16(0))
	f.Add(uint32(13), uint64(255), uint16(44))
	f.Add(^uint32(0), ^uint64(0), ^uint16(0))
	f.Add(uint32(1), uint64(1)<<63, uint16(1))

	f.Fuzz(func(t *testing.T, flags uint32, builder uint64, feeRate uint16) {
		in := Fields{
			OrderFlags:     int64(flags),
			Builder:        strconv.FormatUint(builder, 10),
			BuilderFeeRate: int64(feeRate),
		}

		packed, err := Pack(in)
		if err != nil {
			t.Fatalf("Pack(%+v) failed: %v", in, err)
		}
		if len(packed) != Bits {
			t.Fatalf("expected %d chars, got %d", Bits, len(packed))
		}
		for i := 0; i < len(packed); i++ {
			if packed[i] != '0' && packed[i] != '1' {
				t.Fatalf("non-binary char %q at %d", packed[i], i)
			}
		}

		out, err := Unpack(packed)
		if err != nil {
			t.Fatalf("Unpack failed: %v", err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
		}
	})
}

// FuzzParseBuilder checks arbitrary input never panics.
func FuzzParseBuilder(f *testing.F) {
	f.Add("0")
	f.Add("0xff")
	f.Add("-1")
	f.Add("99999999999999999999999")

	f.Fuzz(func(t *testing.T, s string) {
		_, _ = ParseBuilder(s)
	})
}
