package appendix

import (
	"errors"
	"strings"
	"testing"
)

func TestPack_GoldenVectors(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		want   string
	}{
		{
			name:   "Small values",
			fields: Fields{OrderFlags: 13, Builder: "255", BuilderFeeRate: 44},
			want:   "00000000000000000000000000101100000000000000000000000000000000000000000000000000000000001111111100000000000000000000000000001101",
		},
		{
			name:   "Hex builder renders the same bits",
			fields: Fields{OrderFlags: 13, Builder: "0xff", BuilderFeeRate: 44},
			want:   "00000000000000000000000000101100000000000000000000000000000000000000000000000000000000001111111100000000000000000000000000001101",
		},
		{
			name:   "All fields at max width",
			fields: Fields{OrderFlags: 1<<32 - 1, Builder: "18446744073709551615", BuilderFeeRate: 1<<16 - 1},
			want:   "00000000000000001111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111111",
		},
		{
			name:   "All zero",
			fields: Fields{Builder: "0"},
			want:   strings.Repeat("0", 128),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pack(tt.fields)
			if err != nil {
				t.Fatalf("Pack failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Pack mismatch\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	in := Fields{OrderFlags: 13, Builder: "255", BuilderFeeRate: 44}

	packed, err := Pack(in)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if len(packed) != Bits {
		t.Fatalf("expected %d chars, got %d", Bits, len(packed))
	}

	out, err := Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestUnpack_HexBuilderComesBackDecimal(t *testing.T) {
	packed, err := Pack(Fields{OrderFlags: 1, Builder: "0xDEADBEEF", BuilderFeeRate: 2})
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	out, err := Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if out.Builder != "3735928559" {
		t.Errorf("expected decimal builder 3735928559, got %s", out.Builder)
	}
}

func TestPack_InvalidBuilder(t *testing.T) {
	for _, builder := range []string{
		"",
		"   ",
		"builder-x",
		"-1",
		"0x",
		"0xZZ",
		"12a",
		"18446744073709551616", // 2^64
		"0x10000000000000000",  // 2^64
	} {
		t.Run(builder, func(t *testing.T) {
			_, err := Pack(Fields{OrderFlags: 1, Builder: builder, BuilderFeeRate: 1})
			if !errors.Is(err, ErrInvalidBuilder) {
				t.Errorf("expected ErrInvalidBuilder, got %v", err)
			}
		})
	}
}

func TestPack_FieldWidth(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
	}{
		{"Negative flags", Fields{OrderFlags: -1, Builder: "1"}},
		{"Flags over 32 bits", Fields{OrderFlags: 1 << 32, Builder: "1"}},
		{"Negative fee rate", Fields{Builder: "1", BuilderFeeRate: -1}},
		{"Fee rate over 16 bits", Fields{Builder: "1", BuilderFeeRate: 1 << 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Pack(tt.fields)
			if !errors.Is(err, ErrFieldWidth) {
				t.Errorf("expected ErrFieldWidth, got %v", err)
			}
			if errors.Is(err, ErrInvalidBuilder) {
				t.Error("width violations must not be reported as InvalidBuilder")
			}
		})
	}
}

func TestUnpack_Rejects(t *testing.T) {
	for name, s := range map[string]string{
		"Too short":   strings.Repeat("0", 127),
		"Too long":    strings.Repeat("1", 129),
		"Non binary":  strings.Repeat("0", 127) + "2",
		"Empty":       "",
		"Whitespaced": " " + strings.Repeat("0", 127),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Unpack(s); !errors.Is(err, ErrMalformedAppendix) {
				t.Errorf("expected ErrMalformedAppendix, got %v", err)
			}
		})
	}
}

func TestUnpack_IgnoresReservedBits(t *testing.T) {
	s := strings.Repeat("1", 16) + strings.Repeat("0", 112)
	out, err := Unpack(s)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if out.OrderFlags != 0 || out.Builder != "0" || out.BuilderFeeRate != 0 {
		t.Errorf("reserved bits leaked into fields: %+v", out)
	}
}
