// Package appendix packs order metadata into the fixed 128-bit appendix record.
//
// Layout (bit 0 is the least significant bit):
//
//	[0, 32)    orderFlags
//	[32, 96)   builder identifier
//	[96, 112)  builderFeeRate
//	[112, 128) reserved, always zero
//
// The wire form is exactly 128 ASCII '0'/'1' characters, most significant bit first.
package appendix

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Bits = 128

	orderFlagsWidth     = 32
	builderWidth        = 64
	builderFeeRateWidth = 16

	orderFlagsMask     = uint64(1)<<orderFlagsWidth - 1
	builderFeeRateMask = uint64(1)<<builderFeeRateWidth - 1
)

var (
	// ErrInvalidBuilder marks a malformed, empty or out-of-range builder id.
	// It is recoverable at the submission policy layer.
	ErrInvalidBuilder = errors.New("InvalidBuilder")

	// ErrFieldWidth marks a numeric field that does not fit its allocated bits.
	ErrFieldWidth = errors.New("field exceeds allocated bit width")

	// ErrMalformedAppendix is returned by Unpack for anything but 128 binary digits.
	ErrMalformedAppendix = errors.New("appendix must be a 128-bit binary string")
)

// Fields are the values carried by one appendix record.
// Builder is a 0x-prefixed hex or plain decimal string on input and is always
// rendered back as decimal by Unpack.
type Fields struct {
	OrderFlags     int64  `json:"orderFlags"`
	Builder        string `json:"builder"`
	BuilderFeeRate int64  `json:"builderFeeRate"`
}

// word is the 128-bit record split into two halves.
type word struct {
	hi uint64 // bits 64..127
	lo uint64 // bits 0..63
}

// Pack validates the fields and renders the 128-character record.
func Pack(f Fields) (string, error) {
	flags, err := checkWidth(f.OrderFlags, orderFlagsMask, "orderFlags")
	if err != nil {
		return "", err
	}
	builder, err := ParseBuilder(f.Builder)
	if err != nil {
		return "", err
	}
	feeRate, err := checkWidth(f.BuilderFeeRate, builderFeeRateMask, "builderFeeRate")
	if err != nil {
		return "", err
	}

	var w word
	w.lo = flags | builder<<32
	w.hi = builder>>32 | feeRate<<32

	return fmt.Sprintf("%064b%064b", w.hi, w.lo), nil
}

// Unpack parses a record produced by Pack. Reserved bits are ignored.
func Unpack(s string) (Fields, error) {
	if len(s) != Bits || strings.Trim(s, "01") != "" {
		return Fields{}, ErrMalformedAppendix
	}

	hi, err := strconv.ParseUint(s[:64], 2, 64)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrMalformedAppendix, err)
	}
	lo, err := strconv.ParseUint(s[64:], 2, 64)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrMalformedAppendix, err)
	}

	builder := lo>>32 | (hi&0xFFFFFFFF)<<32
	return Fields{
		OrderFlags:     int64(lo & orderFlagsMask),
		Builder:        strconv.FormatUint(builder, 10),
		BuilderFeeRate: int64(hi >> 32 & builderFeeRateMask),
	}, nil
}

// ParseBuilder accepts "0x"-prefixed hex or plain decimal and returns the
// 64-bit builder id. Anything else, including negatives and values above
// 2^64-1, is ErrInvalidBuilder.
func ParseBuilder(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrInvalidBuilder
	}

	digits, base := s, 10
	if strings.HasPrefix(s, "0x") {
		digits, base = s[2:], 16
	}
	if digits == "" || !allDigits(digits, base) {
		return 0, ErrInvalidBuilder
	}

	v, err := strconv.ParseUint(digits, base, builderWidth)
	if err != nil {
		return 0, ErrInvalidBuilder
	}
	return v, nil
}

func allDigits(s string, base int) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case base == 16 && (c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'):
		default:
			return false
		}
	}
	return true
}

func checkWidth(v int64, mask uint64, name string) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrFieldWidth, name)
	}
	if uint64(v) > mask {
		return 0, fmt.Errorf("%w: %s", ErrFieldWidth, name)
	}
	return uint64(v), nil
}
