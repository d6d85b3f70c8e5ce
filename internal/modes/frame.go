// Package modes decodes Mode-S extended squitter (1090ES) frames.
//
// Everything in this package is stateless: a Frame is an immutable value and
// every decoder is a pure function of it. Cross-frame state such as CPR pairing
// lives in the track package.
package modes

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// FrameHexLen is the length of a long (112-bit) Mode-S frame in hex characters
	FrameHexLen = 28
	// FrameBits is the number of bits in a long Mode-S frame
	FrameBits = 112
)

// Frame is a validated 112-bit Mode-S frame
type Frame struct {
	data [FrameBits / 8]byte
}

// ParseFrame validates a 28 character hex string and converts it to a Frame.
// Upper and lower case are both accepted.
func ParseFrame(s string) (Frame, error) {
	var f Frame
	if len(s) != FrameHexLen {
		return f, fmt.Errorf("%w: expected %d hex characters, got %d", ErrFormat, FrameHexLen, len(s))
	}
	if _, err := hex.Decode(f.data[:], []byte(s)); err != nil {
		return f, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return f, nil
}

// MustParseFrame is like ParseFrame but panics on error. Intended for constants in tests.
func MustParseFrame(s string) Frame {
	f, err := ParseFrame(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Bits extracts the unsigned integer stored in bits [start, start+n),
// most significant bit first. It panics when the range falls outside the frame
// or n exceeds 64, the same way slice indexing does.
func (f Frame) Bits(start, n int) uint64 {
	if start < 0 || n < 0 || n > 64 || start+n > FrameBits {
		panic(fmt.Sprintf("modes: bit range [%d,%d) out of bounds", start, start+n))
	}
	var v uint64
	for i := start; i < start+n; i++ {
		v = v<<1 | uint64(f.data[i/8]>>(7-uint(i%8))&1)
	}
	return v
}

// Bit reports whether bit i is set
func (f Frame) Bit(i int) bool {
	return f.Bits(i, 1) == 1
}

// Hex returns the canonical upper case hex form of the frame
func (f Frame) Hex() string {
	return strings.ToUpper(hex.EncodeToString(f.data[:]))
}

func (f Frame) String() string {
	return f.Hex()
}
