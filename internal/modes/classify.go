package modes

import (
	"fmt"
)

// DFExtendedSquitter is the downlink format of ADS-B extended squitters
const DFExtendedSquitter = 17

// Kind is the message family a typecode routes to
type Kind int

const (
	KindIgnored Kind = iota
	KindIdentification
	KindSurface
	KindPosition
	KindVelocity
	KindOperationalStatus
)

func (k Kind) String() string {
	switch k {
	case KindIdentification:
		return "identification"
	case KindSurface:
		return "surface"
	case KindPosition:
		return "position"
	case KindVelocity:
		return "velocity"
	case KindOperationalStatus:
		return "operational_status"
	default:
		return "ignored"
	}
}

// Decodable reports whether frames of this kind update a track.
// Surface positions are recognised but not decoded.
func (k Kind) Decodable() bool {
	switch k {
	case KindIdentification, KindPosition, KindVelocity, KindOperationalStatus:
		return true
	}
	return false
}

// KindOf routes a typecode to its message family
func KindOf(typecode int) Kind {
	switch {
	case typecode >= 1 && typecode <= 4:
		return KindIdentification
	case typecode >= 5 && typecode <= 8:
		return KindSurface
	case typecode >= 9 && typecode <= 18:
		return KindPosition
	case typecode == 19:
		return KindVelocity
	case typecode == 31:
		return KindOperationalStatus
	default:
		return KindIgnored
	}
}

// Header holds the fields common to every extended squitter
type Header struct {
	DF       int    `json:"df"`
	ICAO     string `json:"icao"`
	Typecode int    `json:"typecode"`
	Kind     Kind   `json:"-"`
}

// DownlinkFormat returns bits [0,5)
func DownlinkFormat(f Frame) int {
	return int(f.Bits(0, 5))
}

// ICAO returns the 24-bit aircraft address as six upper case hex characters
func ICAO(f Frame) string {
	return fmt.Sprintf("%06X", f.Bits(8, 24))
}

// Typecode returns bits [32,37)
func Typecode(f Frame) int {
	return int(f.Bits(32, 5))
}

// Classify reads the header of an extended squitter. Frames with any downlink
// format other than 17 are rejected with ErrUnsupportedFrame.
func Classify(f Frame) (Header, error) {
	df := DownlinkFormat(f)
	if df != DFExtendedSquitter {
		return Header{DF: df}, fmt.Errorf("%w: DF%d", ErrUnsupportedFrame, df)
	}
	tc := Typecode(f)
	return Header{
		DF:       df,
		ICAO:     ICAO(f),
		Typecode: tc,
		Kind:     KindOf(tc),
	}, nil
}

// ClassifyHex parses and classifies a raw hex frame in one step
func ClassifyHex(raw string) (Frame, Header, error) {
	f, err := ParseFrame(raw)
	if err != nil {
		return f, Header{}, err
	}
	h, err := Classify(f)
	return f, h, err
}

func requireTypecode(f Frame, lo, hi int) (int, error) {
	tc := Typecode(f)
	if tc < lo || tc > hi {
		return tc, fmt.Errorf("%w: %d not in [%d,%d]", ErrUnsupportedTypecode, tc, lo, hi)
	}
	return tc, nil
}
