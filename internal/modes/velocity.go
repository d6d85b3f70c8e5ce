package modes

import (
	"fmt"
	"math"
)

// SpeedType tells whether a velocity message carries ground speed or airspeed
type SpeedType string

const (
	SpeedGround SpeedType = "ground"
	SpeedAir    SpeedType = "air"
)

// VelocityFields are the values decoded from an airborne velocity message
type VelocityFields struct {
	Subtype      int       `json:"subtype"`
	SpeedType    SpeedType `json:"speed_type"`
	Speed        float64   `json:"speed"`         // knots
	Heading      float64   `json:"heading"`       // degrees, [0,360)
	VerticalRate int       `json:"vertical_rate"` // ft/min, negative when descending
	NACv         int       `json:"nac_v"`

	// Partial is set when the subtype is unknown and only NACv was read
	Partial bool `json:"partial,omitempty"`
}

// DecodeVelocity decodes an airborne velocity message (typecode 19).
// Subtypes 1 and 2 carry east-west/north-south ground speed components,
// subtypes 3 and 4 carry heading and airspeed. NACv is read for every
// subtype; an unknown subtype returns the partial fields with ErrDecodeFailure.
func DecodeVelocity(f Frame) (VelocityFields, error) {
	var v VelocityFields
	if _, err := requireTypecode(f, 19, 19); err != nil {
		return v, err
	}

	v.Subtype = int(f.Bits(37, 3))
	v.NACv = int(f.Bits(43, 3))

	switch v.Subtype {
	case 1, 2:
		ew := signedComponent(f, 45, 46)
		ns := signedComponent(f, 56, 57)
		v.SpeedType = SpeedGround
		v.Speed = math.Hypot(ew, ns)
		v.Heading = normalizeHeading(math.Atan2(ew, ns) * 180 / math.Pi)
	case 3, 4:
		v.SpeedType = SpeedAir
		v.Heading = float64(f.Bits(46, 10)) / 1024 * 360
		v.Speed = float64(f.Bits(57, 10))
	default:
		v.Partial = true
		return v, fmt.Errorf("%w: velocity subtype %d", ErrDecodeFailure, v.Subtype)
	}

	rate := (int(f.Bits(69, 9)) - 1) * 64
	if f.Bit(68) {
		rate = -rate
	}
	v.VerticalRate = rate

	return v, nil
}

// signedComponent reads a sign bit followed by a 10-bit magnitude that is
// offset by one
func signedComponent(f Frame, signBit, magStart int) float64 {
	value := float64(int(f.Bits(magStart, 10)) - 1)
	if f.Bit(signBit) {
		value = -value
	}
	return value
}

func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
