package modes

import "fmt"

// DecodeAltitude decodes the barometric altitude of an airborne position
// message (typecode 9-18) in feet. Only 25 ft increments (Q-bit set) are
// supported; Gillham coded altitudes fail with ErrDecodeFailure.
func DecodeAltitude(f Frame) (int, error) {
	if _, err := requireTypecode(f, 9, 18); err != nil {
		return 0, err
	}
	if !f.Bit(47) {
		return 0, fmt.Errorf("%w: altitude in 100 ft Gillham code", ErrDecodeFailure)
	}
	n := f.Bits(40, 7)<<4 | f.Bits(48, 4)
	return int(n)*25 - 1000, nil
}
