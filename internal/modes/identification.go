package modes

import (
	"fmt"
	"strings"
)

// MaxCallsignLen is the number of characters an identification message carries
const MaxCallsignLen = 8

// callsignCharset maps 6-bit character codes to characters.
//
//	1-26   'A'-'Z'
//	32     '_' (space)
//	48-57  '0'-'9'
//
// Every '#' is an unassigned code and is skipped rather than emitted.
const callsignCharset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ#####_###############0123456789######"

const callsignFiller = '#'

// DecodeIdentification decodes the callsign of an identification message
// (typecode 1-4). Trailing spaces are stripped.
func DecodeIdentification(f Frame) (string, error) {
	if _, err := requireTypecode(f, 1, 4); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(MaxCallsignLen)
	for i := 0; i < MaxCallsignLen; i++ {
		c := callsignCharset[f.Bits(40+6*i, 6)]
		if c == callsignFiller {
			continue
		}
		sb.WriteByte(c)
	}

	callsign := strings.TrimRight(sb.String(), "_")
	if callsign == "" {
		return "", fmt.Errorf("%w: empty callsign", ErrDecodeFailure)
	}
	return callsign, nil
}

// ValidateCallsign rejects callsigns that cannot come from an identification message
func ValidateCallsign(callsign string) error {
	if len(callsign) == 0 || len(callsign) > MaxCallsignLen {
		return fmt.Errorf("%w: callsign %q must be 1-%d characters", ErrDecodeFailure, callsign, MaxCallsignLen)
	}
	for i := 0; i < len(callsign); i++ {
		if c := callsign[i]; c == callsignFiller || strings.IndexByte(callsignCharset, c) < 0 {
			return fmt.Errorf("%w: callsign %q has invalid character %q", ErrDecodeFailure, callsign, c)
		}
	}
	return nil
}
