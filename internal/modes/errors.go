package modes

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat means the frame is not 28 hex characters
	ErrFormat = errors.New("malformed frame")
	// ErrUnsupportedFrame means the downlink format is not an extended squitter
	ErrUnsupportedFrame = errors.New("unsupported downlink format")
	// ErrUnsupportedTypecode means a decoder was handed a frame of the wrong typecode
	ErrUnsupportedTypecode = errors.New("unsupported typecode")
	// ErrDecodeFailure means a field could not be decoded from an otherwise valid frame
	ErrDecodeFailure = errors.New("decode failure")
	// ErrPositionAmbiguous means an even/odd pair straddles a longitude zone boundary
	ErrPositionAmbiguous = errors.New("position ambiguous")
	// ErrNotReady means no global position can be computed yet
	ErrNotReady = errors.New("position not ready")
	// ErrQualityFieldOutOfRange means a quality indicator exceeded its valid range
	ErrQualityFieldOutOfRange = errors.New("quality field out of range")
)

// FieldError reports a single quality field that failed range validation
type FieldError struct {
	Field QualityField
	Value int
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s=%d outside [0,%d]: %v", e.Field, e.Value, e.Field.Max(), ErrQualityFieldOutOfRange)
}

func (e *FieldError) Unwrap() error {
	return ErrQualityFieldOutOfRange
}

// IsDropped reports whether err means the whole frame was rejected before any
// track was touched.
func IsDropped(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrUnsupportedFrame)
}
