package track

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/yegors/squitter/internal/modes"
)

// MergePosition stores a position frame in the slot of its parity and, once
// both slots hold frames, resolves the global position.
//
// The opposite slot is dropped first when it is more than PairWindow older
// than the arriving frame. On ErrPositionAmbiguous both slots are kept so a
// later frame can complete the pair.
func (t *Track) MergePosition(p *modes.Position, arrival time.Time) error {
	parity := p.CPR.Parity
	cpr := p.CPR
	cpr.Timestamp = arrival
	slot := &Slot{Raw: p.Frame.Hex(), Arrival: arrival, CPR: cpr}

	if opposite := t.slot(parity.Opposite()); opposite != nil && arrival.Sub(opposite.Arrival) > PairWindow {
		t.setSlot(parity.Opposite(), nil)
	}
	t.setSlot(parity, slot)
	t.LastParity = &parity

	if parity == modes.ParityEven {
		t.Archive.Even, t.Archive.EvenAt = slot.Raw, arrival
	} else {
		t.Archive.Odd, t.Archive.OddAt = slot.Raw, arrival
	}

	if t.Even == nil || t.Odd == nil {
		return modes.ErrNotReady
	}

	lat, lon, err := modes.DecodeGlobalPosition(t.Even.CPR, t.Odd.CPR)
	if err != nil {
		return err
	}
	t.Latitude = float64Ptr(lat)
	t.Longitude = float64Ptr(lon)
	t.PositionTime = arrival
	t.PositionComputed = true
	return nil
}

func (t *Track) slot(p modes.Parity) *Slot {
	if p == modes.ParityOdd {
		return t.Odd
	}
	return t.Even
}

func (t *Track) setSlot(p modes.Parity, s *Slot) {
	if p == modes.ParityOdd {
		t.Odd = s
	} else {
		t.Even = s
	}
}

// Apply merges one decoded message into the track. It reports whether any
// field changed; the error collects every field that failed to decode, each of
// which left its previous value in place.
func (t *Track) Apply(m modes.Message, arrival time.Time) (bool, error) {
	t.Messages++

	switch msg := m.(type) {
	case *modes.Identification:
		return t.applyIdentification(msg)
	case *modes.Position:
		return t.applyPosition(msg, arrival)
	case *modes.Velocity:
		return t.applyVelocity(msg)
	case *modes.OperationalStatus:
		return t.applyOperationalStatus(msg.OperationalStatusFields)
	case *modes.Ignored:
		return false, nil
	default:
		return false, modes.ErrUnsupportedTypecode
	}
}

func (t *Track) applyIdentification(msg *modes.Identification) (bool, error) {
	if err := modes.ValidateCallsign(msg.Callsign); err != nil {
		return false, err
	}
	t.Callsign = msg.Callsign
	t.Archive.Identification = msg.Frame.Hex()
	t.DecodedFields++
	return true, nil
}

func (t *Track) applyPosition(msg *modes.Position, arrival time.Time) (bool, error) {
	var errs error

	posErr := t.MergePosition(msg, arrival)
	if posErr == nil {
		t.DecodedFields++
	}
	errs = multierr.Append(errs, posErr)

	if alt, err := modes.DecodeAltitude(msg.Frame); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		t.Altitude = intPtr(alt)
		t.DecodedFields++
	}

	t.deriveLegacyQuality(msg.Typecode, msg.SupplementBit)

	// The slot itself always changes, even when nothing could be decoded yet.
	return true, errs
}

// deriveLegacyQuality fills NIC from the position typecode unless an
// operational status message already supplied it, then sets NACp = NIC when
// NACp is unknown or was itself derived this way. The fallback is a numeric
// approximation, not a standards mapping.
func (t *Track) deriveLegacyQuality(typecode int, sb uint8) {
	if t.NIC.Source != SourceOperationalStatus {
		if nic, ok := modes.LegacyNIC(typecode, sb); ok {
			t.NIC = Quality{Value: nic, Source: SourceLegacy}
		}
	}
	if (!t.NACp.IsSet() || t.NACp.Source == SourceLegacy) && t.NIC.IsSet() {
		t.NACp = Quality{Value: t.NIC.Value, Source: SourceLegacy}
	}
}

// applyVelocity always stores NACv. Speed, heading and rate keep their prior
// values when the subtype could not be decoded.
func (t *Track) applyVelocity(msg *modes.Velocity) (bool, error) {
	nacv := Quality{Value: msg.NACv, Source: SourceVelocity}
	if msg.Partial {
		changed := t.NACv != nacv
		t.NACv = nacv
		return changed, fmt.Errorf("%w: velocity subtype %d", modes.ErrDecodeFailure, msg.Subtype)
	}

	t.HorizontalVelocity = float64Ptr(msg.Speed)
	t.GroundTrackHeading = float64Ptr(msg.Heading)
	t.VerticalVelocity = intPtr(msg.VerticalRate)
	t.SpeedType = msg.SpeedType
	t.NACv = nacv
	t.Archive.Velocity = msg.Frame.Hex()
	t.DecodedFields++
	return true, nil
}

// applyOperationalStatus applies every in-range field. Out of range fields are
// reported and leave the previous value untouched.
func (t *Track) applyOperationalStatus(s modes.OperationalStatusFields) (bool, error) {
	var (
		errs    error
		applied bool
	)
	for _, field := range modes.QualityFields {
		value := s.Get(field)
		if err := modes.CheckQuality(field, value); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		*t.quality(field) = Quality{Value: value, Source: SourceOperationalStatus}
		applied = true
	}
	if applied {
		t.DecodedFields++
	}
	return applied, errs
}
