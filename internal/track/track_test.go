package track

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/yegors/squitter/internal/modes"
)

const (
	frameIdent    = "8D4840D6202CC371C32CE0576098"
	frameEven     = "8D40621D58C382D690C8AC2863A7"
	frameOdd      = "8D40621D58C386435CC412692AD6"
	frameVelocity = "8D485020994409940838175B284F"
	frameOpStatus = "8D4840D6F801A095000000000000"
	frameGillham  = "8D4840D6580A0000000000000000"
	straddleEven  = "8D4840D6580B02FAB603E8000000"
	straddleOdd   = "8D4840D6580B06DD7003E8000000"

	// Velocity subtype 0 with NACv 2
	frameVelocityST0 = "8D48502098080000000000000000"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, raw string) modes.Message {
	t.Helper()
	m, err := modes.DecodeHex(raw)
	if err != nil {
		t.Fatalf("DecodeHex(%s): %v", raw, err)
	}
	return m
}

func position(t *testing.T, raw string) *modes.Position {
	t.Helper()
	p, ok := decode(t, raw).(*modes.Position)
	if !ok {
		t.Fatalf("%s is not a position message", raw)
	}
	return p
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-4
}

func TestMergePositionAnchors(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
		lat    float64
		lon    float64
	}{
		{"odd then even", frameOdd, frameEven, 52.25720, 3.91937},
		{"even then odd", frameEven, frameOdd, 52.26578, 3.93891},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTrack("40621D", t0)
			if err := tr.MergePosition(position(t, tt.first), t0); !errors.Is(err, modes.ErrNotReady) {
				t.Fatalf("first frame: expected ErrNotReady, got %v", err)
			}
			if tr.HasPosition() {
				t.Fatal("position resolved from a single frame")
			}
			if err := tr.MergePosition(position(t, tt.second), t0.Add(time.Second)); err != nil {
				t.Fatalf("second frame: %v", err)
			}
			if !near(*tr.Latitude, tt.lat) || !near(*tr.Longitude, tt.lon) {
				t.Errorf("position = (%.5f, %.5f), want (%.5f, %.5f)", *tr.Latitude, *tr.Longitude, tt.lat, tt.lon)
			}
			if !tr.PositionComputed {
				t.Error("PositionComputed not set")
			}
		})
	}
}

func TestMergePositionStaleness(t *testing.T) {
	tr := NewTrack("40621D", t0)
	tr.MergePosition(position(t, frameEven), t0)

	// Exactly on the window boundary still pairs.
	if err := tr.MergePosition(position(t, frameOdd), t0.Add(PairWindow)); err != nil {
		t.Fatalf("pair at window boundary: %v", err)
	}

	tr = NewTrack("40621D", t0)
	tr.MergePosition(position(t, frameEven), t0)
	err := tr.MergePosition(position(t, frameOdd), t0.Add(PairWindow+time.Millisecond))
	if !errors.Is(err, modes.ErrNotReady) {
		t.Fatalf("expected ErrNotReady after stale even frame, got %v", err)
	}
	if tr.Even != nil {
		t.Error("stale even slot was not cleared")
	}
	if tr.Odd == nil || *tr.LastParity != modes.ParityOdd {
		t.Error("odd frame not stored")
	}
	if tr.HasPosition() {
		t.Error("position computed from a stale pair")
	}

	// A fresh even frame completes the pair.
	if err := tr.MergePosition(position(t, frameEven), t0.Add(12*time.Second)); err != nil {
		t.Fatalf("fresh pair: %v", err)
	}
	if !near(*tr.Latitude, 52.25720) {
		t.Errorf("latitude = %.5f, want 52.25720", *tr.Latitude)
	}
}

func TestMergePositionZoneMismatch(t *testing.T) {
	tr := NewTrack("4840D6", t0)
	tr.MergePosition(position(t, frameOdd), t0)
	if err := tr.MergePosition(position(t, frameEven), t0.Add(time.Second)); err != nil {
		t.Fatalf("initial pair: %v", err)
	}
	lat, lon := *tr.Latitude, *tr.Longitude

	// Past the pair window so the straddling frames only pair with each other.
	tr.MergePosition(position(t, straddleEven), t0.Add(20*time.Second))
	err := tr.MergePosition(position(t, straddleOdd), t0.Add(21*time.Second))
	if !errors.Is(err, modes.ErrPositionAmbiguous) {
		t.Fatalf("expected ErrPositionAmbiguous, got %v", err)
	}
	if *tr.Latitude != lat || *tr.Longitude != lon {
		t.Error("position changed after ambiguous pair")
	}
	if tr.Even == nil || tr.Odd == nil {
		t.Error("slots must be retained after ambiguous pair")
	}
}

func TestMergePositionOverwritesSameParity(t *testing.T) {
	tr := NewTrack("40621D", t0)
	p := position(t, frameEven)

	tr.MergePosition(p, t0)
	tr.MergePosition(p, t0.Add(2*time.Second))

	if tr.Odd != nil {
		t.Fatal("odd slot populated by even frames")
	}
	if tr.Even.Raw != frameEven || !tr.Even.Arrival.Equal(t0.Add(2*time.Second)) {
		t.Errorf("even slot = %+v, want latest arrival", tr.Even)
	}
	if tr.HasPosition() {
		t.Error("position computed from one parity")
	}
}

func TestApplyPositionAltitudeIndependent(t *testing.T) {
	tr := NewTrack("40621D", t0)
	if _, err := tr.Apply(decode(t, frameOdd), t0); !errors.Is(err, modes.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if tr.Altitude == nil || *tr.Altitude != 38000 {
		t.Fatalf("altitude = %v, want 38000", tr.Altitude)
	}
	if _, err := tr.Apply(decode(t, frameEven), t0.Add(time.Second)); err != nil {
		t.Fatalf("pair: %v", err)
	}
	lat := *tr.Latitude

	// Gillham coded altitude: the frame is still buffered but altitude is kept.
	changed, err := tr.Apply(decode(t, frameGillham), t0.Add(30*time.Second))
	if !changed {
		t.Error("position frame should always change the slot")
	}
	if !errors.Is(err, modes.ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}
	if *tr.Altitude != 38000 {
		t.Errorf("altitude = %d, want previous 38000", *tr.Altitude)
	}
	if *tr.Latitude != lat {
		t.Error("latitude changed")
	}
}

func TestApplyIdentificationAndVelocity(t *testing.T) {
	tr := NewTrack("4840D6", t0)
	changed, err := tr.Apply(decode(t, frameIdent), t0)
	if err != nil || !changed {
		t.Fatalf("Apply identification = %v, %v", changed, err)
	}
	if tr.Callsign != "KLM1023" || tr.Archive.Identification != frameIdent {
		t.Errorf("callsign/archive = %q/%q", tr.Callsign, tr.Archive.Identification)
	}

	// Callsigns that cannot fit the 8 character field are refused.
	bad := &modes.Identification{Header: modes.Header{ICAO: "4840D6"}, Callsign: "TOOLONG123"}
	if _, err := tr.Apply(bad, t0); !errors.Is(err, modes.ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}
	if tr.Callsign != "KLM1023" {
		t.Errorf("callsign overwritten with %q", tr.Callsign)
	}

	if _, err := tr.Apply(decode(t, frameVelocity), t0); err != nil {
		t.Fatalf("Apply velocity: %v", err)
	}
	if tr.VerticalVelocity == nil || *tr.VerticalVelocity != -832 {
		t.Errorf("vertical velocity = %v", tr.VerticalVelocity)
	}
	if tr.NACv != (Quality{Value: 1, Source: SourceVelocity}) {
		t.Errorf("NACv = %+v", tr.NACv)
	}
	if tr.DecodedFields != 2 || tr.Messages != 3 {
		t.Errorf("decoded/messages = %d/%d, want 2/3", tr.DecodedFields, tr.Messages)
	}
}

func TestApplyVelocityUnknownSubtypeKeepsNACv(t *testing.T) {
	tr := NewTrack("485020", t0)
	if _, err := tr.Apply(decode(t, frameVelocity), t0); err != nil {
		t.Fatalf("Apply velocity: %v", err)
	}

	msg, err := modes.DecodeHex(frameVelocityST0)
	if !errors.Is(err, modes.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
	changed, err := tr.Apply(msg, t0.Add(time.Second))
	if !errors.Is(err, modes.ErrDecodeFailure) {
		t.Errorf("Apply: expected ErrDecodeFailure, got %v", err)
	}
	if !changed {
		t.Error("NACv change not reported")
	}
	if tr.NACv != (Quality{Value: 2, Source: SourceVelocity}) {
		t.Errorf("NACv = %+v, want velocity 2", tr.NACv)
	}
	if tr.VerticalVelocity == nil || *tr.VerticalVelocity != -832 {
		t.Errorf("vertical velocity = %v, want prior -832", tr.VerticalVelocity)
	}
	if tr.Archive.Velocity != frameVelocity || tr.DecodedFields != 1 {
		t.Errorf("archive/decoded = %q/%d", tr.Archive.Velocity, tr.DecodedFields)
	}
}

func TestLegacyQualityFollowsNIC(t *testing.T) {
	tests := []struct {
		name     string
		opStatus bool
		wantNACp Quality
	}{
		{"derived NACp is refreshed", false, Quality{Value: 11, Source: SourceLegacy}},
		{"operational status NACp is kept", true, Quality{Value: 7, Source: SourceOperationalStatus}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTrack("40621D", t0)
			if tt.opStatus {
				tr.NACp = Quality{Value: 7, Source: SourceOperationalStatus}
			}
			tr.deriveLegacyQuality(11, 1)
			if tr.NIC != (Quality{Value: 9, Source: SourceLegacy}) {
				t.Fatalf("NIC = %+v, want legacy 9", tr.NIC)
			}
			tr.deriveLegacyQuality(9, 0)
			if tr.NIC != (Quality{Value: 11, Source: SourceLegacy}) {
				t.Errorf("NIC = %+v, want legacy 11", tr.NIC)
			}
			if tr.NACp != tt.wantNACp {
				t.Errorf("NACp = %+v, want %+v", tr.NACp, tt.wantNACp)
			}
		})
	}
}

func TestLegacyQualityDerivation(t *testing.T) {
	tr := NewTrack("40621D", t0)
	tr.Apply(decode(t, frameEven), t0)

	if tr.NIC != (Quality{Value: 8, Source: SourceLegacy}) {
		t.Errorf("NIC = %+v, want legacy 8", tr.NIC)
	}
	if tr.NACp != (Quality{Value: 8, Source: SourceLegacy}) {
		t.Errorf("NACp = %+v, want legacy fallback 8", tr.NACp)
	}
}

func TestOperationalStatusIsAuthoritative(t *testing.T) {
	tr := NewTrack("4840D6", t0)
	if _, err := tr.Apply(decode(t, frameOpStatus), t0); err != nil {
		t.Fatalf("Apply operational status: %v", err)
	}
	tr.Apply(decode(t, frameEven), t0.Add(time.Second))

	want := map[modes.QualityField]int{
		modes.FieldNACp: 9,
		modes.FieldNACv: 2,
		modes.FieldNIC:  8,
		modes.FieldSIL:  3,
		modes.FieldSDA:  2,
	}
	for field, value := range want {
		q := tr.Quality(field)
		if q.Value != value || q.Source != SourceOperationalStatus {
			t.Errorf("%s = %+v, want operational status %d", field, q, value)
		}
	}
}

func TestOperationalStatusOutOfRange(t *testing.T) {
	tr := NewTrack("4840D6", t0)
	msg := &modes.OperationalStatus{
		Header:                  modes.Header{ICAO: "4840D6", Typecode: 31},
		OperationalStatusFields: modes.OperationalStatusFields{NACp: 16, NACv: 2, NIC: 8, SIL: 3, SDA: 2},
	}

	changed, err := tr.Apply(msg, t0)
	if !errors.Is(err, modes.ErrQualityFieldOutOfRange) {
		t.Fatalf("expected ErrQualityFieldOutOfRange, got %v", err)
	}
	if !changed {
		t.Error("valid fields should still be applied")
	}
	if tr.NACp.IsSet() {
		t.Errorf("NACp = %+v, want unset", tr.NACp)
	}
	if tr.NIC.Value != 8 || tr.SDA.Value != 2 {
		t.Errorf("NIC/SDA = %d/%d, want 8/2", tr.NIC.Value, tr.SDA.Value)
	}
}

func TestApplyIgnored(t *testing.T) {
	tr := NewTrack("4840D6", t0)
	changed, err := tr.Apply(&modes.Ignored{}, t0)
	if changed || err != nil {
		t.Errorf("Apply ignored = %v, %v", changed, err)
	}
}
