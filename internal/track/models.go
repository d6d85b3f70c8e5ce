package track

import (
	"time"

	"github.com/yegors/squitter/internal/modes"
)

// PairWindow is the longest gap allowed between the even and odd frames of a
// CPR pair, measured on local arrival time
const PairWindow = 10 * time.Second

// QualitySource records where a quality indicator came from
type QualitySource string

const (
	SourceUnset             QualitySource = ""
	SourceLegacy            QualitySource = "legacy"             // derived from position typecode
	SourceVelocity          QualitySource = "velocity"           // NACv from an airborne velocity message
	SourceOperationalStatus QualitySource = "operational_status" // typecode 31, authoritative
)

// Quality is one accuracy/integrity indicator with its provenance
type Quality struct {
	Value  int           `json:"value"`
	Source QualitySource `json:"source,omitempty"`
}

// IsSet reports whether the indicator has been populated
func (q Quality) IsSet() bool {
	return q.Source != SourceUnset
}

// Slot buffers one half of a CPR position pair
type Slot struct {
	Raw     string         `json:"raw"`
	Arrival time.Time      `json:"arrival"`
	CPR     modes.CPRFrame `json:"-"`
}

// Archive keeps the last raw frame of every message family that fed the track
type Archive struct {
	Identification string    `json:"identification,omitempty"`
	Velocity       string    `json:"velocity,omitempty"`
	Even           string    `json:"even,omitempty"`
	Odd            string    `json:"odd,omitempty"`
	EvenAt         time.Time `json:"even_at"`
	OddAt          time.Time `json:"odd_at"`
}

// Track is the merged state of one aircraft.
//
// Pointer fields are replaced, never written through, so a value copy of a
// Track is a safe read-only snapshot.
type Track struct {
	ICAO     string `json:"icao"`
	Callsign string `json:"callsign,omitempty"`

	Even       *Slot         `json:"even,omitempty"`
	Odd        *Slot         `json:"odd,omitempty"`
	LastParity *modes.Parity `json:"last_parity,omitempty"`

	Latitude           *float64        `json:"lat,omitempty"`
	Longitude          *float64        `json:"lon,omitempty"`
	Altitude           *int            `json:"altitude,omitempty"`            // feet
	HorizontalVelocity *float64        `json:"horizontal_velocity,omitempty"` // knots
	VerticalVelocity   *int            `json:"vertical_velocity,omitempty"`   // ft/min
	GroundTrackHeading *float64        `json:"ground_track_heading,omitempty"`
	SpeedType          modes.SpeedType `json:"speed_type,omitempty"`

	NACp Quality `json:"nac_p"`
	NACv Quality `json:"nac_v"`
	NIC  Quality `json:"nic"`
	SIL  Quality `json:"sil"`
	SDA  Quality `json:"sda"`

	Archive Archive `json:"archive"`

	FirstSeen        time.Time `json:"first_seen"`
	LastUpdate       time.Time `json:"last_update"`
	PositionTime     time.Time `json:"position_time"`
	Messages         int       `json:"messages"`
	DecodedFields    int       `json:"decoded_fields"`
	PositionComputed bool      `json:"position_computed"`
	Complete         bool      `json:"complete"`
	LastExport       time.Time `json:"last_export"`
}

// NewTrack creates an empty track for an ICAO address
func NewTrack(icao string, now time.Time) *Track {
	return &Track{
		ICAO:       icao,
		FirstSeen:  now,
		LastUpdate: now,
	}
}

// Snapshot returns a read-only copy of the track
func (t *Track) Snapshot() Track {
	return *t
}

// HasPosition reports whether a global position has been resolved
func (t *Track) HasPosition() bool {
	return t.Latitude != nil && t.Longitude != nil
}

// quality returns a pointer to the named indicator
func (t *Track) quality(field modes.QualityField) *Quality {
	switch field {
	case modes.FieldNACp:
		return &t.NACp
	case modes.FieldNACv:
		return &t.NACv
	case modes.FieldNIC:
		return &t.NIC
	case modes.FieldSIL:
		return &t.SIL
	default:
		return &t.SDA
	}
}

// Quality returns the named indicator
func (t *Track) Quality(field modes.QualityField) Quality {
	return *t.quality(field)
}

func float64Ptr(v float64) *float64 { return &v }
func intPtr(v int) *int             { return &v }
