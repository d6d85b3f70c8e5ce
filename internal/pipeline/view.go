package pipeline

import (
	"github.com/yegors/squitter/internal/physics"
	"github.com/yegors/squitter/internal/track"
)

// Station is the receiver location used to enrich track views
type Station struct {
	Latitude      float64
	Longitude     float64
	ElevationFeet int
}

// TrackView is a track snapshot with derived navigation values for the API
// and the WebSocket stream
type TrackView struct {
	track.Track
	MagneticTrack *float64 `json:"magnetic_track,omitempty"`
	FlightLevel   *int     `json:"flight_level,omitempty"`
	DistanceNM    *float64 `json:"distance_nm,omitempty"`
	Bearing       *float64 `json:"bearing,omitempty"`
}

// NewTrackView derives the view of a snapshot. A nil station skips the
// distance and bearing.
func NewTrackView(t track.Track, station *Station) TrackView {
	view := TrackView{Track: t}

	if t.Altitude != nil {
		fl := physics.FlightLevel(*t.Altitude)
		view.FlightLevel = &fl
	}

	if !t.HasPosition() {
		return view
	}
	lat, lon := *t.Latitude, *t.Longitude

	if t.GroundTrackHeading != nil {
		alt := 0.0
		if t.Altitude != nil {
			alt = float64(*t.Altitude)
		}
		date := t.PositionTime
		if date.IsZero() {
			date = t.LastUpdate
		}
		mt := physics.MagneticTrack(*t.GroundTrackHeading, lat, lon, alt, date)
		view.MagneticTrack = &mt
	}

	if station != nil {
		dist := physics.DistanceNM(station.Latitude, station.Longitude, lat, lon)
		brg := physics.InitialBearing(station.Latitude, station.Longitude, lat, lon)
		view.DistanceNM = &dist
		view.Bearing = &brg
	}
	return view
}

// NewTrackViews converts a list of snapshots
func NewTrackViews(tracks []track.Track, station *Station) []TrackView {
	views := make([]TrackView, 0, len(tracks))
	for _, t := range tracks {
		views = append(views, NewTrackView(t, station))
	}
	return views
}
