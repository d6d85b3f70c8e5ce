package physics

import (
	"math"
	"testing"
	"time"
)

func TestDistanceNM(t *testing.T) {
	// One degree of latitude is 60 NM on the mean sphere.
	d := DistanceNM(52, 4, 53, 4)
	if math.Abs(d-60.04) > 0.1 {
		t.Errorf("DistanceNM = %.3f, want ~60.04", d)
	}
	if d := DistanceNM(52.2572, 3.9194, 52.2572, 3.9194); d != 0 {
		t.Errorf("DistanceNM same point = %f, want 0", d)
	}
}

func TestInitialBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"north", 52, 4, 53, 4, 0},
		{"south", 53, 4, 52, 4, 180},
		{"east on equator", 0, 0, 0, 1, 90},
		{"west on equator", 0, 1, 0, 0, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InitialBearing(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("InitialBearing = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNormalizeDegrees(t *testing.T) {
	for in, want := range map[float64]float64{-90: 270, 360: 0, 725: 5, 12.5: 12.5} {
		if got := NormalizeDegrees(in); got != want {
			t.Errorf("NormalizeDegrees(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestMagneticTrack(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	variation := CalculateMagneticVariation(52.26, 3.92, 38000, date)
	// Declination over the North Sea is a few degrees east.
	if variation < -5 || variation > 10 {
		t.Errorf("variation = %f, outside plausible range", variation)
	}

	got := MagneticTrack(10, 52.26, 3.92, 38000, date)
	if want := NormalizeDegrees(10 - variation); math.Abs(got-want) > 1e-9 {
		t.Errorf("MagneticTrack = %f, want %f", got, want)
	}
}

func TestHeadingToVector(t *testing.T) {
	v := HeadingToVector(90, 100)
	if math.Abs(v.X-100) > 1e-9 || math.Abs(v.Y) > 1e-9 {
		t.Errorf("HeadingToVector(90) = %+v", v)
	}
}

func TestAltitudeToPressure(t *testing.T) {
	if p := AltitudeToPressure(0); math.Abs(p-P0) > 1e-9 {
		t.Errorf("sea level pressure = %f", p)
	}
	// FL380 sits just above the tropopause, around 206 hPa.
	if p := AltitudeToPressure(38000); math.Abs(p-206) > 2 {
		t.Errorf("pressure at 38000 ft = %f", p)
	}
	if FlightLevel(38000) != 380 || FlightLevel(-500) != 0 {
		t.Error("FlightLevel conversion")
	}
}
