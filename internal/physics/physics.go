package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	R             = 287.058  // Specific gas constant for dry air (J/(kg·K))
	G             = 9.80665  // Gravity (m/s^2)
	T0            = 288.15   // Standard Sea Level Temperature (K)
	P0            = 1013.25  // Standard Sea Level Pressure (hPa)
	L             = 0.0065   // Temperature Lapse Rate (K/m) in Troposphere
	FeetToMeters  = 0.3048   // Conversion factor from feet to meters
	EarthRadiusNM = 3440.065 // Mean Earth radius in nautical miles

	// ISA Layer Boundaries
	TropopauseAltM    = 11000.0 // 11 km
	StratosphereTempK = 216.65  // Constant temperature in Stratosphere
	TropopausePress   = 226.32  // Pressure at Tropopause (hPa)
)

// ------------------------------------------------------------------------------------------------
// NAVIGATION
// ------------------------------------------------------------------------------------------------

// Vector2D represents a 2D vector
type Vector2D struct {
	X float64 // East component
	Y float64 // North component
}

// HeadingToVector converts a heading (degrees) and magnitude to X/Y components
func HeadingToVector(headingDeg float64, magnitude float64) Vector2D {
	rad := (90 - headingDeg) * math.Pi / 180 // Convert compass heading to math angle
	return Vector2D{
		X: magnitude * math.Cos(rad),
		Y: magnitude * math.Sin(rad),
	}
}

// DistanceNM returns the great circle distance between two points in nautical miles
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadiusNM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InitialBearing returns the true bearing in degrees [0,360) from the first
// point to the second
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLambda := toRadians(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return NormalizeDegrees(math.Atan2(y, x) * 180 / math.Pi)
}

// NormalizeDegrees wraps an angle into [0,360)
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// CalculateMagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func CalculateMagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, altFt*FeetToMeters)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Outside the model's validity window
		return 0.0
	}

	return mag.D()
}

// MagneticTrack converts a true track to a magnetic track at the given
// position and time
func MagneticTrack(trueTrack, lat, lon, altFt float64, date time.Time) float64 {
	return NormalizeDegrees(trueTrack - CalculateMagneticVariation(lat, lon, altFt, date))
}

// ------------------------------------------------------------------------------------------------
// ATMOSPHERE
// ------------------------------------------------------------------------------------------------

// AltitudeToPressure converts pressure altitude in feet to pressure in hPa
// Uses Standard Atmosphere model, supporting Troposphere and Stratosphere (up to 20km approx)
func AltitudeToPressure(altFt float64) float64 {
	altM := altFt * FeetToMeters
	if altM < 0 {
		altM = 0
	}

	if altM <= TropopauseAltM {
		// P = P0 * (1 - L*h/T0)^(g/RL)
		exponent := G / (R * L)
		base := 1 - (L * altM / T0)
		return P0 * math.Pow(base, exponent)
	}

	// P = P_trop * exp( -g*(h - h_trop) / (R * T_strat) )
	relAlt := altM - TropopauseAltM
	exponent := -(G * relAlt) / (R * StratosphereTempK)
	return TropopausePress * math.Exp(exponent)
}

// FlightLevel returns the flight level for a pressure altitude in feet
func FlightLevel(altFt int) int {
	if altFt < 0 {
		return 0
	}
	return int(math.Round(float64(altFt) / 100))
}
