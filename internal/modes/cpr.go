package modes

import (
	"fmt"
	"math"
	"time"
)

// Parity is the CPR format flag of an airborne position message
type Parity int

const (
	ParityEven Parity = 0
	ParityOdd  Parity = 1
)

func (p Parity) String() string {
	if p == ParityOdd {
		return "odd"
	}
	return "even"
}

// Opposite returns the other parity
func (p Parity) Opposite() Parity {
	return 1 - p
}

const (
	cprScale = 1 << 17
	zoneEven = 360.0 / 60.0
	zoneOdd  = 360.0 / 59.0
)

// CPRFrame is one half of a global position pair
type CPRFrame struct {
	LatCPR    uint32
	LonCPR    uint32
	Parity    Parity
	Timestamp time.Time
}

// ReadCPR extracts the CPR half-position of an airborne position frame
func ReadCPR(f Frame) (CPRFrame, error) {
	if _, err := requireTypecode(f, 9, 18); err != nil {
		return CPRFrame{}, err
	}
	return CPRFrame{
		Parity: Parity(f.Bits(53, 1)),
		LatCPR: uint32(f.Bits(54, 17)),
		LonCPR: uint32(f.Bits(71, 17)),
	}, nil
}

// nlTransitions holds the latitudes at which the number of longitude zones
// drops by one. |lat| below nlTransitions[0] has 59 zones, below
// nlTransitions[k] has 59-k zones, and anything beyond the last entry has 1.
var nlTransitions = [58]float64{
	10.47047130, 14.82817437, 18.18626357, 21.02939493, 23.54504487, 25.82924707,
	27.93898710, 29.91135686, 31.77209708, 33.53993436, 35.22899598, 36.85025108,
	38.41241892, 39.92256684, 41.38651832, 42.80914012, 44.19454951, 45.54626723,
	46.86733252, 48.16039128, 49.42776439, 50.67150166, 51.89342469, 53.09516153,
	54.27817472, 55.44378444, 56.59318756, 57.72747354, 58.84763776, 59.95459277,
	61.04917774, 62.13216659, 63.20427479, 64.26616523, 65.31845310, 66.36171008,
	67.39646774, 68.42322022, 69.44242631, 70.45451075, 71.45986473, 72.45884545,
	73.45177442, 74.43893416, 75.42056257, 76.39684391, 77.36789461, 78.33374083,
	79.29428225, 80.24923213, 81.19801349, 82.13956981, 83.07199445, 83.99173563,
	84.89166191, 85.75541621, 86.53536998, 87.00000000,
}

// NL returns the number of longitude zones at the given latitude
func NL(lat float64) int {
	lat = math.Abs(lat)
	for i, threshold := range nlTransitions {
		if lat < threshold {
			return 59 - i
		}
	}
	return 1
}

// DecodeGlobalPosition resolves an even/odd frame pair to latitude and
// longitude. The newer frame is the anchor; frames with equal timestamps
// cannot be ordered and yield ErrNotReady. Pairs whose latitudes fall into
// different NL zones yield ErrPositionAmbiguous.
func DecodeGlobalPosition(even, odd CPRFrame) (lat, lon float64, err error) {
	if even.Parity != ParityEven || odd.Parity != ParityOdd {
		return 0, 0, fmt.Errorf("%w: need one even and one odd frame", ErrNotReady)
	}

	latE := float64(even.LatCPR) / cprScale
	latO := float64(odd.LatCPR) / cprScale
	lonE := float64(even.LonCPR) / cprScale
	lonO := float64(odd.LonCPR) / cprScale

	j := math.Floor(59*latE - 60*latO + 0.5)
	latEven := zoneEven * (mod(j, 60) + latE)
	latOdd := zoneOdd * (mod(j, 59) + latO)
	if latEven >= 270 {
		latEven -= 360
	}
	if latOdd >= 270 {
		latOdd -= 360
	}

	nlEven, nlOdd := NL(latEven), NL(latOdd)
	if nlEven != nlOdd {
		return 0, 0, fmt.Errorf("%w: NL(%.5f)=%d, NL(%.5f)=%d", ErrPositionAmbiguous, latEven, nlEven, latOdd, nlOdd)
	}

	var (
		isOdd     int
		lonAnchor float64
	)
	switch {
	case even.Timestamp.After(odd.Timestamp):
		lat, lonAnchor = latEven, lonE
	case odd.Timestamp.After(even.Timestamp):
		lat, lonAnchor, isOdd = latOdd, lonO, 1
	default:
		return 0, 0, fmt.Errorf("%w: even and odd frames share a timestamp", ErrNotReady)
	}

	nl := float64(nlEven)
	ni := math.Max(1, nl-float64(isOdd))
	m := math.Floor(lonE*(nl-1) - lonO*nl + 0.5)
	lon = 360 / ni * (mod(m, ni) + lonAnchor)
	if lon > 180 {
		lon -= 360
	}
	return lat, lon, nil
}

// mod is the floored modulo, always in [0, b)
func mod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r < 0 {
		r += b
	}
	return r
}
