package modes

import (
	"fmt"

	"go.uber.org/multierr"
)

// QualityField names one of the accuracy/integrity indicators
type QualityField int

const (
	FieldNACp QualityField = iota
	FieldNACv
	FieldNIC
	FieldSIL
	FieldSDA
)

// QualityFields lists every quality field in display order
var QualityFields = [...]QualityField{FieldNACp, FieldNACv, FieldNIC, FieldSIL, FieldSDA}

func (q QualityField) String() string {
	switch q {
	case FieldNACp:
		return "NACp"
	case FieldNACv:
		return "NACv"
	case FieldNIC:
		return "NIC"
	case FieldSIL:
		return "SIL"
	case FieldSDA:
		return "SDA"
	}
	return fmt.Sprintf("QualityField(%d)", int(q))
}

// Max returns the largest valid value of the field
func (q QualityField) Max() int {
	switch q {
	case FieldNACp, FieldNIC:
		return 15
	case FieldNACv:
		return 7
	default:
		return 3
	}
}

// CheckQuality validates a single quality value
func CheckQuality(field QualityField, value int) error {
	if value < 0 || value > field.Max() {
		return &FieldError{Field: field, Value: value}
	}
	return nil
}

// OperationalStatusFields are the quality indicators of an operational
// status message. Values are kept as plain ints so that out of range values
// from any source can be carried to Validate.
type OperationalStatusFields struct {
	NACp int `json:"nac_p"`
	NACv int `json:"nac_v"`
	NIC  int `json:"nic"`
	SIL  int `json:"sil"`
	SDA  int `json:"sda"`
}

// Get returns the value of one field
func (s OperationalStatusFields) Get(field QualityField) int {
	switch field {
	case FieldNACp:
		return s.NACp
	case FieldNACv:
		return s.NACv
	case FieldNIC:
		return s.NIC
	case FieldSIL:
		return s.SIL
	default:
		return s.SDA
	}
}

// Validate range-checks every field. The returned error combines one
// *FieldError per invalid field; use multierr.Errors to inspect them.
func (s OperationalStatusFields) Validate() error {
	var err error
	for _, field := range QualityFields {
		err = multierr.Append(err, CheckQuality(field, s.Get(field)))
	}
	return err
}

// Operational status bit offsets (start, width)
const (
	opStatusSILStart, opStatusSILBits   = 47, 2
	opStatusNICStart, opStatusNICBits   = 50, 4
	opStatusNACpStart, opStatusNACpBits = 56, 4
	opStatusNACvStart, opStatusNACvBits = 60, 3
	opStatusSDAStart, opStatusSDABits   = 63, 2
)

// DecodeOperationalStatus extracts the quality indicators of an operational
// status message (typecode 31). Range validation is left to Validate so that
// callers can apply the fields that are valid.
func DecodeOperationalStatus(f Frame) (OperationalStatusFields, error) {
	if _, err := requireTypecode(f, 31, 31); err != nil {
		return OperationalStatusFields{}, err
	}
	return OperationalStatusFields{
		NACp: int(f.Bits(opStatusNACpStart, opStatusNACpBits)),
		NACv: int(f.Bits(opStatusNACvStart, opStatusNACvBits)),
		NIC:  int(f.Bits(opStatusNICStart, opStatusNICBits)),
		SIL:  int(f.Bits(opStatusSILStart, opStatusSILBits)),
		SDA:  int(f.Bits(opStatusSDAStart, opStatusSDABits)),
	}, nil
}

// SupplementBit returns the NIC supplement-B bit of an airborne position message
func SupplementBit(f Frame) uint8 {
	return uint8(f.Bits(39, 1))
}

type legacyNICKey struct {
	typecode int
	sb       uint8
}

// legacyNIC maps (typecode, NIC supplement-B) of airborne position messages
// to a NIC value. Pairs not listed here have no defined NIC.
var legacyNIC = map[legacyNICKey]int{
	{9, 0}:  11,
	{10, 0}: 10,
	{11, 1}: 9,
	{11, 0}: 8,
	{12, 0}: 7,
	{13, 1}: 6,
	{13, 0}: 5,
}

// LegacyNIC derives NIC from a position message typecode and its supplement
// bit. The boolean is false for pairs with no defined mapping.
func LegacyNIC(typecode int, sb uint8) (int, bool) {
	nic, ok := legacyNIC[legacyNICKey{typecode, sb}]
	return nic, ok
}
