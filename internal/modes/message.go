package modes

// Message is the decoded content of one extended squitter. The concrete type
// is one of *Identification, *Position, *Velocity, *OperationalStatus or
// *Ignored.
type Message interface {
	MessageHeader() Header
	isMessage()
}

// MessageHeader returns the header itself; embedding promotes it to every message
func (h Header) MessageHeader() Header { return h }

// Identification carries the aircraft callsign (typecode 1-4)
type Identification struct {
	Header
	Frame    Frame  `json:"-"`
	Callsign string `json:"callsign"`
}

// Position carries one half of a CPR position pair (typecode 9-18).
// Altitude is decoded separately with DecodeAltitude because its failure must
// not block the position merge.
type Position struct {
	Header
	Frame         Frame    `json:"-"`
	CPR           CPRFrame `json:"cpr"`
	SupplementBit uint8    `json:"nic_sb"`
}

// Velocity carries an airborne velocity report (typecode 19)
type Velocity struct {
	Header
	Frame Frame `json:"-"`
	VelocityFields
}

// OperationalStatus carries the quality indicators of typecode 31. The
// fields are not range checked; call Validate before applying them.
type OperationalStatus struct {
	Header
	Frame Frame `json:"-"`
	OperationalStatusFields
}

// Ignored is an extended squitter outside the decoded families, including
// surface positions
type Ignored struct {
	Header
}

func (*Identification) isMessage()    {}
func (*Position) isMessage()          {}
func (*Velocity) isMessage()          {}
func (*OperationalStatus) isMessage() {}
func (*Ignored) isMessage()           {}

// Decode classifies a frame and runs the decoder for its family
func Decode(f Frame) (Message, error) {
	h, err := Classify(f)
	if err != nil {
		return nil, err
	}
	return DecodeWithHeader(f, h)
}

// DecodeHex parses and decodes a raw hex frame
func DecodeHex(raw string) (Message, error) {
	f, err := ParseFrame(raw)
	if err != nil {
		return nil, err
	}
	return Decode(f)
}

// DecodeWithHeader runs the decoder selected by an already classified header.
// A velocity message with an unknown subtype is returned alongside its error
// so that NACv can still be applied.
func DecodeWithHeader(f Frame, h Header) (Message, error) {
	switch h.Kind {
	case KindIdentification:
		callsign, err := DecodeIdentification(f)
		if err != nil {
			return nil, err
		}
		return &Identification{Header: h, Frame: f, Callsign: callsign}, nil

	case KindPosition:
		cpr, err := ReadCPR(f)
		if err != nil {
			return nil, err
		}
		return &Position{Header: h, Frame: f, CPR: cpr, SupplementBit: SupplementBit(f)}, nil

	case KindVelocity:
		v, err := DecodeVelocity(f)
		if v.Partial {
			return &Velocity{Header: h, Frame: f, VelocityFields: v}, err
		}
		if err != nil {
			return nil, err
		}
		return &Velocity{Header: h, Frame: f, VelocityFields: v}, nil

	case KindOperationalStatus:
		s, err := DecodeOperationalStatus(f)
		if err != nil {
			return nil, err
		}
		return &OperationalStatus{Header: h, Frame: f, OperationalStatusFields: s}, nil

	default:
		return &Ignored{Header: h}, nil
	}
}
