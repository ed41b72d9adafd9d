// Package nal models H.264 NAL units as they travel between the sender and
// the receiver: classification, the Annex-B wire form and the 4-byte length
// prefixed form decoders consume.
package nal

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ErrMalformedUnit is returned for a unit that cannot be classified or
// exceeds the configured size bound. It is never fatal to a stream.
var ErrMalformedUnit = errors.New("malformed NAL unit")

// Kind is the coarse classification the relay cares about.
type Kind uint8

const (
	// KindVCL covers every unit that is not a parameter set.
	KindVCL Kind = iota
	KindSPS
	KindPPS
)

// String returns a short label used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindSPS:
		return "sps"
	case KindPPS:
		return "pps"
	default:
		return "vcl"
	}
}

// KindOf classifies a unit from its first (header) byte.
func KindOf(header byte) Kind {
	switch h264.NALUType(header & 0x1F) {
	case h264.NALUTypeSPS:
		return KindSPS
	case h264.NALUTypePPS:
		return KindPPS
	default:
		return KindVCL
	}
}

// Unit is a single NAL unit without start code or length prefix.
// Payload is owned by the unit and must not be modified.
type Unit struct {
	Kind    Kind
	Payload []byte
}

// Classify builds a Unit from a raw payload. The payload is copied.
func Classify(payload []byte) (Unit, error) {
	if len(payload) == 0 {
		return Unit{}, fmt.Errorf("classify: empty payload: %w", ErrMalformedUnit)
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)

	return Unit{
		Kind:    KindOf(owned[0]),
		Payload: owned,
	}, nil
}

// MustClassify is Classify for fixtures known to be valid.
func MustClassify(payload []byte) Unit {
	u, err := Classify(payload)
	if err != nil {
		panic(err)
	}
	return u
}

// Type returns the 5-bit nal_unit_type.
func (u Unit) Type() h264.NALUType {
	if len(u.Payload) == 0 {
		return 0
	}
	return h264.NALUType(u.Payload[0] & 0x1F)
}

// IsIDR reports whether the unit is an IDR slice.
func (u Unit) IsIDR() bool {
	return u.Type() == h264.NALUTypeIDR
}

// IsParameterSet reports whether the unit is an SPS or a PPS.
func (u Unit) IsParameterSet() bool {
	return u.Kind == KindSPS || u.Kind == KindPPS
}

// Len returns the payload length.
func (u Unit) Len() int {
	return len(u.Payload)
}

// String implements fmt.Stringer.
func (u Unit) String() string {
	return fmt.Sprintf("%s(type=%d len=%d)", u.Kind, u.Type(), u.Len())
}
