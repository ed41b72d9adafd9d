package nal

import (
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

const (
	// StartCodeLen is the length of the Annex-B delimiter used on the wire.
	StartCodeLen = 4
	// LengthPrefixLen is the size of the big-endian length field in front
	// of decoder input.
	LengthPrefixLen = 4
)

// StartCode precedes every unit on the wire. Three-byte start codes are
// never produced and are not recognized as boundaries.
var StartCode = [StartCodeLen]byte{0x00, 0x00, 0x00, 0x01}

// AnnexB returns the start-code prefixed form of the unit.
func (u Unit) AnnexB() []byte {
	return u.AppendAnnexB(make([]byte, 0, StartCodeLen+u.Len()))
}

// AppendAnnexB appends the start-code prefixed form of the unit to dst.
func (u Unit) AppendAnnexB(dst []byte) []byte {
	dst = append(dst, StartCode[:]...)
	return append(dst, u.Payload...)
}

// LengthPrefixed returns the payload preceded by its 4-byte big-endian
// length. This is the form access units carry.
func (u Unit) LengthPrefixed() []byte {
	out := make([]byte, LengthPrefixLen+u.Len())
	binary.BigEndian.PutUint32(out, uint32(u.Len()))
	copy(out[LengthPrefixLen:], u.Payload)
	return out
}

// ToWireForm returns what the sender puts on the transport for u. Every kind
// uses the same Annex-B form.
func ToWireForm(u Unit) []byte {
	return u.AnnexB()
}

// SplitAVCC splits an encoder sample made of 4-byte length prefixed units.
func SplitAVCC(sample []byte) ([]Unit, error) {
	var avcc h264.AVCC
	if err := avcc.Unmarshal(sample); err != nil {
		return nil, fmt.Errorf("split avcc sample: %w", err)
	}

	units := make([]Unit, 0, len(avcc))
	for _, payload := range avcc {
		u, err := Classify(payload)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}

	return units, nil
}
