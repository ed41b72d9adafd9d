package assembler

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/zsiec/nalrelay/internal/nal"
)

// FormatDescription is the decoder configuration derived from one SPS/PPS
// pair. It is immutable once built and may be shared between access units.
type FormatDescription struct {
	SPS []byte `json:"-"`
	PPS []byte `json:"-"`

	ProfileIdc    uint8   `json:"profile_idc"`
	Compatibility uint8   `json:"compatibility"`
	LevelIdc      uint8   `json:"level_idc"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FPS           float64 `json:"fps,omitempty"`

	// NALULengthSize is the size of the length field in front of every
	// access unit payload.
	NALULengthSize int `json:"nalu_length_size"`
}

// BuildDescription parses sps and validates pps.
func BuildDescription(sps, pps []byte) (*FormatDescription, error) {
	if len(sps) < 4 || nal.KindOf(sps[0]) != nal.KindSPS {
		return nil, fmt.Errorf("invalid SPS (%d bytes)", len(sps))
	}
	if len(pps) < 1 || nal.KindOf(pps[0]) != nal.KindPPS {
		return nil, fmt.Errorf("invalid PPS (%d bytes)", len(pps))
	}
	if len(sps) > 0xFFFF || len(pps) > 0xFFFF {
		return nil, fmt.Errorf("parameter set too large for decoder configuration")
	}

	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return nil, fmt.Errorf("parse SPS: %w", err)
	}

	width, height := parsed.Width(), parsed.Height()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("SPS yields invalid dimensions %dx%d", width, height)
	}

	return &FormatDescription{
		SPS:            bytes.Clone(sps),
		PPS:            bytes.Clone(pps),
		ProfileIdc:     sps[1],
		Compatibility:  sps[2],
		LevelIdc:       sps[3],
		Width:          width,
		Height:         height,
		FPS:            parsed.FPS(),
		NALULengthSize: nal.LengthPrefixLen,
	}, nil
}

// Codec returns the RFC 6381 codec string, e.g. "avc1.64001f".
func (d *FormatDescription) Codec() string {
	return fmt.Sprintf("avc1.%02x%02x%02x", d.ProfileIdc, d.Compatibility, d.LevelIdc)
}

// Record returns the AVCDecoderConfigurationRecord (ISO/IEC 14496-15) for
// the description with a single SPS and a single PPS.
func (d *FormatDescription) Record() []byte {
	buf := make([]byte, 0, 11+len(d.SPS)+len(d.PPS))

	buf = append(buf,
		1, // configurationVersion
		d.ProfileIdc,
		d.Compatibility,
		d.LevelIdc,
		0xFC|byte(d.NALULengthSize-1),
		0xE0|1, // numOfSequenceParameterSets
	)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(d.SPS)))
	buf = append(buf, d.SPS...)

	buf = append(buf, 1) // numOfPictureParameterSets
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(d.PPS)))
	buf = append(buf, d.PPS...)

	return buf
}

// Matches reports whether the description was built from sps and pps.
func (d *FormatDescription) Matches(sps, pps []byte) bool {
	return d != nil && bytes.Equal(d.SPS, sps) && bytes.Equal(d.PPS, pps)
}

func (d *FormatDescription) String() string {
	return fmt.Sprintf("%s %dx%d", d.Codec(), d.Width, d.Height)
}
