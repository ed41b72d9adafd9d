// Package assembler turns classified NAL units into decode-ready access
// units. It tracks the current SPS/PPS pair and withholds slices until a
// valid format description exists for them.
package assembler

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/zsiec/nalrelay/internal/nal"
)

// ErrDescriptionBuildFailed is reported when a complete SPS/PPS pair does not
// produce a usable format description. The assembler keeps waiting for
// replacement parameter sets.
var ErrDescriptionBuildFailed = errors.New("format description build failed")

// DurationUnspecified marks an access unit without a known duration.
const DurationUnspecified time.Duration = -1

// State is the parameter-set state of an assembler.
type State int

const (
	StateAwaitingParameters State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	default:
		return "awaiting_parameters"
	}
}

// AccessUnit is one decoder input: a length-prefixed slice plus the
// configuration needed to decode it.
type AccessUnit struct {
	Description *FormatDescription

	// Payload is the slice preceded by its 4-byte big-endian length.
	Payload []byte

	// PTS is always zero and Duration is DurationUnspecified; the sink
	// presents frames as they arrive.
	PTS                time.Duration
	Duration           time.Duration
	DisplayImmediately bool

	Type     h264.NALUType
	Keyframe bool
	Sequence uint64
}

// NALU returns the slice payload without its length prefix.
func (au *AccessUnit) NALU() []byte {
	return au.Payload[nal.LengthPrefixLen:]
}

// Config controls the assembler.
type Config struct {
	// MaxPendingVCL is the number of slices held while parameters are
	// incomplete. They are released in order once a description is built.
	// Zero drops them immediately. When full, the oldest slice is evicted.
	MaxPendingVCL int `mapstructure:"max_pending_vcl"`
}

// Stats is a snapshot of assembler counters.
type Stats struct {
	UnitsSeen         int64  `json:"units_seen"`
	AccessUnits       int64  `json:"access_units"`
	VCLDropped        int64  `json:"vcl_dropped"`
	DescriptionBuilds int64  `json:"description_builds"`
	DescriptionFailed int64  `json:"description_failed"`
	ParameterResets   int64  `json:"parameter_resets"`
	Pending           int    `json:"pending"`
	State             State  `json:"-"`
	StateName         string `json:"state"`
}

// AccessUnitHandler receives decode-ready access units in order.
type AccessUnitHandler func(*AccessUnit)

// ErrorHandler receives non-fatal conditions wrapping
// ErrDescriptionBuildFailed.
type ErrorHandler func(error)

// Assembler is owned by a single stream and is not safe for concurrent use.
type Assembler struct {
	cfg Config

	state State
	sps   []byte
	pps   []byte
	desc  *FormatDescription

	// last is kept to reuse an identical description across repeated
	// parameter sets.
	last *FormatDescription

	pending []nal.Unit
	seq     uint64

	onAccessUnit AccessUnitHandler
	onError      ErrorHandler

	stats Stats
}

// New creates an assembler in StateAwaitingParameters.
func New(cfg Config) *Assembler {
	if cfg.MaxPendingVCL < 0 {
		cfg.MaxPendingVCL = 0
	}
	return &Assembler{
		cfg:          cfg,
		onAccessUnit: func(*AccessUnit) {},
		onError:      func(error) {},
	}
}

// OnAccessUnit sets the access unit handler.
func (a *Assembler) OnAccessUnit(h AccessUnitHandler) {
	if h == nil {
		h = func(*AccessUnit) {}
	}
	a.onAccessUnit = h
}

// OnError sets the error handler.
func (a *Assembler) OnError(h ErrorHandler) {
	if h == nil {
		h = func(error) {}
	}
	a.onError = h
}

// State returns the current state.
func (a *Assembler) State() State {
	return a.state
}

// Description returns the current format description or nil.
func (a *Assembler) Description() *FormatDescription {
	return a.desc
}

// Convert consumes one unit in stream order.
func (a *Assembler) Convert(u nal.Unit) {
	a.stats.UnitsSeen++

	if u.IsParameterSet() {
		a.storeParameterSet(u)
		return
	}
	a.handleVCL(u)
}

// Reset returns the assembler to its initial state, dropping parameter sets
// and pending slices.
func (a *Assembler) Reset() {
	a.state = StateAwaitingParameters
	a.sps = nil
	a.pps = nil
	a.desc = nil
	a.pending = nil
}

// Stats returns a snapshot of the assembler counters.
func (a *Assembler) Stats() Stats {
	s := a.stats
	s.Pending = len(a.pending)
	s.State = a.state
	s.StateName = a.state.String()
	return s
}

func (a *Assembler) storeParameterSet(u nal.Unit) {
	if a.state == StateReady {
		// A new parameter set starts a new pair. Slices wait for both.
		a.state = StateAwaitingParameters
		a.desc = nil
		a.sps = nil
		a.pps = nil
		a.stats.ParameterResets++
	}
	a.desc = nil

	if u.Kind == nal.KindSPS {
		a.sps = u.Payload
	} else {
		a.pps = u.Payload
	}

	if a.sps == nil || a.pps == nil {
		return
	}

	a.buildDescription()
}

func (a *Assembler) buildDescription() {
	if a.last.Matches(a.sps, a.pps) {
		a.desc = a.last
	} else {
		desc, err := BuildDescription(a.sps, a.pps)
		if err != nil {
			a.stats.DescriptionFailed++
			a.onError(fmt.Errorf("%w: %v", ErrDescriptionBuildFailed, err))
			return
		}
		a.desc = desc
		a.last = desc
	}

	a.stats.DescriptionBuilds++
	a.state = StateReady
	a.releasePending()
}

func (a *Assembler) handleVCL(u nal.Unit) {
	if a.state != StateReady {
		a.holdVCL(u)
		return
	}
	a.emit(u)
}

func (a *Assembler) holdVCL(u nal.Unit) {
	if a.cfg.MaxPendingVCL == 0 {
		a.stats.VCLDropped++
		return
	}

	if len(a.pending) == a.cfg.MaxPendingVCL {
		a.pending[0] = nal.Unit{}
		a.pending = a.pending[1:]
		a.stats.VCLDropped++
	}
	a.pending = append(a.pending, u)
}

func (a *Assembler) releasePending() {
	pending := a.pending
	a.pending = nil
	for _, u := range pending {
		a.emit(u)
	}
}

func (a *Assembler) emit(u nal.Unit) {
	a.seq++
	a.stats.AccessUnits++

	a.onAccessUnit(&AccessUnit{
		Description:        a.desc,
		Payload:            u.LengthPrefixed(),
		PTS:                0,
		Duration:           DurationUnspecified,
		DisplayImmediately: true,
		Type:               u.Type(),
		Keyframe:           u.IsIDR(),
		Sequence:           a.seq,
	})
}
