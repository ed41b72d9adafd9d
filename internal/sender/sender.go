// Package sender forwards NAL units to a relay as an Annex-B byte stream.
package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/nalrelay/internal/config"
	"github.com/zsiec/nalrelay/internal/logger"
	"github.com/zsiec/nalrelay/internal/metrics"
	"github.com/zsiec/nalrelay/internal/nal"
	"github.com/zsiec/nalrelay/internal/transport"
)

// ErrNotConnected is returned for sends without a live stream. The unit is
// dropped.
var ErrNotConnected = errors.New("sender not connected")

// EncodedSample is one encoder output: a frame in 4-byte length-prefixed
// form plus the parameter sets in effect.
type EncodedSample struct {
	Data     []byte
	Keyframe bool
	SPS      []byte
	PPS      []byte
}

// Stats is a snapshot of sender counters.
type Stats struct {
	UnitsSent    int64 `json:"units_sent"`
	BytesSent    int64 `json:"bytes_sent"`
	UnitsDropped int64 `json:"units_dropped"`
	Reinjected   int64 `json:"reinjected"`
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Sender writes units in order over one stream. It is safe for concurrent
// use; sends are serialized.
type Sender struct {
	cfg   config.SenderConfig
	log   logger.Logger
	pacer *Pacer

	mu     sync.Mutex
	stream transport.Stream
	sps    []byte
	pps    []byte

	// lastKind and lastIDR describe the previous unit written.
	lastKind nal.Kind
	lastIDR  bool

	stats Stats
}

// New creates a disconnected sender.
func New(cfg config.SenderConfig, log logger.Logger) *Sender {
	return &Sender{
		cfg:   cfg,
		log:   log.WithField("component", "sender"),
		pacer: NewPacer(cfg.FPS),
	}
}

// Connect dials the configured relay.
func (s *Sender) Connect(ctx context.Context) error {
	stream, err := transport.Dial(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.Attach(stream)
	s.log.WithFields(logger.Fields{
		"transport": s.cfg.Transport,
		"address":   s.cfg.Address,
	}).Info("Connected to relay")
	return nil
}

// Attach uses an established stream, replacing any previous one.
func (s *Sender) Attach(stream transport.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.Close()
	}
	s.stream = stream
	s.lastKind = nal.KindVCL
	s.lastIDR = false
}

// Connected reports whether a stream is attached.
func (s *Sender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// SendUnit forwards one unit. Slices wait for the pacer. With
// RepeatParameterSets the last SPS and PPS are written ahead of an IDR slice
// that does not already follow them.
func (s *Sender) SendUnit(ctx context.Context, u nal.Unit) error {
	if !u.IsParameterSet() {
		if err := s.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(u)
}

// SendEncoded forwards a length-prefixed frame. Keyframes are preceded by
// the sample's SPS and PPS.
func (s *Sender) SendEncoded(ctx context.Context, sample EncodedSample) error {
	units, err := nal.SplitAVCC(sample.Data)
	if err != nil {
		return err
	}

	if sample.Keyframe {
		var params []nal.Unit
		for _, ps := range [][]byte{sample.SPS, sample.PPS} {
			if len(ps) == 0 {
				continue
			}
			u, err := nal.Classify(ps)
			if err != nil {
				return err
			}
			params = append(params, u)
		}
		units = append(params, units...)
	}

	return s.SendFrame(ctx, units)
}

// SendFrame forwards the units of one frame after a single pacer wait.
func (s *Sender) SendFrame(ctx context.Context, units []nal.Unit) error {
	if err := s.pacer.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		if err := s.sendLocked(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendLocked(u nal.Unit) error {
	if s.stream == nil {
		s.stats.UnitsDropped++
		return ErrNotConnected
	}

	switch u.Kind {
	case nal.KindSPS:
		s.sps = bytes.Clone(u.Payload)
	case nal.KindPPS:
		s.pps = bytes.Clone(u.Payload)
	}

	if s.cfg.RepeatParameterSets && s.startsIDRPicture(u) && s.sps != nil && s.pps != nil {
		for _, ps := range [][]byte{s.sps, s.pps} {
			if err := s.write(nal.MustClassify(ps)); err != nil {
				return err
			}
		}
		s.stats.Reinjected++
	}

	return s.write(u)
}

// startsIDRPicture reports whether u is the first slice of an IDR picture
// that is not already preceded by a PPS. Parameter sets may not appear
// between the slices of one access unit.
func (s *Sender) startsIDRPicture(u nal.Unit) bool {
	return u.IsIDR() && !s.lastIDR && s.lastKind != nal.KindPPS
}

func (s *Sender) write(u nal.Unit) error {
	wire := nal.ToWireForm(u)

	if wd, ok := s.stream.(writeDeadliner); ok && s.cfg.WriteTimeout > 0 {
		wd.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}

	chunk := s.cfg.ChunkSize
	if chunk <= 0 {
		chunk = len(wire)
	}
	for off := 0; off < len(wire); off += chunk {
		end := min(off+chunk, len(wire))
		if _, err := s.stream.Write(wire[off:end]); err != nil {
			s.disconnectLocked(err)
			return fmt.Errorf("send %s: %w", u, err)
		}
	}

	s.lastKind = u.Kind
	s.lastIDR = u.IsIDR()

	s.stats.UnitsSent++
	s.stats.BytesSent += int64(len(wire))
	metrics.RecordUnitSent(s.cfg.Transport, u.Kind.String(), len(wire))
	return nil
}

func (s *Sender) disconnectLocked(err error) {
	s.log.WithError(err).Warn("Relay connection lost")
	s.stream.Close()
	s.stream = nil
}

// Stats returns a snapshot of the sender counters.
func (s *Sender) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close closes the stream.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
