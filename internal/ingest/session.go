// Package ingest accepts Annex-B streams and runs each one through its own
// parser, assembler and sinks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/nalrelay/internal/assembler"
	"github.com/zsiec/nalrelay/internal/buffer"
	"github.com/zsiec/nalrelay/internal/logger"
	"github.com/zsiec/nalrelay/internal/metrics"
	"github.com/zsiec/nalrelay/internal/nal"
	"github.com/zsiec/nalrelay/internal/parser"
	"github.com/zsiec/nalrelay/internal/registry"
	"github.com/zsiec/nalrelay/internal/transport"
)

// ErrIdleTimeout ends a session whose peer stopped sending.
var ErrIdleTimeout = errors.New("stream idle timeout")

// registryTimeout bounds registry calls made outside the session context.
const registryTimeout = 5 * time.Second

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// SessionConfig carries the per-stream pipeline settings.
type SessionConfig struct {
	Transport         string
	ReadSize          int
	RingSize          int
	IdleTimeout       time.Duration
	FlushOnEOF        bool
	HeartbeatInterval time.Duration
	Parser            parser.Config
	Assembler         assembler.Config
}

// Session owns one inbound stream and its pipeline. The reader goroutine
// moves bytes from the connection into a ring; the pump goroutine feeds the
// parser, which drives the assembler, which drives the sinks.
type Session struct {
	cfg      SessionConfig
	stream   transport.Stream
	registry registry.Registry
	sinks    []Sink

	log       logger.Logger
	throttled *logger.Throttled

	ring      *buffer.Ring
	parser    *parser.Parser
	assembler *assembler.Assembler

	mu      sync.RWMutex
	info    *registry.Stream
	asmLast assembler.Stats

	started time.Time

	// stop cancels a session started by a Manager.
	stop context.CancelFunc
}

// NewSession wires the pipeline for stream. Sinks are closed when Run
// returns.
func NewSession(cfg SessionConfig, stream transport.Stream, reg registry.Registry, sinks []Sink, log logger.Logger) *Session {
	info := &registry.Stream{
		ID:         registry.NewStreamID(cfg.Transport),
		Name:       stream.Name(),
		Transport:  cfg.Transport,
		RemoteAddr: stream.RemoteAddr().String(),
		Status:     registry.StatusAwaitingParameters,
	}

	log = logger.WithStream(log, info.ID, info.Transport, info.RemoteAddr)

	s := &Session{
		cfg:       cfg,
		stream:    stream,
		registry:  reg,
		sinks:     sinks,
		log:       log,
		throttled: logger.NewThrottled(log, 10*time.Second, 5),
		ring:      buffer.NewRing(cfg.RingSize),
		parser:    parser.New(cfg.Parser),
		assembler: assembler.New(cfg.Assembler),
		info:      info,
	}

	s.parser.OnUnit(s.handleUnit)
	s.parser.OnError(s.handleParseError)
	s.assembler.OnAccessUnit(s.handleAccessUnit)
	s.assembler.OnError(s.handleAssemblerError)

	return s
}

// ID returns the stream ID.
func (s *Session) ID() string {
	return s.info.ID
}

// Info returns a snapshot of the stream record.
func (s *Session) Info() *registry.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Clone()
}

// Run processes the stream until EOF, a transport error or ctx cancellation.
// A clean EOF flushes the trailing unit when FlushOnEOF is set; every other
// ending discards it.
func (s *Session) Run(ctx context.Context) error {
	s.started = time.Now()
	metrics.IncActiveStreams(s.cfg.Transport)
	defer func() {
		metrics.DecActiveStreams(s.cfg.Transport)
		metrics.RecordSessionDuration(s.cfg.Transport, time.Since(s.started).Seconds())
	}()

	if err := s.registry.Register(ctx, s.Info()); err != nil {
		s.stream.Close()
		s.closeSinks()
		return fmt.Errorf("register stream: %w", err)
	}
	s.log.Info("Stream started")

	stop := context.AfterFunc(ctx, func() {
		s.ring.Abort()
		s.stream.Close()
	})
	defer stop()

	pumpDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.readLoop(ctx)
	})
	g.Go(func() error {
		defer close(pumpDone)
		return s.pump(ctx)
	})
	g.Go(func() error {
		s.heartbeat(gctx, pumpDone)
		return nil
	})

	err := g.Wait()
	s.stream.Close()
	s.closeSinks()
	s.finish(err)
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	buf := make([]byte, s.cfg.ReadSize)
	deadliner, _ := s.stream.(readDeadliner)

	for {
		if deadliner != nil && s.cfg.IdleTimeout > 0 {
			deadliner.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		n, err := s.stream.Read(buf)
		if n > 0 {
			metrics.AddBytesReceived(s.cfg.Transport, n)
			if _, werr := s.ring.Write(buf[:n]); werr != nil {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.ring.Close()
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			if isTimeout(err) {
				err = ErrIdleTimeout
			}
			s.ring.CloseWithError(err)
			return err
		}
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func (s *Session) pump(ctx context.Context) error {
	buf := make([]byte, s.cfg.ReadSize)

	for {
		n, err := s.ring.Read(buf)
		if n > 0 {
			s.parser.Feed(buf[:n])
			s.syncStats()
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			if s.cfg.FlushOnEOF {
				s.parser.Flush()
			} else {
				s.parser.Reset()
			}
			s.syncStats()
			return nil
		case errors.Is(err, buffer.ErrClosed):
			s.parser.Reset()
			s.assembler.Reset()
			return ctx.Err()
		default:
			s.parser.Reset()
			return err
		}
	}
}

func (s *Session) handleUnit(u nal.Unit) {
	metrics.IncUnitsParsed(u.Kind.String())
	s.assembler.Convert(u)
}

func (s *Session) handleParseError(err error) {
	var mu *parser.MalformedUnitError
	size := 0
	if errors.As(err, &mu) {
		size = mu.Size
	}
	metrics.RecordMalformedUnit(s.cfg.Transport, size)
	s.throttled.Warn("malformed_unit", map[string]interface{}{"error": err.Error()}, "Discarded malformed unit")
}

func (s *Session) handleAssemblerError(err error) {
	s.throttled.Warn("description_build", map[string]interface{}{"error": err.Error()}, "Parameter sets rejected")
}

func (s *Session) handleAccessUnit(au *assembler.AccessUnit) {
	metrics.IncAccessUnits(au.Keyframe)

	s.mu.Lock()
	if au.Keyframe {
		s.info.Stats.Keyframes++
	}
	if s.info.Status != registry.StatusActive || s.info.Codec != au.Description.Codec() {
		s.info.Status = registry.StatusActive
		s.info.Codec = au.Description.Codec()
		s.info.Width = au.Description.Width
		s.info.Height = au.Description.Height
		s.info.FPS = au.Description.FPS
		s.info.AVCC = au.Description.Record()
		s.mu.Unlock()
		s.log.WithFields(logger.Fields{
			"codec":  au.Description.Codec(),
			"width":  au.Description.Width,
			"height": au.Description.Height,
		}).Info("Format description ready")
	} else {
		s.mu.Unlock()
	}

	for _, sink := range s.sinks {
		if err := sink.WriteAccessUnit(au); err != nil {
			metrics.IncSinkErrors(fmt.Sprintf("%T", sink))
			s.throttled.Warn("sink", map[string]interface{}{"error": err.Error()}, "Sink rejected access unit")
		}
	}
}

// syncStats folds pipeline counters into the stream record and exports
// the assembler deltas.
func (s *Session) syncStats() {
	ps := s.parser.Stats()
	as := s.assembler.Stats()
	rs := s.ring.Stats()

	metrics.AddVCLDropped(as.VCLDropped - s.asmLast.VCLDropped)
	metrics.AddDescriptionBuilds(metrics.BuildOK, as.DescriptionBuilds-s.asmLast.DescriptionBuilds)
	metrics.AddDescriptionBuilds(metrics.BuildFailed, as.DescriptionFailed-s.asmLast.DescriptionFailed)
	metrics.AddParameterResets(as.ParameterResets - s.asmLast.ParameterResets)
	s.asmLast = as

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.info.Stats
	st.BytesReceived = ps.BytesFed
	st.UnitsParsed = ps.UnitsEmitted
	st.MalformedUnits = ps.MalformedUnits
	st.AccessUnits = as.AccessUnits
	st.VCLDropped = as.VCLDropped
	st.DescriptionBuilds = as.DescriptionBuilds
	st.ParameterResets = as.ParameterResets
	st.BufferHighWater = rs.HighWater

	if as.State == assembler.StateAwaitingParameters {
		s.info.Status = registry.StatusAwaitingParameters
	}
}

func (s *Session) heartbeat(ctx context.Context, done <-chan struct{}) {
	if s.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.registry.Update(ctx, s.Info()); err != nil {
				s.throttled.Warn("heartbeat", map[string]interface{}{"error": err.Error()}, "Registry heartbeat failed")
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) closeSinks() {
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close sink")
		}
	}
}

func (s *Session) finish(runErr error) {
	s.mu.Lock()
	s.info.Status = registry.StatusClosed
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := s.registry.Unregister(ctx, s.info.ID); err != nil {
		s.log.WithError(err).Warn("Failed to unregister stream")
	}

	info := s.Info()
	entry := s.log.WithFields(logger.Fields{
		"duration":     time.Since(s.started).Round(time.Millisecond).String(),
		"bytes":        info.Stats.BytesReceived,
		"units":        info.Stats.UnitsParsed,
		"access_units": info.Stats.AccessUnits,
		"vcl_dropped":  info.Stats.VCLDropped,
	})
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		entry.WithError(runErr).Warn("Stream ended with error")
		return
	}
	entry.Info("Stream ended")
}
