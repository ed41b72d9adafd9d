package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/nalrelay/internal/config"
	"github.com/zsiec/nalrelay/internal/logger"
	"github.com/zsiec/nalrelay/internal/metrics"
	"github.com/zsiec/nalrelay/internal/registry"
	"github.com/zsiec/nalrelay/internal/transport"
)

// Accept retry delays after a failed Accept.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Rejection reasons reported by the accept loop.
const (
	RejectRateLimited    = "rate_limited"
	RejectMaxConnections = "max_connections"
)

// Manager accepts streams from one listener and runs a Session for each.
type Manager struct {
	cfg      SessionConfig
	maxConns int
	limiter  *rate.Limiter
	registry registry.Registry
	sinks    []SinkFactory

	logger    logger.Logger
	throttled *logger.Throttled

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup

	listening atomic.Bool
	addr      atomic.Value // net.Addr
}

// NewManager creates a manager from the receiver, parser, assembler and
// registry settings of cfg.
func NewManager(cfg *config.Config, reg registry.Registry, log logger.Logger, sinks ...SinkFactory) *Manager {
	rc := cfg.Receiver

	var limiter *rate.Limiter
	if rc.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(rc.AcceptRate), rc.AcceptBurst)
	}

	log = log.WithField("component", "ingest")

	return &Manager{
		cfg: SessionConfig{
			Transport:         rc.Transport,
			ReadSize:          rc.ReadSize,
			RingSize:          rc.RingSize,
			IdleTimeout:       rc.IdleTimeout,
			FlushOnEOF:        rc.FlushOnEOF,
			HeartbeatInterval: cfg.Registry.HeartbeatInterval,
			Parser:            cfg.Parser,
			Assembler:         cfg.Assembler,
		},
		maxConns:  rc.MaxConnections,
		limiter:   limiter,
		registry:  reg,
		sinks:     sinks,
		logger:    log,
		throttled: logger.NewThrottled(log, 10*time.Second, 3),
		sessions:  make(map[string]*Session),
	}
}

// Run listens with the configured transport and serves until ctx is done.
func (m *Manager) Run(ctx context.Context, rc config.ReceiverConfig) error {
	ln, err := transport.Listen(ctx, rc)
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln)
}

// Serve accepts from ln until ctx is done, then closes ln and waits for the
// sessions to stop. Stopped sessions discard their partial units.
func (m *Manager) Serve(ctx context.Context, ln transport.Listener) error {
	m.cfg.Transport = ln.Transport()
	m.addr.Store(ln.Addr())
	m.listening.Store(true)

	m.logger.WithFields(logger.Fields{
		"addr":      ln.Addr().String(),
		"transport": ln.Transport(),
	}).Info("Ingest listener started")

	defer func() {
		m.listening.Store(false)
		ln.Close()
		m.wg.Wait()
		m.logger.Info("Ingest listener stopped")
	}()

	var delay time.Duration
	for {
		stream, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			delay = nextAcceptDelay(delay)
			m.throttled.Warn("accept", map[string]interface{}{
				"error":    err.Error(),
				"retry_in": delay.String(),
			}, "Accept failed")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		delay = 0

		if reason := m.admit(); reason != "" {
			metrics.IncConnectionsRejected(m.cfg.Transport, reason)
			m.throttled.Warn("reject_"+reason, map[string]interface{}{
				"remote": stream.RemoteAddr().String(),
			}, "Connection rejected")
			stream.Close()
			continue
		}

		m.start(ctx, stream)
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(d*2, maxAcceptDelay)
}

// admit returns a rejection reason or an empty string.
func (m *Manager) admit() string {
	if m.maxConns > 0 && m.ActiveSessions() >= m.maxConns {
		return RejectMaxConnections
	}
	if m.limiter != nil && !m.limiter.Allow() {
		return RejectRateLimited
	}
	return ""
}

func (m *Manager) start(ctx context.Context, stream transport.Stream) {
	s := NewSession(m.cfg, stream, m.registry, nil, m.logger)

	sinks, err := m.openSinks(s.Info())
	if err != nil {
		m.logger.WithError(err).Error("Failed to open sinks")
		stream.Close()
		return
	}
	s.sinks = sinks

	ctx, s.stop = context.WithCancel(ctx)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.sessions, s.ID())
			m.mu.Unlock()
			s.stop()
		}()
		s.Run(ctx)
	}()
}

func (m *Manager) openSinks(info *registry.Stream) ([]Sink, error) {
	sinks := make([]Sink, 0, len(m.sinks))
	for _, factory := range m.sinks {
		sink, err := factory(info)
		if err != nil {
			for _, opened := range sinks {
				opened.Close()
			}
			return nil, fmt.Errorf("open sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// Listening reports whether the accept loop is running.
func (m *Manager) Listening() bool {
	return m.listening.Load()
}

// Addr returns the listener address once Serve has started.
func (m *Manager) Addr() net.Addr {
	addr, _ := m.addr.Load().(net.Addr)
	return addr
}

func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) MaxSessions() int {
	return m.maxConns
}

// Sessions returns snapshots of the local sessions.
func (m *Manager) Sessions() []*registry.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*registry.Stream, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Session returns a snapshot of one local session.
func (m *Manager) Session(id string) (*registry.Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Info(), true
}

// Disconnect stops a local session. Its partial unit is discarded.
func (m *Manager) Disconnect(id string) bool {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.log.Info("Disconnect requested")
	s.stop()
	return true
}
