package ingest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nalrelay/internal/config"
	"github.com/zsiec/nalrelay/internal/h264test"
	"github.com/zsiec/nalrelay/internal/logger"
	"github.com/zsiec/nalrelay/internal/registry"
	"github.com/zsiec/nalrelay/internal/transport"
)

func testConfig() *config.Config {
	return &config.Config{
		Receiver: config.ReceiverConfig{
			Transport: transport.TCP,
			ReadSize:  1024,
			RingSize:  4096,
		},
		Registry: config.RegistryConfig{HeartbeatInterval: 20 * time.Millisecond},
	}
}

type sinkSet struct {
	mu    sync.Mutex
	sinks map[string]*collectSink
}

func (s *sinkSet) factory(stream *registry.Stream) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink := &collectSink{}
	s.sinks[stream.ID] = sink
	return sink, nil
}

func (s *sinkSet) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sink := range s.sinks {
		n += len(sink.units())
	}
	return n
}

func serve(t *testing.T, cfg *config.Config, reg registry.Registry, sinks ...SinkFactory) (*Manager, context.CancelFunc, chan error) {
	t.Helper()
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	m := NewManager(cfg, reg, logger.Discard(), sinks...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Serve(ctx, ln)
	}()

	require.Eventually(t, m.Listening, time.Second, 5*time.Millisecond)
	t.Cleanup(cancel)
	return m, cancel, done
}

func TestManagerEndToEnd(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	set := &sinkSet{sinks: map[string]*collectSink{}}
	m, cancel, done := serve(t, testConfig(), reg, set.factory)

	stream := h264test.AnnexB(h264test.SPS, h264test.PPS, h264test.IDR, h264test.NonIDR, h264test.NonIDR)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", m.Addr().String())
			if !assert.NoError(t, err) {
				return
			}
			for _, chunk := range h264test.Split(stream, 5, 22, 40) {
				conn.Write(chunk)
			}
			conn.Close()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return set.total() == 6 && m.ActiveSessions() == 0
	}, 5*time.Second, 10*time.Millisecond)

	streams, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, streams)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, m.Listening())
}

func TestManagerDefaultsNeverSurfaceTruncatedUnit(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	set := &sinkSet{sinks: map[string]*collectSink{}}
	m, _, _ := serve(t, cfg, registry.NewMemoryRegistry(), set.factory)

	conn, err := net.Dial("tcp", m.Addr().String())
	require.NoError(t, err)
	// The sender dies three bytes into the IDR slice but the socket closes cleanly.
	_, err = conn.Write(h264test.AnnexB(h264test.SPS, h264test.PPS, h264test.IDR[:3]))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		set.mu.Lock()
		opened := len(set.sinks)
		set.mu.Unlock()
		return opened == 1 && m.ActiveSessions() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Zero(t, set.total())
}

func TestManagerTracksLiveSessions(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	m, cancel, done := serve(t, testConfig(), reg)

	conn, err := net.Dial("tcp", m.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(h264test.AnnexB(h264test.SPS, h264test.PPS, h264test.IDR, h264test.NonIDR))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sessions := m.Sessions()
		return len(sessions) == 1 && sessions[0].Status == registry.StatusActive
	}, 2*time.Second, 5*time.Millisecond)

	streams, err := reg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, transport.TCP, streams[0].Transport)

	// Shutdown stops live sessions.
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, m.ActiveSessions())
}

func TestManagerRejectsOverLimit(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"max connections", func(c *config.Config) { c.Receiver.MaxConnections = 1 }},
		{"accept rate", func(c *config.Config) {
			c.Receiver.AcceptRate = 0.001
			c.Receiver.AcceptBurst = 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			m, _, _ := serve(t, cfg, registry.NewMemoryRegistry())

			first, err := net.Dial("tcp", m.Addr().String())
			require.NoError(t, err)
			defer first.Close()
			require.Eventually(t, func() bool { return m.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)

			second, err := net.Dial("tcp", m.Addr().String())
			require.NoError(t, err)
			defer second.Close()

			second.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err = second.Read(make([]byte, 1))
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, 1, m.ActiveSessions())
		})
	}
}

func TestManagerSinkFactoryFailure(t *testing.T) {
	failing := func(*registry.Stream) (Sink, error) {
		return nil, assert.AnError
	}
	opened := &collectSink{}
	first := func(*registry.Stream) (Sink, error) {
		return opened, nil
	}
	m, _, _ := serve(t, testConfig(), registry.NewMemoryRegistry(), first, failing)

	conn, err := net.Dial("tcp", m.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, opened.isClosed())
	assert.Zero(t, m.ActiveSessions())
}

func TestManagerDisconnect(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	m, _, _ := serve(t, testConfig(), reg)

	conn, err := net.Dial("tcp", m.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return m.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)
	id := m.Sessions()[0].ID

	info, ok := m.Session(id)
	require.True(t, ok)
	assert.Equal(t, id, info.ID)

	assert.False(t, m.Disconnect("tcp-missing"))
	assert.True(t, m.Disconnect(id))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)

	require.Eventually(t, func() bool { return m.ActiveSessions() == 0 }, time.Second, 5*time.Millisecond)
	_, err = reg.Get(context.Background(), id)
	assert.ErrorIs(t, err, registry.ErrStreamNotFound)
}

// flakyListener fails the first failures Accept calls, then blocks until ctx
// is done.
type flakyListener struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (l *flakyListener) Accept(ctx context.Context) (transport.Stream, error) {
	l.mu.Lock()
	l.calls++
	failing := l.calls <= l.failures
	l.mu.Unlock()

	if failing {
		return nil, errors.New("too many open files")
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (l *flakyListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *flakyListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (l *flakyListener) Transport() string { return transport.TCP }

func (l *flakyListener) Close() error { return nil }

func TestManagerBacksOffOnAcceptErrors(t *testing.T) {
	ln := &flakyListener{failures: 1 << 30}
	m := NewManager(testConfig(), registry.NewMemoryRegistry(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Serve(ctx, ln)
	}()

	// 5+10+20+40+80+160ms of retry delay leaves room for only a handful of calls.
	time.Sleep(200 * time.Millisecond)
	assert.Less(t, ln.count(), 10)
	assert.Greater(t, ln.count(), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop during an accept backoff")
	}
}

func TestManagerRecoversAfterAcceptErrors(t *testing.T) {
	ln := &flakyListener{failures: 3}
	m := NewManager(testConfig(), registry.NewMemoryRegistry(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Serve(ctx, ln)

	require.Eventually(t, func() bool { return ln.count() == 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestNextAcceptDelay(t *testing.T) {
	var d time.Duration
	var got []time.Duration
	for i := 0; i < 10; i++ {
		d = nextAcceptDelay(d)
		got = append(got, d)
	}
	assert.Equal(t, minAcceptDelay, got[0])
	assert.Equal(t, 2*minAcceptDelay, got[1])
	assert.Equal(t, maxAcceptDelay, got[len(got)-1])
}
