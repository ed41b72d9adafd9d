package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	srt "github.com/datarhei/gosrt"

	"github.com/zsiec/nalrelay/internal/config"
)

// SRTListener accepts SRT callers in live mode.
type SRTListener struct {
	ln         srt.Listener
	passphrase string

	conns     chan srt.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// ListenSRT listens on addr.
func ListenSRT(addr string, cfg config.SRTConfig) (*SRTListener, error) {
	ln, err := srt.Listen("srt", addr, srtConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("srt listen %s: %w", addr, err)
	}

	l := &SRTListener{
		ln:         ln,
		passphrase: cfg.Passphrase,
		conns:      make(chan srt.Conn),
		done:       make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func srtConfig(c config.SRTConfig) srt.Config {
	cfg := srt.DefaultConfig()
	if c.Latency > 0 {
		cfg.Latency = c.Latency
	}
	if c.PayloadSize > 0 {
		cfg.PayloadSize = uint32(c.PayloadSize)
	}
	cfg.Passphrase = c.Passphrase
	cfg.StreamId = c.StreamID
	return cfg
}

func (l *SRTListener) acceptLoop() {
	for {
		req, err := l.ln.Accept2()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			// Handshake failures only affect that caller.
			continue
		}

		conn, err := l.admit(req)
		if err != nil {
			continue
		}

		select {
		case l.conns <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

func (l *SRTListener) admit(req srt.ConnRequest) (srt.Conn, error) {
	if req.IsEncrypted() != (l.passphrase != "") {
		req.Reject(srt.REJ_BADSECRET)
		return nil, fmt.Errorf("srt caller %s: encryption mismatch", req.RemoteAddr())
	}
	if l.passphrase != "" {
		if err := req.SetPassphrase(l.passphrase); err != nil {
			req.Reject(srt.REJ_BADSECRET)
			return nil, fmt.Errorf("srt caller %s: %w", req.RemoteAddr(), err)
		}
	}
	return req.Accept()
}

func (l *SRTListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case conn := <-l.conns:
		return &srtStream{Conn: conn}, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *SRTListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *SRTListener) Transport() string {
	return SRT
}

func (l *SRTListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.ln.Close()
	})
	return nil
}

type srtStream struct {
	srt.Conn

	// linger delays a dialed Close until the receiver's latency window has
	// delivered what was sent.
	linger time.Duration
}

func (s *srtStream) Close() error {
	if s.linger > 0 {
		time.Sleep(s.linger)
	}
	return s.Conn.Close()
}

func (s *srtStream) Name() string {
	return s.Conn.StreamId()
}

// DialSRT calls the listener at addr.
func DialSRT(ctx context.Context, addr string, c config.SRTConfig) (Stream, error) {
	cfg := srtConfig(c)
	if deadline, ok := ctx.Deadline(); ok {
		cfg.ConnectionTimeout = time.Until(deadline)
	}

	conn, err := srt.Dial("srt", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("srt dial %s: %w", addr, err)
	}
	return &srtStream{Conn: conn, linger: 2*cfg.Latency + 100*time.Millisecond}, nil
}
