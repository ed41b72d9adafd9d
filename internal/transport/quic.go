package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/nalrelay/internal/config"
)

// closeWait bounds how long a dialing stream waits for the receiver to
// drain and close the connection.
const closeWait = 5 * time.Second

const (
	errCodeNone    quic.ApplicationErrorCode = 0
	errCodeAborted quic.ApplicationErrorCode = 1
)

// QUICListener accepts one bidirectional stream per QUIC connection.
type QUICListener struct {
	ln     *quic.Listener
	closed atomic.Bool
}

// ListenQUIC listens on addr.
func ListenQUIC(addr string, tlsCfg config.TLSConfig, qcfg config.QUICConfig) (*QUICListener, error) {
	tc, err := ServerTLSConfig(tlsCfg)
	if err != nil {
		return nil, err
	}

	ln, err := quic.ListenAddr(addr, tc, quicConfig(qcfg))
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	return &QUICListener{ln: ln}, nil
}

func quicConfig(c config.QUICConfig) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  c.MaxIdleTimeout,
		KeepAlivePeriod: c.KeepAlivePeriod,
	}
}

func (l *QUICListener) Accept(ctx context.Context) (Stream, error) {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if l.closed.Load() {
				return nil, ErrListenerClosed
			}
			return nil, fmt.Errorf("quic accept: %w", err)
		}

		// The sender opens its stream right after the handshake.
		streamCtx, cancel := context.WithTimeout(ctx, closeWait)
		str, err := conn.AcceptStream(streamCtx)
		cancel()
		if err != nil {
			conn.CloseWithError(errCodeAborted, "no stream")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return &quicStream{Stream: str, conn: conn}, nil
	}
}

func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *QUICListener) Transport() string {
	return QUIC
}

func (l *QUICListener) Close() error {
	l.closed.Store(true)
	return l.ln.Close()
}

type quicStream struct {
	quic.Stream
	conn   quic.Connection
	dialed bool
}

func (s *quicStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *quicStream) Name() string {
	return ""
}

// Close ends the send side. A dialing stream then waits for the receiver to
// close the connection so buffered data is not cut off.
func (s *quicStream) Close() error {
	err := s.Stream.Close()
	if s.dialed {
		select {
		case <-s.conn.Context().Done():
		case <-time.After(closeWait):
		}
	} else {
		s.Stream.CancelRead(quic.StreamErrorCode(errCodeNone))
	}
	s.conn.CloseWithError(errCodeNone, "")
	return err
}

// DialQUIC connects to addr and opens the stream.
func DialQUIC(ctx context.Context, addr string, tlsCfg config.TLSConfig) (Stream, error) {
	conn, err := quic.DialAddr(ctx, addr, ClientTLSConfig(tlsCfg), &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}

	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(errCodeAborted, "open stream")
		return nil, fmt.Errorf("quic open stream: %w", err)
	}
	return &quicStream{Stream: str, conn: conn, dialed: true}, nil
}
