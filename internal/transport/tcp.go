package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TCPListener accepts plain TCP connections.
type TCPListener struct {
	ln *net.TCPListener
}

// ListenTCP listens on addr.
func ListenTCP(ctx context.Context, addr string) (*TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	return &TCPListener{ln: ln.(*net.TCPListener)}, nil
}

func (l *TCPListener) Accept(ctx context.Context) (Stream, error) {
	if err := l.ln.SetDeadline(time.Time{}); err != nil {
		return nil, ErrListenerClosed
	}
	stop := context.AfterFunc(ctx, func() {
		l.ln.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	conn, err := l.ln.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("tcp accept: %w", err)
	}
	conn.SetNoDelay(true)
	return &tcpStream{TCPConn: conn}, nil
}

func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *TCPListener) Transport() string {
	return TCP
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

type tcpStream struct {
	*net.TCPConn
}

func (s *tcpStream) Name() string {
	return ""
}

// DialTCP connects to addr.
func DialTCP(ctx context.Context, addr string) (Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
	}
	tc := conn.(*net.TCPConn)
	tc.SetNoDelay(true)
	return &tcpStream{TCPConn: tc}, nil
}
