// Package transport carries raw Annex-B byte streams over TCP, QUIC or SRT.
// Every transport yields an ordered, reliable byte stream; framing is left to
// the parser.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/zsiec/nalrelay/internal/config"
)

const (
	TCP  = "tcp"
	QUIC = "quic"
	SRT  = "srt"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("listener closed")

// Stream is one connection carrying a byte stream.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr

	// Name is the peer-supplied stream name, such as the SRT stream ID.
	// It is empty when the transport has none.
	Name() string
}

// Listener accepts inbound streams.
type Listener interface {
	// Accept blocks until a stream arrives, ctx is done or the listener is
	// closed.
	Accept(ctx context.Context) (Stream, error)
	Addr() net.Addr
	Transport() string
	Close() error
}

// Listen opens a listener for cfg.Transport on cfg.ListenAddr:cfg.Port.
func Listen(ctx context.Context, cfg config.ReceiverConfig) (Listener, error) {
	addr := net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port))

	switch cfg.Transport {
	case TCP:
		return ListenTCP(ctx, addr)
	case QUIC:
		return ListenQUIC(addr, cfg.TLS, cfg.QUIC)
	case SRT:
		return ListenSRT(addr, cfg.SRT)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// Dial connects to cfg.Address using cfg.Transport.
func Dial(ctx context.Context, cfg config.SenderConfig) (Stream, error) {
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	switch cfg.Transport {
	case TCP:
		return DialTCP(ctx, cfg.Address)
	case QUIC:
		return DialQUIC(ctx, cfg.Address, cfg.TLS)
	case SRT:
		return DialSRT(ctx, cfg.Address, cfg.SRT)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
