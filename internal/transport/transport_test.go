package transport

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nalrelay/internal/config"
	"github.com/zsiec/nalrelay/internal/h264test"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func receiverConfig(transport string, port int) config.ReceiverConfig {
	return config.ReceiverConfig{
		Transport:  transport,
		ListenAddr: "127.0.0.1",
		Port:       port,
		SRT:        config.SRTConfig{Latency: 20 * time.Millisecond, PayloadSize: 1316},
		QUIC:       config.QUICConfig{MaxIdleTimeout: 5 * time.Second},
	}
}

func senderConfig(transport, addr string) config.SenderConfig {
	return config.SenderConfig{
		Transport:   transport,
		Address:     addr,
		DialTimeout: 5 * time.Second,
		TLS:         config.TLSConfig{ServerName: "localhost", InsecureSkipVerify: true},
		SRT:         config.SRTConfig{Latency: 20 * time.Millisecond, PayloadSize: 1316},
	}
}

// roundTrip sends payload from a dialed stream and returns what the listener
// read until EOF.
func roundTrip(t *testing.T, rcfg config.ReceiverConfig, payload []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := Listen(ctx, rcfg)
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, rcfg.Transport, ln.Transport())

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(rcfg.Port))
	if rcfg.Port == 0 {
		addr = ln.Addr().String()
	}

	sendErr := make(chan error, 1)
	go func() {
		s, err := Dial(ctx, senderConfig(rcfg.Transport, addr))
		if err != nil {
			sendErr <- err
			return
		}
		if _, err := s.Write(payload); err != nil {
			sendErr <- err
			return
		}
		sendErr <- s.Close()
	}()

	stream, err := ln.Accept(ctx)
	require.NoError(t, err)
	assert.NotNil(t, stream.RemoteAddr())

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 65000)
	for len(got) < len(payload) {
		n, err := stream.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	stream.Close()

	require.NoError(t, <-sendErr)
	return got
}

func testPayload() []byte {
	return h264test.AnnexB(
		h264test.SPS,
		h264test.PPS,
		h264test.Payload(0x65, 200000),
		h264test.Payload(0x41, 3000),
	)
}

func TestTCPRoundTrip(t *testing.T) {
	payload := testPayload()
	got := roundTrip(t, receiverConfig(TCP, 0), payload)
	assert.True(t, bytes.Equal(payload, got))
}

func TestQUICRoundTrip(t *testing.T) {
	payload := testPayload()
	got := roundTrip(t, receiverConfig(QUIC, freeUDPPort(t)), payload)
	assert.True(t, bytes.Equal(payload, got))
}

func TestSRTRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("srt handshake and latency window")
	}
	payload := h264test.AnnexB(h264test.SPS, h264test.PPS, h264test.Payload(0x65, 20000))
	got := roundTrip(t, receiverConfig(SRT, freeUDPPort(t)), payload)
	assert.True(t, bytes.Equal(payload, got))
}

func TestTCPAcceptHonorsContext(t *testing.T) {
	ln, err := ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = ln.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The listener is still usable afterwards.
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()
	s, err := ln.Accept(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Name())
	s.Close()
}

func TestAcceptAfterClose(t *testing.T) {
	tests := []struct {
		name   string
		listen func(t *testing.T) Listener
	}{
		{"tcp", func(t *testing.T) Listener {
			ln, err := ListenTCP(context.Background(), "127.0.0.1:0")
			require.NoError(t, err)
			return ln
		}},
		{"quic", func(t *testing.T) Listener {
			ln, err := ListenQUIC("127.0.0.1:0", config.TLSConfig{}, config.QUICConfig{})
			require.NoError(t, err)
			return ln
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln := tt.listen(t)
			require.NoError(t, ln.Close())

			_, err := ln.Accept(context.Background())
			assert.True(t, errors.Is(err, ErrListenerClosed), "got %v", err)
		})
	}
}

func TestUnsupportedTransport(t *testing.T) {
	_, err := Listen(context.Background(), config.ReceiverConfig{Transport: "udp"})
	assert.Error(t, err)

	_, err = Dial(context.Background(), config.SenderConfig{Transport: "udp"})
	assert.Error(t, err)
}

func TestSelfSignedCertificate(t *testing.T) {
	cert, err := SelfSignedCertificate("localhost")
	require.NoError(t, err)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, parsed.DNSNames)
	assert.True(t, parsed.NotAfter.After(time.Now()))

	tc, err := ServerTLSConfig(config.TLSConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{ALPN}, tc.NextProtos)

	_, err = ServerTLSConfig(config.TLSConfig{CertFile: "missing.pem", KeyFile: "missing.key"})
	assert.Error(t, err)
}
