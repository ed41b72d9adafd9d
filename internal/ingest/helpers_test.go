package ingest

import (
	"errors"
	"net"
	"sync"

	"github.com/zsiec/nalrelay/internal/assembler"
)

// pipeStream adapts one end of net.Pipe to transport.Stream.
type pipeStream struct {
	net.Conn
}

func (pipeStream) Name() string {
	return "cam1"
}

func newPipe() (pipeStream, net.Conn) {
	server, client := net.Pipe()
	return pipeStream{Conn: server}, client
}

type collectSink struct {
	mu     sync.Mutex
	aus    []*assembler.AccessUnit
	closed bool
	fail   bool
}

func (c *collectSink) WriteAccessUnit(au *assembler.AccessUnit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aus = append(c.aus, au)
	if c.fail {
		return errors.New("sink full")
	}
	return nil
}

func (c *collectSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *collectSink) units() []*assembler.AccessUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*assembler.AccessUnit(nil), c.aus...)
}

func (c *collectSink) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
