package ingest

import (
	"path/filepath"

	"github.com/zsiec/nalrelay/internal/assembler"
	"github.com/zsiec/nalrelay/internal/registry"
)

// Sink consumes decode-ready access units of one stream. Calls arrive in
// stream order from a single goroutine.
type Sink interface {
	WriteAccessUnit(au *assembler.AccessUnit) error
	Close() error
}

// SinkFactory creates the sinks of a new session.
type SinkFactory func(stream *registry.Stream) (Sink, error)

// SinkFunc adapts a function to a Sink with a no-op Close.
type SinkFunc func(au *assembler.AccessUnit) error

func (f SinkFunc) WriteAccessUnit(au *assembler.AccessUnit) error {
	return f(au)
}

func (f SinkFunc) Close() error {
	return nil
}

// RecorderFactory records every session to <dir>/<stream id>.ts.
func RecorderFactory(dir string) SinkFactory {
	return func(stream *registry.Stream) (Sink, error) {
		return NewRecorder(filepath.Join(dir, stream.ID+".ts"))
	}
}
