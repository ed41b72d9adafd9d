package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// IngestStatus is the view of the ingest manager the checker needs.
type IngestStatus interface {
	Listening() bool
	ActiveSessions() int
	MaxSessions() int
}

// IngestChecker reports down while the listener is not accepting and
// degraded while every session slot is taken.
type IngestChecker struct {
	status IngestStatus
}

func NewIngestChecker(status IngestStatus) *IngestChecker {
	return &IngestChecker{status: status}
}

func (c *IngestChecker) Name() string {
	return "ingest"
}

func (c *IngestChecker) Check(ctx context.Context) error {
	if !c.status.Listening() {
		return errors.New("ingest listener is not accepting connections")
	}
	if max := c.status.MaxSessions(); max > 0 && c.status.ActiveSessions() >= max {
		return Degraded("session limit reached (%d)", max)
	}
	return nil
}

func (c *IngestChecker) Details() map[string]interface{} {
	return map[string]interface{}{
		"active_sessions": c.status.ActiveSessions(),
		"max_sessions":    c.status.MaxSessions(),
	}
}

// RecorderChecker verifies the recording directory accepts new files.
type RecorderChecker struct {
	dir string
}

func NewRecorderChecker(dir string) *RecorderChecker {
	return &RecorderChecker{dir: dir}
}

func (c *RecorderChecker) Name() string {
	return "recorder"
}

func (c *RecorderChecker) Check(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("recording directory: %w", err)
	}
	f, err := os.CreateTemp(c.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("recording directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
