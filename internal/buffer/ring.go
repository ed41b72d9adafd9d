// Package buffer provides the byte ring that decouples connection reads from
// stream parsing.
package buffer

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Write after Close or Abort.
var ErrClosed = errors.New("buffer closed")

// Stats is a snapshot of ring counters.
type Stats struct {
	Size      int   `json:"size"`
	Written   int64 `json:"written"`
	Read      int64 `json:"read"`
	Buffered  int   `json:"buffered"`
	HighWater int   `json:"high_water"`
}

// Ring is a bounded single-producer single-consumer byte pipe. Writers block
// while the ring is full so no byte of the stream is ever dropped; a slow
// consumer pushes back on the connection instead.
type Ring struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	data     []byte
	readPos  int
	writePos int
	buffered int

	written   int64
	read      int64
	highWater int

	closed  bool
	aborted bool
	err     error
}

// NewRing creates a ring holding up to size bytes.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	r := &Ring{data: make([]byte, size)}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Write copies p into the ring, blocking for space as needed. Inputs larger
// than the ring are streamed through it.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) {
		for r.buffered == len(r.data) && !r.closed {
			r.notFull.Wait()
		}
		if r.closed {
			return n, ErrClosed
		}

		free := len(r.data) - r.buffered
		chunk := min(len(p)-n, free, len(r.data)-r.writePos)
		copy(r.data[r.writePos:], p[n:n+chunk])

		r.writePos = (r.writePos + chunk) % len(r.data)
		r.buffered += chunk
		r.written += int64(chunk)
		n += chunk

		r.highWater = max(r.highWater, r.buffered)
		r.notEmpty.Signal()
	}
	return n, nil
}

// Read blocks until data is available. After Close it drains the remaining
// bytes and then returns io.EOF, or the error given to CloseWithError. After
// Abort it returns ErrClosed immediately.
func (r *Ring) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.buffered == 0 && !r.closed {
		r.notEmpty.Wait()
	}
	if r.aborted {
		return 0, ErrClosed
	}
	if r.buffered == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && r.buffered > 0 {
		chunk := min(len(p)-n, r.buffered, len(r.data)-r.readPos)
		copy(p[n:], r.data[r.readPos:r.readPos+chunk])
		r.readPos = (r.readPos + chunk) % len(r.data)
		r.buffered -= chunk
		n += chunk
	}
	r.read += int64(n)
	r.notFull.Signal()

	return n, nil
}

// Close ends the stream; readers drain what is buffered before seeing io.EOF.
func (r *Ring) Close() error {
	return r.CloseWithError(nil)
}

// CloseWithError is Close with err returned to readers in place of io.EOF.
// Only the first close takes effect.
func (r *Ring) CloseWithError(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.err = err
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
	return nil
}

// Abort closes the ring and discards buffered bytes.
func (r *Ring) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.aborted = true
	r.buffered = 0
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
}

// Stats returns a snapshot of the ring counters.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Size:      len(r.data),
		Written:   r.written,
		Read:      r.read,
		Buffered:  r.buffered,
		HighWater: r.highWater,
	}
}
