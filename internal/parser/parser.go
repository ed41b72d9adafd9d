// Package parser reassembles NAL units from an Annex-B byte stream delivered
// in arbitrarily sized chunks.
package parser

import (
	"github.com/zsiec/nalrelay/internal/nal"
)

// compactThreshold is the minimum consumed prefix worth reclaiming.
const compactThreshold = 4096

// UnitHandler receives every complete unit in stream order.
type UnitHandler func(nal.Unit)

// ErrorHandler receives non-fatal parse errors. Errors wrap
// nal.ErrMalformedUnit.
type ErrorHandler func(error)

// Config controls parser limits.
type Config struct {
	// MaxUnitSize bounds a single unit in bytes. Zero disables the bound.
	MaxUnitSize int `mapstructure:"max_unit_size"`
}

// Stats is a snapshot of parser counters.
type Stats struct {
	BytesFed       int64 `json:"bytes_fed"`
	UnitsEmitted   int64 `json:"units_emitted"`
	MalformedUnits int64 `json:"malformed_units"`
	BytesDiscarded int64 `json:"bytes_discarded"`
	Buffered       int   `json:"buffered"`
}

// Parser is a streaming Annex-B splitter. It is not safe for concurrent use;
// a stream owns exactly one parser and feeds it from one goroutine.
//
// The live window is buf[start:]. Bytes in front of start were consumed and
// are reclaimed by compaction. search is relative to start and never exceeds
// the window length; no start code begins in window[:search].
type Parser struct {
	cfg Config

	buf    []byte
	start  int
	search int

	// offset is the absolute stream position of buf[start].
	offset int64

	// oversized is set once the current unit outgrew MaxUnitSize and its
	// scanned prefix was dropped. dropped counts those bytes.
	oversized bool
	dropped   int

	onUnit  UnitHandler
	onError ErrorHandler

	stats Stats
}

// New creates a parser.
func New(cfg Config) *Parser {
	return &Parser{
		cfg:     cfg,
		onUnit:  func(nal.Unit) {},
		onError: func(error) {},
	}
}

// OnUnit sets the unit handler.
func (p *Parser) OnUnit(h UnitHandler) {
	if h == nil {
		h = func(nal.Unit) {}
	}
	p.onUnit = h
}

// OnError sets the error handler.
func (p *Parser) OnError(h ErrorHandler) {
	if h == nil {
		h = func(error) {}
	}
	p.onError = h
}

// Feed appends chunk to the window and emits every unit whose closing start
// code is now visible. The chunk is copied; the caller may reuse it.
func (p *Parser) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	p.stats.BytesFed += int64(len(chunk))
	p.compact()
	p.buf = append(p.buf, chunk...)
	p.scan()
	p.enforceLimit()
}

// Flush treats the buffered tail as a complete unit, emits it and leaves the
// parser empty. Call it at a clean end of stream.
func (p *Parser) Flush() {
	window := p.buf[p.start:]
	if len(window) > 0 || p.oversized {
		p.emit(window)
	}
	p.Reset()
}

// Reset discards buffered data without emitting anything.
func (p *Parser) Reset() {
	p.offset += int64(len(p.buf) - p.start)
	p.buf = p.buf[:0]
	p.start = 0
	p.search = 0
	p.oversized = false
	p.dropped = 0
}

// Buffered returns the number of bytes held for the unit in progress.
func (p *Parser) Buffered() int {
	return len(p.buf) - p.start
}

// Stats returns a snapshot of the parser counters.
func (p *Parser) Stats() Stats {
	s := p.stats
	s.Buffered = p.Buffered()
	return s
}

func (p *Parser) scan() {
	for {
		window := p.buf[p.start:]
		s := p.search
		if s > len(window)-nal.StartCodeLen {
			return
		}

		if window[s] == 0 && window[s+1] == 0 && window[s+2] == 0 && window[s+3] == 1 {
			if s > 0 || p.oversized {
				p.emit(window[:s])
			}
			p.advance(s + nal.StartCodeLen)
			continue
		}

		// A start code beginning at s+1, s+2 or s+3 needs window[s+3] == 0.
		if window[s+3] != 0 {
			p.search += 4
		} else {
			p.search++
		}
	}
}

// advance consumes n bytes from the front of the window.
func (p *Parser) advance(n int) {
	p.start += n
	p.offset += int64(n)
	p.search = 0
}

// enforceLimit drops the scanned prefix of a unit that already exceeds
// MaxUnitSize so the window stays bounded.
func (p *Parser) enforceLimit() {
	if p.cfg.MaxUnitSize <= 0 || p.dropped+p.search <= p.cfg.MaxUnitSize {
		return
	}

	n := p.search
	p.dropped += n
	p.stats.BytesDiscarded += int64(n)
	p.oversized = true
	p.advance(n)
}

// emit reports the unit in payload, prefixed by any bytes already dropped
// because of the size bound.
func (p *Parser) emit(payload []byte) {
	size := p.dropped + len(payload)
	unitOffset := p.offset - int64(p.dropped)
	oversized := p.oversized || (p.cfg.MaxUnitSize > 0 && size > p.cfg.MaxUnitSize)

	p.oversized = false
	p.dropped = 0

	if oversized {
		p.stats.MalformedUnits++
		p.stats.BytesDiscarded += int64(len(payload))
		p.onError(&MalformedUnitError{
			Offset: unitOffset,
			Size:   size,
			Limit:  p.cfg.MaxUnitSize,
			Err:    ErrUnitTooLarge,
		})
		return
	}

	u, err := nal.Classify(payload)
	if err != nil {
		p.stats.MalformedUnits++
		p.onError(&MalformedUnitError{Offset: unitOffset, Size: size, Err: err})
		return
	}

	p.stats.UnitsEmitted++
	p.onUnit(u)
}

// compact moves the live window to the front of buf once the consumed prefix
// is at least as large as the live data.
func (p *Parser) compact() {
	if p.start < compactThreshold || p.start < len(p.buf)-p.start {
		return
	}

	n := copy(p.buf, p.buf[p.start:])
	p.buf = p.buf[:n]
	p.start = 0
}
