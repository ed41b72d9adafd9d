package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/zsiec/nalrelay/internal/assembler"
)

// mpegtsClockRate is the MPEG-TS timestamp rate.
const mpegtsClockRate = 90000

// Recorder writes access units to an MPEG-TS file. Access units carry no
// timestamps, so the recorder stamps them with their arrival time.
type Recorder struct {
	path  string
	f     *os.File
	b     *bufio.Writer
	w     *mpegts.Writer
	track *mpegts.Track

	now     func() time.Time
	start   time.Time
	lastPTS int64
	started bool
	desc    *assembler.FormatDescription
}

// NewRecorder creates the file at path, including missing directories.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	b := bufio.NewWriter(f)
	track := &mpegts.Track{Codec: &mpegts.CodecH264{}}
	w := &mpegts.Writer{W: b, Tracks: []*mpegts.Track{track}}
	if err := w.Initialize(); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: %w", err)
	}

	return &Recorder{
		path:  path,
		f:     f,
		b:     b,
		w:     w,
		track: track,
		now:   time.Now,
	}, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.path
}

// WriteAccessUnit muxes au. Recording starts at the first keyframe; the
// parameter sets are written ahead of every keyframe and after a
// description change.
func (r *Recorder) WriteAccessUnit(au *assembler.AccessUnit) error {
	if !r.started {
		if !au.Keyframe {
			return nil
		}
		r.started = true
		r.start = r.now()
		r.lastPTS = -1
	}

	nalus := [][]byte{{byte(h264.NALUTypeAccessUnitDelimiter), 240}}
	if au.Keyframe || au.Description != r.desc {
		nalus = append(nalus, au.Description.SPS, au.Description.PPS)
		r.desc = au.Description
	}
	nalus = append(nalus, au.NALU())

	pts := int64(r.now().Sub(r.start).Seconds() * mpegtsClockRate)
	if pts <= r.lastPTS {
		pts = r.lastPTS + 1
	}
	r.lastPTS = pts

	if err := r.w.WriteH264(r.track, pts, pts, nalus); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	if err := r.b.Flush(); err != nil {
		r.f.Close()
		return fmt.Errorf("recorder: %w", err)
	}
	return r.f.Close()
}
