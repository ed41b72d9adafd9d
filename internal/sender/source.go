package sender

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/zsiec/nalrelay/internal/nal"
	"github.com/zsiec/nalrelay/internal/parser"
)

const readChunk = 32 * 1024

// errStop aborts an MPEG-TS read after a send failed.
var errStop = errors.New("stop")

// SendAnnexB parses an Annex-B byte stream from r and forwards every unit.
// Each slice counts as one frame for pacing. Malformed units are skipped.
func (s *Sender) SendAnnexB(ctx context.Context, r io.Reader, cfg parser.Config) (int, error) {
	p := parser.New(cfg)

	var sent int
	var sendErr error
	p.OnUnit(func(u nal.Unit) {
		if sendErr != nil {
			return
		}
		if sendErr = s.SendUnit(ctx, u); sendErr == nil {
			sent++
		}
	})
	p.OnError(func(err error) {
		s.log.WithError(err).Warn("Skipping malformed unit in source")
	})

	buf := make([]byte, readChunk)
	for sendErr == nil {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			p.Feed(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			p.Flush()
			break
		}
		if err != nil {
			return sent, fmt.Errorf("read source: %w", err)
		}
	}
	return sent, sendErr
}

// SendMPEGTS demuxes the first H.264 track of an MPEG-TS stream and forwards
// each access unit as one frame.
func (s *Sender) SendMPEGTS(ctx context.Context, r io.Reader) (int, error) {
	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		return 0, fmt.Errorf("read mpegts: %w", err)
	}

	var track *mpegts.Track
	for _, t := range reader.Tracks() {
		if _, ok := t.Codec.(*mpegts.CodecH264); ok {
			track = t
			break
		}
	}
	if track == nil {
		return 0, errors.New("mpegts source has no H.264 track")
	}

	var sent int
	var sendErr error
	reader.OnDataH264(track, func(_, _ int64, au [][]byte) error {
		units := make([]nal.Unit, 0, len(au))
		for _, payload := range au {
			u, err := nal.Classify(payload)
			if err != nil {
				continue
			}
			units = append(units, u)
		}
		if err := s.SendFrame(ctx, units); err != nil {
			sendErr = err
			return errStop
		}
		sent += len(units)
		return nil
	})

	for {
		if err := reader.Read(); err != nil {
			if sendErr != nil {
				return sent, sendErr
			}
			if errors.Is(err, io.EOF) {
				return sent, nil
			}
			return sent, fmt.Errorf("read mpegts: %w", err)
		}
		if sendErr != nil {
			return sent, sendErr
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
	}
}
