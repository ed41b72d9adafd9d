package ingest

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nalrelay/internal/assembler"
	"github.com/zsiec/nalrelay/internal/h264test"
	"github.com/zsiec/nalrelay/internal/nal"
	"github.com/zsiec/nalrelay/internal/registry"
)

// assemble runs payloads through an assembler and returns its access units.
func assemble(payloads ...[]byte) []*assembler.AccessUnit {
	var out []*assembler.AccessUnit
	a := assembler.New(assembler.Config{})
	a.OnAccessUnit(func(au *assembler.AccessUnit) {
		out = append(out, au)
	})
	for _, p := range payloads {
		a.Convert(nal.MustClassify(p))
	}
	return out
}

type readAU struct {
	pts int64
	au  [][]byte
}

func readTS(t *testing.T, path string) []readAU {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := &mpegts.Reader{R: f}
	require.NoError(t, r.Initialize())
	require.Len(t, r.Tracks(), 1)

	var out []readAU
	r.OnDataH264(r.Tracks()[0], func(pts, dts int64, au [][]byte) error {
		out = append(out, readAU{pts: pts, au: au})
		return nil
	})

	for {
		if err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
		}
	}
	return out
}

func hasType(au [][]byte, typ h264.NALUType) bool {
	for _, n := range au {
		if h264.NALUType(n[0]&0x1F) == typ {
			return true
		}
	}
	return false
}

func TestRecorderWritesMPEGTS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "tcp-1.ts")
	rec, err := NewRecorder(path)
	require.NoError(t, err)
	assert.Equal(t, path, rec.Path())

	clock := time.Unix(0, 0)
	rec.now = func() time.Time {
		clock = clock.Add(40 * time.Millisecond)
		return clock
	}

	aus := assemble(h264test.SPS, h264test.PPS, h264test.IDR, h264test.NonIDR, h264test.NonIDR)
	require.Len(t, aus, 3)
	for _, au := range aus {
		require.NoError(t, rec.WriteAccessUnit(au))
	}
	require.NoError(t, rec.Close())

	got := readTS(t, path)
	require.Len(t, got, 3)

	assert.True(t, hasType(got[0].au, h264.NALUTypeSPS))
	assert.True(t, hasType(got[0].au, h264.NALUTypeIDR))
	assert.False(t, hasType(got[1].au, h264.NALUTypeSPS))
	assert.True(t, hasType(got[2].au, h264.NALUTypeNonIDR))
	assert.Less(t, got[0].pts, got[1].pts)
	assert.Less(t, got[1].pts, got[2].pts)
}

func TestRecorderWaitsForKeyframe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.ts")
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	aus := assemble(h264test.SPS, h264test.PPS, h264test.NonIDR, h264test.IDR)
	require.Len(t, aus, 2)
	for _, au := range aus {
		require.NoError(t, rec.WriteAccessUnit(au))
	}
	require.NoError(t, rec.Close())

	got := readTS(t, path)
	require.Len(t, got, 1)
	assert.True(t, hasType(got[0].au, h264.NALUTypeIDR))
}

func TestRecorderFactory(t *testing.T) {
	dir := t.TempDir()
	sink, err := RecorderFactory(dir)(&registry.Stream{ID: "quic-abc"})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	_, err = os.Stat(filepath.Join(dir, "quic-abc.ts"))
	assert.NoError(t, err)
}
