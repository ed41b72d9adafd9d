package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the lifecycle state of an ingest stream.
type StreamStatus string

const (
	// StatusAwaitingParameters: connected, no format description yet.
	StatusAwaitingParameters StreamStatus = "awaiting_parameters"
	StatusActive             StreamStatus = "active"
	StatusClosed             StreamStatus = "closed"
)

// Stream describes one ingest session.
type Stream struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	Transport     string       `json:"transport"`
	RemoteAddr    string       `json:"remote_addr"`
	Status        StreamStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`

	// Set once a format description exists. AVCC is the
	// AVCDecoderConfigurationRecord, base64 in JSON.
	Codec  string  `json:"codec,omitempty"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	FPS    float64 `json:"fps,omitempty"`
	AVCC   []byte  `json:"avcc,omitempty"`

	Stats StreamStats `json:"stats"`
}

// StreamStats holds per-stream counters.
type StreamStats struct {
	BytesReceived     int64 `json:"bytes_received"`
	UnitsParsed       int64 `json:"units_parsed"`
	MalformedUnits    int64 `json:"malformed_units"`
	AccessUnits       int64 `json:"access_units"`
	Keyframes         int64 `json:"keyframes"`
	VCLDropped        int64 `json:"vcl_dropped"`
	DescriptionBuilds int64 `json:"description_builds"`
	ParameterResets   int64 `json:"parameter_resets"`
	BufferHighWater   int   `json:"buffer_high_water"`
}

// NewStreamID returns an ID such as "tcp-3f2a9c1e".
func NewStreamID(transport string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", transport, id[:8])
}

// Clone returns a copy safe to hand to another goroutine.
func (s *Stream) Clone() *Stream {
	c := *s
	return &c
}

// Resolution returns "WxH" or an empty string before the first description.
func (s *Stream) Resolution() string {
	if s.Width == 0 || s.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
