// Package registry tracks live ingest streams in memory or in Redis so the
// API and other relays can list them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/nalrelay/internal/config"
)

var (
	ErrStreamNotFound = errors.New("stream not found")
	ErrStreamExists   = errors.New("stream already registered")
)

// Registry stores stream records.
type Registry interface {
	// Register adds a new stream. It fails with ErrStreamExists for a
	// known ID.
	Register(ctx context.Context, stream *Stream) error

	// Update replaces a known stream record and refreshes its heartbeat.
	Update(ctx context.Context, stream *Stream) error

	Unregister(ctx context.Context, streamID string) error
	Get(ctx context.Context, streamID string) (*Stream, error)

	// List returns streams ordered by creation time.
	List(ctx context.Context) ([]*Stream, error)

	Close() error
}

// New builds the registry selected by cfg.Backend. client is required for
// the redis backend.
func New(cfg config.RegistryConfig, client redis.UniversalClient, logger *logrus.Logger) (Registry, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRegistry(), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis registry requires a client")
		}
		return NewRedisRegistry(client, logger, cfg.KeyPrefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}

// MemoryRegistry keeps streams in process.
type MemoryRegistry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{streams: make(map[string]*Stream)}
}

func (m *MemoryRegistry) Register(ctx context.Context, stream *Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[stream.ID]; exists {
		return fmt.Errorf("%w: %s", ErrStreamExists, stream.ID)
	}

	now := time.Now()
	c := stream.Clone()
	c.CreatedAt = now
	c.LastHeartbeat = now
	m.streams[stream.ID] = c
	return nil
}

func (m *MemoryRegistry) Update(ctx context.Context, stream *Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.streams[stream.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, stream.ID)
	}

	c := stream.Clone()
	c.CreatedAt = existing.CreatedAt
	c.LastHeartbeat = time.Now()
	m.streams[stream.ID] = c
	return nil
}

func (m *MemoryRegistry) Unregister(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[streamID]; !exists {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
	}
	delete(m.streams, streamID)
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, streamID string) (*Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream, exists := m.streams[streamID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
	}
	return stream.Clone(), nil
}

func (m *MemoryRegistry) List(ctx context.Context) ([]*Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s.Clone())
	}
	sortByCreation(streams)
	return streams, nil
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = make(map[string]*Stream)
	return nil
}

func sortByCreation(streams []*Stream) {
	sort.Slice(streams, func(i, j int) bool {
		if streams[i].CreatedAt.Equal(streams[j].CreatedAt) {
			return streams[i].ID < streams[j].ID
		}
		return streams[i].CreatedAt.Before(streams[j].CreatedAt)
	})
}
