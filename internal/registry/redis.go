package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultKeyPrefix namespaces registry keys.
const DefaultKeyPrefix = "nalrelay:streams:"

// registerScript stores a stream and indexes it in the active set in one step.
var registerScript = redis.NewScript(`
	local ok = redis.call('SET', KEYS[1], ARGV[1], 'PX', tonumber(ARGV[2]), 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', KEYS[2], ARGV[3])
	return 1
`)

// unregisterScript removes a stream and its index entry.
var unregisterScript = redis.NewScript(`
	local deleted = redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[2], ARGV[1])
	return deleted
`)

// listScript returns live records and prunes IDs whose record expired.
var listScript = redis.NewScript(`
	local active = redis.call('SMEMBERS', KEYS[1])
	local result = {}
	for _, id in ipairs(active) do
		local stream = redis.call('GET', ARGV[1] .. id)
		if stream then
			table.insert(result, stream)
		else
			redis.call('SREM', KEYS[1], id)
		end
	end
	return result
`)

// RedisRegistry stores each stream as a JSON value with a TTL. Sessions
// refresh the TTL through Update; records of crashed relays expire.
type RedisRegistry struct {
	client redis.UniversalClient
	logger *logrus.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a Redis-backed registry.
func NewRedisRegistry(client redis.UniversalClient, logger *logrus.Logger, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisRegistry{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) key(streamID string) string {
	return r.prefix + streamID
}

func (r *RedisRegistry) activeKey() string {
	return r.prefix + "active"
}

func (r *RedisRegistry) Register(ctx context.Context, stream *Stream) error {
	now := time.Now()
	c := stream.Clone()
	c.CreatedAt = now
	c.LastHeartbeat = now

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	result, err := registerScript.Run(ctx, r.client,
		[]string{r.key(stream.ID), r.activeKey()},
		data, r.ttl.Milliseconds(), stream.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to register stream: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("%w: %s", ErrStreamExists, stream.ID)
	}

	r.logger.WithFields(logrus.Fields{
		"stream_id": stream.ID,
		"transport": stream.Transport,
		"remote":    stream.RemoteAddr,
	}).Info("Stream registered")

	return nil
}

// Update rewrites the record and its TTL. CreatedAt is preserved from the
// stored record.
func (r *RedisRegistry) Update(ctx context.Context, stream *Stream) error {
	existing, err := r.Get(ctx, stream.ID)
	if err != nil {
		return err
	}

	c := stream.Clone()
	c.CreatedAt = existing.CreatedAt
	c.LastHeartbeat = time.Now()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	ok, err := r.client.SetXX(ctx, r.key(stream.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, stream.ID)
	}
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, streamID string) error {
	deleted, err := unregisterScript.Run(ctx, r.client,
		[]string{r.key(streamID), r.activeKey()}, streamID).Int()
	if err != nil {
		return fmt.Errorf("failed to unregister stream: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
	}

	r.logger.WithField("stream_id", streamID).Info("Stream unregistered")
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, streamID string) (*Stream, error) {
	data, err := r.client.Get(ctx, r.key(streamID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
		}
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	var stream Stream
	if err := json.Unmarshal(data, &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}
	return &stream, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]*Stream, error) {
	values, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}

	streams := make([]*Stream, 0, len(values))
	for _, data := range values {
		var stream Stream
		if err := json.Unmarshal([]byte(data), &stream); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal stream")
			continue
		}
		streams = append(streams, &stream)
	}

	sortByCreation(streams)
	return streams, nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisRegistry) Close() error {
	return nil
}
