package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.Equal(t, "redis", checker.Name())
	require.NoError(t, checker.Check(context.Background()))

	mr.Close()
	err := checker.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

type fakeIngest struct {
	listening bool
	active    int
	max       int
}

func (f fakeIngest) Listening() bool     { return f.listening }
func (f fakeIngest) ActiveSessions() int { return f.active }
func (f fakeIngest) MaxSessions() int    { return f.max }

func TestIngestChecker(t *testing.T) {
	tests := []struct {
		name       string
		status     fakeIngest
		wantErr    bool
		wantDegrad bool
	}{
		{"accepting", fakeIngest{listening: true, active: 1, max: 4}, false, false},
		{"unbounded", fakeIngest{listening: true, active: 100}, false, false},
		{"not listening", fakeIngest{}, true, false},
		{"full", fakeIngest{listening: true, active: 4, max: 4}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewIngestChecker(tt.status)
			err := checker.Check(context.Background())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var degraded *DegradedError
			assert.Equal(t, tt.wantDegrad, errors.As(err, &degraded))
		})
	}

	details := NewIngestChecker(fakeIngest{listening: true, active: 2, max: 8}).Details()
	assert.Equal(t, 2, details["active_sessions"])
	assert.Equal(t, 8, details["max_sessions"])
}

func TestRecorderChecker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	checker := NewRecorderChecker(dir)

	require.NoError(t, checker.Check(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	assert.Error(t, NewRecorderChecker(filepath.Join(blocker, "sub")).Check(context.Background()))
}
