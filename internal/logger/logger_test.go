package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nalrelay/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, logger *logrus.Logger)
	}{
		{
			name:   "json format stdout",
			config: &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.InfoLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
			},
		},
		{
			name:   "text format stderr",
			config: &config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.DebugLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok)
			},
		},
		{
			name: "file output",
			config: &config.LoggingConfig{
				Level:      "warn",
				Format:     "json",
				Output:     filepath.Join(t.TempDir(), "logs", "relay.log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
			},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.WarnLevel, logger.Level)
			},
		},
		{
			name:    "invalid log level",
			config:  &config.LoggingConfig{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, logger)
		})
	}
}

func TestFileOutputCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.log")
	l, err := New(&config.LoggingConfig{Level: "info", Format: "json", Output: path, MaxSize: 1})
	require.NoError(t, err)

	l.Info("hello")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestJSONFieldNames(t *testing.T) {
	l, err := New(&config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	var buf bytes.Buffer
	l.SetOutput(&buf)
	Service(l, "nalrelay").WithField("stream_id", "abc").Info("stream started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream started", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "nalrelay", entry["service"])
	assert.Equal(t, "abc", entry["stream_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogrusAdapterFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	l := FromLogrus(base)

	WithStream(l, "s1", "tcp", "127.0.0.1:5000").
		WithError(errors.New("boom")).
		WithField("units", 3).
		Warnf("dropped %d units", 3)

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "dropped 3 units", entry.Message)
	assert.Equal(t, "s1", entry.Data["stream_id"])
	assert.Equal(t, "tcp", entry.Data["transport"])
	assert.Equal(t, 3, entry.Data["units"])
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "boom")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.NotPanics(t, func() {
		l.WithField("k", "v").Info("nothing")
		l.Errorf("nothing %d", 1)
	})
}

func TestThrottled(t *testing.T) {
	base, hook := test.NewNullLogger()
	th := NewThrottled(FromLogrus(base), time.Hour, 2)

	assert.True(t, th.Warn("malformed", nil, "first"))
	assert.True(t, th.Warn("malformed", nil, "second"))
	assert.False(t, th.Warn("malformed", nil, "third"))
	assert.False(t, th.Warn("malformed", nil, "fourth"))
	assert.Equal(t, int64(2), th.Suppressed("malformed"))

	// Categories have independent budgets.
	assert.True(t, th.Warn("dropped", map[string]interface{}{"n": 1}, "other"))

	require.Len(t, hook.Entries, 3)
	assert.Equal(t, "malformed", hook.Entries[0].Data["category"])
	assert.Equal(t, 1, hook.LastEntry().Data["n"])
}

func TestThrottledReportsSuppressed(t *testing.T) {
	base, hook := test.NewNullLogger()
	th := NewThrottled(FromLogrus(base), 100*time.Millisecond, 1)

	require.True(t, th.Warn("c", nil, "a"))
	require.False(t, th.Warn("c", nil, "b"))
	require.False(t, th.Warn("c", nil, "c"))

	time.Sleep(250 * time.Millisecond)
	require.True(t, th.Warn("c", nil, "d"))

	assert.Equal(t, int64(2), hook.LastEntry().Data["suppressed"])
	assert.Zero(t, th.Suppressed("c"))
}

func TestRequestLoggerMiddleware(t *testing.T) {
	base, _ := test.NewNullLogger()

	var gotID string
	var gotEntry *logrus.Entry
	handler := RequestLoggerMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
		gotEntry = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("generates request id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/streams", nil))

		assert.NotEmpty(t, gotID)
		assert.Equal(t, gotID, rr.Header().Get(RequestIDHeader))
		assert.Equal(t, "/api/v1/streams", gotEntry.Data["path"])
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "req-42", gotID)
		assert.Equal(t, "10.0.0.1", gotEntry.Data["remote_ip"])
	})
}

func TestResponseWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := NewResponseWriter(rr)

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	rw.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rw.StatusCode())
	assert.Equal(t, http.StatusOK, rr.Code)
}
