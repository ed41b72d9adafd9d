package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name    string
	err     error
	delay   time.Duration
	details map[string]interface{}
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func newTestManager() (*Manager, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return NewManager(l), hook
}

func TestManagerRunChecks(t *testing.T) {
	m, _ := newTestManager()
	m.Register(&mockChecker{name: "ok"})
	m.Register(&mockChecker{name: "broken", err: errors.New("connection refused")})
	m.Register(&mockChecker{name: "full", err: Degraded("session limit reached (%d)", 4)})

	results := m.RunChecks(context.Background())
	require.Len(t, results, 3)

	assert.Equal(t, StatusOK, results["ok"].Status)
	assert.Equal(t, StatusDown, results["broken"].Status)
	assert.Equal(t, "connection refused", results["broken"].Message)
	assert.Equal(t, StatusDegraded, results["full"].Status)
	assert.Equal(t, "session limit reached (4)", results["full"].Message)
}

func TestManagerOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"no checks", nil, StatusDown},
		{"all ok", []Checker{&mockChecker{name: "a"}, &mockChecker{name: "b"}}, StatusOK},
		{"one degraded", []Checker{&mockChecker{name: "a"}, &mockChecker{name: "b", err: Degraded("busy")}}, StatusDegraded},
		{"down wins", []Checker{&mockChecker{name: "a", err: Degraded("busy")}, &mockChecker{name: "b", err: errors.New("x")}}, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			for _, c := range tt.checkers {
				m.Register(c)
			}
			if len(tt.checkers) > 0 {
				m.RunChecks(context.Background())
			}
			assert.Equal(t, tt.want, m.GetOverallStatus())
		})
	}
}

func TestManagerTimeout(t *testing.T) {
	m, _ := newTestManager()
	m.Register(&mockChecker{name: "slow", delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results := m.RunChecks(ctx)
	assert.Equal(t, StatusDown, results["slow"].Status)
	assert.Equal(t, "Health check timed out", results["slow"].Message)
}

type detailedChecker struct{ mockChecker }

func (d *detailedChecker) Details() map[string]interface{} {
	return d.details
}

func TestManagerDetails(t *testing.T) {
	m, _ := newTestManager()
	m.Register(&detailedChecker{mockChecker{name: "d", details: map[string]interface{}{"k": 1}}})

	results := m.RunChecks(context.Background())
	assert.Equal(t, 1, results["d"].Details["k"])
}

func TestGetResultsReturnsCopies(t *testing.T) {
	m, _ := newTestManager()
	m.Register(&mockChecker{name: "a"})
	m.RunChecks(context.Background())

	got := m.GetResults()
	got["a"].Status = StatusDown

	assert.Equal(t, StatusOK, m.GetResults()["a"].Status)
}

func TestStartPeriodicChecks(t *testing.T) {
	m, hook := newTestManager()
	m.Register(&mockChecker{name: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartPeriodicChecks(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(m.GetResults()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
	assert.Equal(t, "Stopping periodic health checks", hook.LastEntry().Message)
}
