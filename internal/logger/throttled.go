package logger

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttled rate-limits warnings per category. Hot paths such as malformed
// units or dropped slices use it so a broken stream cannot flood the log.
// Suppressed messages are counted and reported on the next emitted one.
type Throttled struct {
	base  Logger
	every time.Duration
	burst int

	mu         sync.Mutex
	categories map[string]*throttleState
}

type throttleState struct {
	limiter    *rate.Limiter
	suppressed int64
}

// NewThrottled allows burst messages per category, then one per every.
func NewThrottled(base Logger, every time.Duration, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		base:       base,
		every:      every,
		burst:      burst,
		categories: make(map[string]*throttleState),
	}
}

// Warn logs msg under category unless the category is over its budget.
// It reports whether the message was written.
func (t *Throttled) Warn(category string, fields map[string]interface{}, msg string) bool {
	suppressed, ok := t.allow(category)
	if !ok {
		return false
	}

	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category
	if suppressed > 0 {
		out["suppressed"] = suppressed
	}

	t.base.WithFields(out).Warn(msg)
	return true
}

// Suppressed returns the number of messages currently held back for category.
func (t *Throttled) Suppressed(category string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.categories[category]; ok {
		return st.suppressed
	}
	return 0
}

func (t *Throttled) allow(category string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.categories[category]
	if !ok {
		st = &throttleState{limiter: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.categories[category] = st
	}

	if !st.limiter.Allow() {
		st.suppressed++
		return 0, false
	}

	n := st.suppressed
	st.suppressed = 0
	return n, true
}
