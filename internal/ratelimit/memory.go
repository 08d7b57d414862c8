package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound calls to external services.
type Limiter interface {
	// Allow consumes one slot for key. The second return is how long to
	// wait before retrying when the slot was denied.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// window is the counter for one key inside the current window.
type window struct {
	count    int
	resetsAt time.Time
}

// MemoryLimiter implements Limiter with a fixed window counter per key.
//
// Each key gets an independent window of Window length holding at most
// the configured number of calls. A background goroutine evicts expired
// windows every minute to bound memory.
type MemoryLimiter struct {
	limits map[string]int // max calls per window, per key prefix
	def    int            // limit for keys without an entry
	win    time.Duration

	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a fixed window limiter.
//   - limits: max calls per window keyed by service name
//   - def: fallback limit for unknown services
//   - win: window length
//
// Call Close to stop the eviction goroutine.
func NewMemoryLimiter(limits map[string]int, def int, win time.Duration) *MemoryLimiter {
	m := &MemoryLimiter{
		limits:  limits,
		def:     def,
		win:     win,
		windows: make(map[string]*window),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *MemoryLimiter) limitFor(key string) int {
	if n, ok := m.limits[key]; ok {
		return n
	}
	return m.def
}

// Allow consumes one slot for key. Returns false with a retry-after
// duration when the window is full.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetsAt) {
		m.windows[key] = &window{count: 1, resetsAt: now.Add(m.win)}
		return true, 0, nil
	}
	if w.count >= m.limitFor(key) {
		return false, w.resetsAt.Sub(now), nil
	}
	w.count++
	return true, 0, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryLimiter) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, w := range m.windows {
		if !now.Before(w.resetsAt) {
			delete(m.windows, key)
		}
	}
}
