package http

import (
	"sync"
	"sync/atomic"
	"time"
)

// mutationLimiter throttles write requests per client IP. Reads are not
// limited; only the ledger-mutating endpoints go through it.
type mutationLimiter struct {
	mu           sync.Mutex
	perMinute    int
	clients      map[string]*clientWindow
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientWindow struct {
	windowStart time.Time
	requests    int
}

func newMutationLimiter(perMinute int) *mutationLimiter {
	ml := &mutationLimiter{
		perMinute:   perMinute,
		clients:     make(map[string]*clientWindow),
		stopCleanup: make(chan struct{}),
	}
	go ml.startCleanup()
	return ml
}

func (ml *mutationLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.dropStaleWindows()
		case <-ml.stopCleanup:
			return
		}
	}
}

// dropStaleWindows removes clients that have been quiet for 10 minutes.
func (ml *mutationLimiter) dropStaleWindows() {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range ml.clients {
		if client.windowStart.Before(cutoff) {
			delete(ml.clients, ip)
		}
	}
}

func (ml *mutationLimiter) stop() {
	ml.shutdownOnce.Do(func() {
		close(ml.stopCleanup)
	})
}

// allow reports whether the client IP is still within its per-minute
// write budget.
func (ml *mutationLimiter) allow(clientIP string, metrics *securityMetrics) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	client, exists := ml.clients[clientIP]

	if !exists || now.Sub(client.windowStart) > time.Minute {
		ml.clients[clientIP] = &clientWindow{windowStart: now, requests: 1}
		return true
	}

	client.requests++
	if client.requests > ml.perMinute {
		if metrics != nil {
			atomic.AddInt64(&metrics.rateLimitHits, 1)
		}
		return false
	}
	return true
}
