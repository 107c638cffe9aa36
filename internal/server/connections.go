package server

import "sync"

// ConnTracker enforces per-token connection limits: a token with
// max_connections = N admits at most N live sessions, and -1 means
// unlimited. It implements session.ConnectionCounter.
type ConnTracker struct {
	mu    sync.Mutex
	count map[string]int
}

// NewConnTracker returns an empty ConnTracker.
func NewConnTracker() *ConnTracker {
	return &ConnTracker{count: make(map[string]int)}
}

// Acquire reserves one connection slot for token, reporting false (and
// reserving nothing) if maxConnections is already reached. A
// maxConnections of -1 means unlimited.
func (c *ConnTracker) Acquire(token string, maxConnections int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxConnections >= 0 && c.count[token] >= maxConnections {
		return false
	}

	c.count[token]++

	return true
}

// Release frees one connection slot previously reserved by Acquire.
func (c *ConnTracker) Release(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count[token] <= 1 {
		delete(c.count, token)

		return
	}

	c.count[token]--
}
