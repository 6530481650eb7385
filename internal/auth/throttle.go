package auth

import (
	"sync"
	"time"
)

// Throttle locks a client out of login after too many failures.
type Throttle struct {
	mu          sync.Mutex
	clients     map[string]*failures
	maxFailures int
	lockout     time.Duration
	now         func() time.Time
}

type failures struct {
	count       int
	first       time.Time
	lockedUntil time.Time
}

// NewThrottle locks a client for lockout once it reaches maxFailures failed
// logins within one lockout window. maxFailures <= 0 disables it.
func NewThrottle(maxFailures int, lockout time.Duration) *Throttle {
	return &Throttle{
		clients:     map[string]*failures{},
		maxFailures: maxFailures,
		lockout:     lockout,
		now:         time.Now,
	}
}

// Locked reports whether client is currently locked out and until when.
func (t *Throttle) Locked(client string) (bool, time.Time) {
	if t == nil || t.maxFailures <= 0 {
		return false, time.Time{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.clients[client]
	if !ok || !t.now().Before(f.lockedUntil) {
		return false, time.Time{}
	}
	return true, f.lockedUntil
}

// Fail records a failed login and reports whether client is now locked.
func (t *Throttle) Fail(client string) bool {
	if t == nil || t.maxFailures <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)

	f, ok := t.clients[client]
	if !ok || now.Sub(f.first) > t.lockout {
		f = &failures{first: now}
		t.clients[client] = f
	}
	f.count++
	if f.count >= t.maxFailures {
		f.lockedUntil = now.Add(t.lockout)
		return true
	}
	return false
}

// Reset forgets client's failures after a successful login.
func (t *Throttle) Reset(client string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, client)
}

func (t *Throttle) pruneLocked(now time.Time) {
	for k, f := range t.clients {
		if now.Sub(f.first) > t.lockout && !now.Before(f.lockedUntil) {
			delete(t.clients, k)
		}
	}
}
