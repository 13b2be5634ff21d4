package ratelimit

import (
	"time"

	"github.com/c-pro/geche"
)

const nameCheckWindow = time.Minute

// Config bounds how fast identities may act.
type Config struct {
	// MessageInterval is the minimum gap between accepted sends per
	// (username, room) pair.
	MessageInterval time.Duration
	// MaxConnsPerIP caps concurrent connections from one source address.
	MaxConnsPerIP int
	// NameCheckLimit caps username availability checks per connection in a
	// sliding one-minute window.
	NameCheckLimit int
}

// Limiter tracks per-identity event timestamps. Each concern lives in its own
// locker-wrapped map so every read-check-write is one atomic transaction;
// there is no coordination across concerns.
type Limiter struct {
	cfg Config

	msgStamps  *geche.Locker[string, int64]
	ipConns    *geche.Locker[string, int]
	nameChecks *geche.Locker[string, []int64]

	now func() time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:        cfg,
		msgStamps:  geche.NewLocker[string, int64](geche.NewMapCache[string, int64]()),
		ipConns:    geche.NewLocker[string, int](geche.NewMapCache[string, int]()),
		nameChecks: geche.NewLocker[string, []int64](geche.NewMapCache[string, []int64]()),
		now:        time.Now,
	}
}

// msgKey joins username and room with a separator neither may contain.
func msgKey(username, room string) string {
	return username + "\x00" + room
}

// AllowMessage reports whether username may send to room now, and records the
// send if so. A rejected send does not move the stamp: the caller retries
// after the original cooldown, not a refreshed one.
func (l *Limiter) AllowMessage(username, room string) bool {
	key := msgKey(username, room)
	now := l.now().UnixNano()

	tx := l.msgStamps.Lock()
	defer tx.Unlock()

	last, err := tx.Get(key)
	if err == nil && now-last < l.cfg.MessageInterval.Nanoseconds() {
		return false
	}
	tx.Set(key, now)
	return true
}

// AllowConnection reports whether another connection from ip is within the
// cap, and counts it if so.
func (l *Limiter) AllowConnection(ip string) bool {
	tx := l.ipConns.Lock()
	defer tx.Unlock()

	n, err := tx.Get(ip)
	if err == nil && n >= l.cfg.MaxConnsPerIP {
		return false
	}
	tx.Set(ip, n+1)
	return true
}

// ReleaseConnection decrements the live-connection count for ip, flooring at
// zero. The entry is dropped when the count reaches zero.
func (l *Limiter) ReleaseConnection(ip string) {
	tx := l.ipConns.Lock()
	defer tx.Unlock()

	n, err := tx.Get(ip)
	if err != nil {
		return
	}
	if n <= 1 {
		_ = tx.Del(ip)
		return
	}
	tx.Set(ip, n-1)
}

// AllowNameCheck reports whether connID may run another username availability
// check. Checks are bounded per sliding minute; the window is pruned on every
// call.
func (l *Limiter) AllowNameCheck(connID string) bool {
	now := l.now().UnixNano()
	cutoff := now - nameCheckWindow.Nanoseconds()

	tx := l.nameChecks.Lock()
	defer tx.Unlock()

	stamps, _ := tx.Get(connID)
	pruned := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= l.cfg.NameCheckLimit {
		tx.Set(connID, pruned)
		return false
	}

	tx.Set(connID, append(pruned, now))
	return true
}

// ForgetConnection drops all per-connection state. Called on disconnect.
func (l *Limiter) ForgetConnection(connID string) {
	tx := l.nameChecks.Lock()
	_ = tx.Del(connID)
	tx.Unlock()
}

// Sweep purges message stamps and name-check windows idle for longer than
// maxAge and returns how many entries were removed. Invoked periodically by
// an external scheduler; the limiter never schedules itself.
func (l *Limiter) Sweep(maxAge time.Duration) int {
	cutoff := l.now().UnixNano() - maxAge.Nanoseconds()
	purged := 0

	tx := l.msgStamps.Lock()
	for key, stamp := range tx.Snapshot() {
		if stamp < cutoff {
			_ = tx.Del(key)
			purged++
		}
	}
	tx.Unlock()

	ntx := l.nameChecks.Lock()
	for connID, stamps := range ntx.Snapshot() {
		stale := true
		for _, ts := range stamps {
			if ts >= cutoff {
				stale = false
				break
			}
		}
		if stale {
			_ = ntx.Del(connID)
			purged++
		}
	}
	ntx.Unlock()

	return purged
}
