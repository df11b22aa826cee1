package lease

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
)

// LocalLocker implements port.Locker inside one process, for single-replica deployments and tests
type LocalLocker struct {
	mu     sync.Mutex
	held   map[string]localLease
	now    func() time.Time
	nextID uint64
}

type localLease struct {
	id      uint64
	expires time.Time
}

// NewLocalLocker creates a new in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLease), now: time.Now}
}

// TryLock acquires key for ttl; an expired lease is taken over
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}

	l.nextID++
	id := l.nextID
	l.held[key] = localLease{id: id, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.id == id {
			delete(l.held, key)
		}
	}
	return release, true, nil
}

// Verify interface compliance
var _ port.Locker = (*LocalLocker)(nil)
