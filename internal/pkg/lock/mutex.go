package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type slot struct {
	ch   chan struct{} // holds one token while the key is locked
	refs int
}

// MutexProvider implements Provider with an in-process lock table. Waiters
// block on a per-key channel instead of polling.
type MutexProvider struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewMutexProvider creates an in-process lock provider.
func NewMutexProvider() *MutexProvider {
	return &MutexProvider{slots: make(map[string]*slot)}
}

func (p *MutexProvider) Acquire(key string, timeout time.Duration) (*Lease, error) {
	p.mu.Lock()
	s, ok := p.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		p.slots[key] = s
	}
	s.refs++
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return &Lease{Key: key, Token: uuid.NewString()}, nil
	case <-timer.C:
		p.drop(key)
		return nil, ErrTimeout
	}
}

func (p *MutexProvider) Release(lease *Lease) error {
	if lease == nil {
		return nil
	}

	p.mu.Lock()
	s, ok := p.slots[lease.Key]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-s.ch:
	default:
		// Lease was already released; treat as a no-op.
	}
	p.drop(lease.Key)
	return nil
}

// drop decrements the refcount for key and removes the slot once nobody
// holds or waits on it, so the table does not grow with dead keys.
func (p *MutexProvider) drop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(p.slots, key)
	}
}
