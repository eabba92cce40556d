package chat

import (
	"sync"
	"time"
)

// KeyedLock serializes work per key in reservation order. Reserve is called
// synchronously on the receive path, so tickets for one key are granted in
// the order events arrived even though each runs on its own goroutine.
type KeyedLock struct {
	mu     sync.Mutex
	queues map[string]*keyQueue
}

type keyQueue struct {
	tail    chan struct{}
	pending int
	issued  uint64
	// newest is the seq of the last ticket that carried a new message.
	newest   uint64
	newestAt time.Time
	ids      map[string]int
}

type Ticket struct {
	lock *KeyedLock
	key  string
	seq  uint64
	id   string
	prev chan struct{}
	done chan struct{}
	once sync.Once
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{queues: make(map[string]*keyQueue)}
}

// Reserve takes the next place in key's queue. The ticket counts as a new
// message for Superseded.
func (l *KeyedLock) Reserve(key string) *Ticket {
	return l.ReserveMessage(key, "", time.Time{})
}

// ReserveMessage takes the next place in key's queue for message id sent at
// at. A redelivery of a pending id, or a message not strictly newer than the
// newest one seen, keeps its place in line but does not supersede earlier
// tickets. A zero at is treated as newest.
func (l *KeyedLock) ReserveMessage(key, id string, at time.Time) *Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.queues[key]
	if !ok {
		q = &keyQueue{ids: make(map[string]int)}
		l.queues[key] = q
	}
	t := &Ticket{
		lock: l,
		key:  key,
		id:   id,
		prev: q.tail,
		done: make(chan struct{}),
	}
	q.tail = t.done
	q.pending++
	q.issued++
	t.seq = q.issued

	duplicate := id != "" && q.ids[id] > 0
	older := !at.IsZero() && !q.newestAt.IsZero() && !at.After(q.newestAt)
	if !duplicate && !older {
		q.newest = t.seq
		if !at.IsZero() {
			q.newestAt = at
		}
	}
	if id != "" {
		q.ids[id]++
	}
	return t
}

// Wait blocks until every earlier ticket for the key has been released.
func (t *Ticket) Wait() {
	if t.prev != nil {
		<-t.prev
	}
}

// Superseded reports whether a later ticket for the same key carries a newer
// message.
func (t *Ticket) Superseded() bool {
	t.lock.mu.Lock()
	defer t.lock.mu.Unlock()
	q, ok := t.lock.queues[t.key]
	return ok && q.newest > t.seq
}

// Release hands the key to the next ticket. Safe to call more than once.
func (t *Ticket) Release() {
	t.once.Do(func() {
		close(t.done)
		t.lock.mu.Lock()
		defer t.lock.mu.Unlock()
		if q, ok := t.lock.queues[t.key]; ok {
			q.pending--
			if t.id != "" {
				if q.ids[t.id]--; q.ids[t.id] == 0 {
					delete(q.ids, t.id)
				}
			}
			if q.pending == 0 {
				delete(t.lock.queues, t.key)
			}
		}
	})
}

// Len is the number of keys with outstanding tickets.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
