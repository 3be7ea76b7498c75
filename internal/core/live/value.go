// Package live provides a replay-latest observable cell.
//
// A Value holds the most recent value of T and fans it out to subscribers.
// Late subscribers receive the current value immediately on subscribe, then
// every subsequent Set. A slow subscriber never blocks a Set: each
// subscription holds a single-slot buffer where the newest value replaces
// an undelivered older one.
package live

import "sync"

// Value is a concurrency-safe observable holding the latest value of T.
type Value[T any] struct {
	mu     sync.Mutex
	val    T
	set    bool
	closed bool
	nextID int
	subs   map[int]chan T
}

// NewValue creates an empty Value. Get reports false until the first Set.
func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[int]chan T)}
}

// Set stores val as the current value and delivers it to every subscriber.
// Calls after Close are ignored.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.val = val
	v.set = true
	for _, ch := range v.subs {
		deliver(ch, val)
	}
}

// Get returns the current value and whether one has been set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val, v.set
}

// Subscribe registers a new subscriber. When a current value exists it is
// delivered immediately. The returned cancel function removes the
// subscription and closes the channel; it is safe to call more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	if v.set {
		ch <- v.val
	}
	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.subs[id]; ok {
				delete(v.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close terminates all subscriptions. Subsequent Sets are no-ops.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}

// deliver performs a latest-wins send: if the subscriber has not drained
// the previous value, it is replaced. Only Set sends on sub channels and
// it runs under the Value mutex, so the second send cannot block.
func deliver[T any](ch chan T, val T) {
	select {
	case ch <- val:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- val:
		default:
		}
	}
}
