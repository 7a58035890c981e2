package requestlog

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kothbackend/kothd/pkg/metrics"
)

// DefaultMailboxSize is the per-subscriber queue length used when none is configured.
const DefaultMailboxSize = 256

var (
	// ErrSlowSubscriber is reported by a Subscription that was dropped
	// because its mailbox was full when an entry was published.
	ErrSlowSubscriber = errors.New("subscriber too slow, dropped")

	// ErrUnsubscribed is reported by a Subscription that was closed by its owner.
	ErrUnsubscribed = errors.New("subscription closed")
)

// Subscription is a live subscriber handle. Entries arrive on C in publish
// order. Done is closed once the subscription is removed for any reason;
// Err then reports why.
type Subscription struct {
	id      uint64
	mailbox chan *Entry
	done    chan struct{}
	owner   *Broadcaster

	once sync.Once
	err  error
}

// C returns the mailbox channel. It is never closed, so receivers must also
// select on Done.
func (s *Subscription) C() <-chan *Entry { return s.mailbox }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns nil while the subscription is active, then the reason it ended.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.owner.Unsubscribe(s)
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Broadcaster delivers published entries to every registered subscriber
// without ever blocking the publisher.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      atomic.Uint64
	mailboxSize int

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBroadcaster creates a Broadcaster whose subscribers each buffer up to
// mailboxSize undelivered entries. A non-positive size selects DefaultMailboxSize.
func NewBroadcaster(mailboxSize int) *Broadcaster {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Broadcaster{
		subscribers: make(map[uint64]*Subscription),
		mailboxSize: mailboxSize,
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		id:      b.nextID.Add(1),
		mailbox: make(chan *Entry, b.mailboxSize),
		done:    make(chan struct{}),
		owner:   b,
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	if metrics.Subscribers != nil {
		_ = metrics.Subscribers.Inc()
	}
	return sub
}

// Unsubscribe removes sub. Unknown or already removed subscriptions are ignored.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.remove(sub, ErrUnsubscribed)
}

// Publish enqueues entry into every subscriber's mailbox without waiting.
// Subscribers whose mailbox is full are dropped.
func (b *Broadcaster) Publish(entry *Entry) {
	if entry == nil {
		return
	}

	var slow []*Subscription

	b.mu.RLock()
	for _, sub := range b.subscribers {
		select {
		case sub.mailbox <- entry:
			b.delivered.Add(1)
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		if b.remove(sub, ErrSlowSubscriber) {
			b.dropped.Add(1)
			if metrics.SubscribersDroppedTotal != nil {
				_ = metrics.SubscribersDroppedTotal.Inc()
			}
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns the number of mailbox deliveries and dropped subscribers
// since the Broadcaster was created.
func (b *Broadcaster) Stats() (delivered, dropped int64) {
	return b.delivered.Load(), b.dropped.Load()
}

// remove deletes sub and ends it with reason. It reports whether sub was
// still registered.
func (b *Broadcaster) remove(sub *Subscription, reason error) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	cur, ok := b.subscribers[sub.id]
	ok = ok && cur == sub
	if ok {
		delete(b.subscribers, sub.id)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	sub.end(reason)
	if metrics.Subscribers != nil {
		_ = metrics.Subscribers.Dec()
	}
	return true
}
