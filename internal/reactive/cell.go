// Package reactive provides the broadcast-current-value primitive used
// to publish order, balance, execution and trade updates between the
// engine's long-lived tasks without blocking producers.
package reactive

import "sync"

// subscriberBuffer is how many pending values a subscriber may lag
// behind before older ones are dropped.
const subscriberBuffer = 64

// Cell holds exactly one current value of type T. An owner task writes
// new values with Publish; any number of readers take a synchronous
// snapshot with Load or receive all subsequent values, in publish order,
// through Subscribe.
//
// Publishing never blocks on subscriber processing: a subscriber that
// falls more than subscriberBuffer values behind loses its oldest
// pending values (drop-safe stream).
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	set    bool
	subs   map[int]chan T
	nextID int
}

// NewCell creates an empty cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{subs: make(map[int]chan T)}
}

// NewCellOf creates a cell seeded with an initial value.
func NewCellOf[T any](initial T) *Cell[T] {
	c := NewCell[T]()
	c.value = initial
	c.set = true
	return c
}

// Load returns the current value and whether one has ever been published.
func (c *Cell[T]) Load() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.set
}

// Publish stores a new current value and fans it out to all subscribers.
func (c *Cell[T]) Publish(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.set = true
	for _, ch := range c.subs {
		for {
			select {
			case ch <- v:
			default:
				// Full buffer: evict the oldest pending value and retry so
				// the slow subscriber still sees the newest state.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscription is one reader's view of a cell's update stream.
type Subscription[T any] struct {
	ch     chan T
	cancel func()
	once   sync.Once
}

// Updates returns the channel delivering published values in FIFO order.
func (s *Subscription[T]) Updates() <-chan T { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() { s.once.Do(s.cancel) }

// Subscribe registers a new reader. The reader receives every value
// published after the call, subject to the drop-safe buffer policy.
func (c *Cell[T]) Subscribe() *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan T, subscriberBuffer)
	c.subs[id] = ch
	return &Subscription[T]{
		ch: ch,
		cancel: func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		},
	}
}
