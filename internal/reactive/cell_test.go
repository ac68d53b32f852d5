package reactive

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReportsUnsetUntilFirstPublish(t *testing.T) {
	c := NewCell[int]()
	_, ok := c.Load()
	assert.False(t, ok)

	c.Publish(7)
	v, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestNewCellOfSeedsValue(t *testing.T) {
	c := NewCellOf("hold")
	v, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, "hold", v)
}

func TestSubscriberReceivesInPublishOrder(t *testing.T) {
	c := NewCell[int]()
	sub := c.Subscribe()
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		c.Publish(i)
	}
	for want := 1; want <= 5; want++ {
		select {
		case got := <-sub.Updates():
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for value %d", want)
		}
	}
}

func TestSubscriberOnlySeesValuesAfterSubscribe(t *testing.T) {
	c := NewCell[int]()
	c.Publish(1)

	sub := c.Subscribe()
	defer sub.Close()
	c.Publish(2)

	select {
	case got := <-sub.Updates():
		assert.Equal(t, 2, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-subscribe value")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	c := NewCell[int]()
	sub := c.Subscribe()
	defer sub.Close()

	// Publish far past the buffer without anyone reading. The oldest
	// values are dropped; the newest always survives.
	total := subscriberBuffer * 3
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= total; i++ {
			c.Publish(i)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	var last int
	for {
		select {
		case v := <-sub.Updates():
			assert.Greater(t, v, last, "drop-safe stream must stay ordered")
			last = v
		default:
			assert.Equal(t, total, last, "newest value must survive eviction")
			return
		}
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	c := NewCell[int]()
	sub := c.Subscribe()
	sub.Close()
	sub.Close() // safe to call twice

	c.Publish(1)
	select {
	case _, ok := <-sub.Updates():
		if ok {
			t.Fatal("closed subscription received a value")
		}
	default:
	}
}

func TestIndependentSubscribersEachGetEveryValue(t *testing.T) {
	c := NewCell[int]()
	a := c.Subscribe()
	defer a.Close()
	b := c.Subscribe()
	defer b.Close()

	c.Publish(42)
	for _, sub := range []*Subscription[int]{a, b} {
		select {
		case got := <-sub.Updates():
			assert.Equal(t, 42, got)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed fanout")
		}
	}
}

func TestConcurrentPublishAndLoad(t *testing.T) {
	c := NewCell[int]()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Publish(base + i)
				c.Load()
			}
		}(w * 1000)
	}
	wg.Wait()
	_, ok := c.Load()
	assert.True(t, ok)
}
