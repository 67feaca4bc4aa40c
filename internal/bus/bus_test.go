package bus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(msg Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"kline:BTCUSDT:1m", "kline:BTCUSDT:1m", true},
		{"kline:BTCUSDT:1m", "kline:BTCUSDT:5m", false},
		{"kline:*:1m", "kline:ETHUSDT:1m", true},
		{"kline:*:*", "kline:ETHUSDT:1h", true},
		{"kline:*", "kline:ETHUSDT:1h", false},
		{"kline:>", "kline:ETHUSDT:1h", true},
		{"kline:>", "kline", false},
		{">", "signal:ma:BTC", true},
		{"indicator:*:*", "kline:BTC:1m", false},
		{"kline:BTC:1m:x", "kline:BTC:1m", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s~%s", tt.pattern, tt.topic), func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.topic))
		})
	}
}

func TestBus_ReplayReturnsLastN(t *testing.T) {
	const capacity = 8
	b := New(Config{ReplayCapacity: capacity}, nil)
	defer b.Close()

	for i := 1; i <= 20; i++ {
		require.NoError(t, b.Publish("kline:BTC:1m", i))
	}

	for n := 1; n <= capacity; n++ {
		got := b.Replay("kline:BTC:1m", n)
		require.Len(t, got, n)
		for i, msg := range got {
			assert.Equal(t, 20-n+1+i, msg.Payload, "n=%d index=%d", n, i)
		}
	}

	assert.Len(t, b.Replay("kline:BTC:1m", 100), capacity, "capped at log length")
	assert.Empty(t, b.Replay("kline:BTC:1m", 0))
	assert.Empty(t, b.Replay("kline:BTC:1m", -3))
	assert.Empty(t, b.Replay("kline:ETH:1m", 5))
	assert.Equal(t, uint64(20), b.Seq("kline:BTC:1m"))
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := New(Config{}, nil)
	defer b.Close()

	assert.NoError(t, b.Publish("signal:ma:BTC", "x"))
	assert.Equal(t, []string{"signal:ma:BTC"}, b.Topics())
}

func TestBus_DeliversInOrder(t *testing.T) {
	b := New(Config{}, nil)
	defer b.Close()

	c := &collector{}
	_, err := b.Subscribe("kline:*:*", c.handle)
	require.NoError(t, err)

	for i := 1; i <= 100; i++ {
		require.NoError(t, b.Publish("kline:BTC:1m", i))
	}
	require.NoError(t, b.Publish("indicator:BTC:1m", 0))

	require.Eventually(t, func() bool { return c.count() == 100 }, time.Second, 5*time.Millisecond)
	for i, msg := range c.snapshot() {
		assert.Equal(t, i+1, msg.Payload)
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
}

func TestBus_SubscribeSkipsHistory(t *testing.T) {
	b := New(Config{}, nil)
	defer b.Close()

	require.NoError(t, b.Publish("kline:BTC:1m", "old"))

	c := &collector{}
	_, err := b.Subscribe("kline:BTC:1m", c.handle)
	require.NoError(t, err)
	require.NoError(t, b.Publish("kline:BTC:1m", "new"))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "new", c.snapshot()[0].Payload)
}

func TestBus_SlowSubscriberCatchesUp(t *testing.T) {
	b := New(Config{ReplayCapacity: 1000, MailboxSize: 2}, nil)
	defer b.Close()

	release := make(chan struct{})
	slow := &collector{}
	var once sync.Once
	slowSub, err := b.Subscribe("kline:BTC:1m", func(msg Message) {
		once.Do(func() { <-release })
		slow.handle(msg)
	})
	require.NoError(t, err)

	fast := &collector{}
	_, err = b.Subscribe("kline:BTC:1m", fast.handle)
	require.NoError(t, err)

	published := make(chan struct{})
	go func() {
		for i := 1; i <= 50; i++ {
			_ = b.Publish("kline:BTC:1m", i)
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	require.Eventually(t, func() bool { return fast.count() == 50 }, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return slow.count() == 50 }, time.Second, 5*time.Millisecond)

	for i, msg := range slow.snapshot() {
		assert.Equal(t, i+1, msg.Payload, "no gaps or duplicates")
	}
	stats := slowSub.Stats()
	assert.Greater(t, stats.Lags, uint64(0))
	assert.Equal(t, uint64(0), stats.Dropped)
}

func TestBus_HandlerPanicIsIsolated(t *testing.T) {
	b := New(Config{}, nil)
	defer b.Close()

	c := &collector{}
	_, err := b.Subscribe("t", func(msg Message) {
		if msg.Payload == 1 {
			panic("boom")
		}
		c.handle(msg)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("t", 1))
	require.NoError(t, b.Publish("t", 2))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(Config{}, nil)
	defer b.Close()

	c := &collector{}
	sub, err := b.Subscribe("t", c.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish("t", 1))
	sub.Unsubscribe()
	<-sub.Done()
	require.NoError(t, b.Publish("t", 2))

	assert.Equal(t, 1, c.count())
}

func TestBus_CloseDrains(t *testing.T) {
	b := New(Config{MailboxSize: 4, ReplayCapacity: 100}, nil)

	c := &collector{}
	_, err := b.Subscribe("t", func(msg Message) {
		time.Sleep(time.Millisecond)
		c.handle(msg)
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish("t", i))
	}
	b.Close()

	assert.Equal(t, 20, c.count())

	err = b.Publish("t", 99)
	assert.True(t, errors.Is(err, core.ErrBusClosed))
	_, err = b.Subscribe("t", c.handle)
	assert.True(t, errors.Is(err, core.ErrBusClosed))
}

func TestBus_SubscribeValidation(t *testing.T) {
	b := New(Config{}, nil)
	defer b.Close()

	_, err := b.Subscribe("", func(Message) {})
	assert.Error(t, err)
	_, err = b.Subscribe("t", nil)
	assert.Error(t, err)
}

func TestTopicLog_Since(t *testing.T) {
	l := newTopicLog(4)
	for i := 1; i <= 6; i++ {
		l.seq++
		l.append(Message{Seq: l.seq, Payload: i})
	}

	// retained: 3..6
	got := l.since(4)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(5), got[0].Seq)

	assert.Len(t, l.since(0), 4)
	assert.Empty(t, l.since(6))
}
