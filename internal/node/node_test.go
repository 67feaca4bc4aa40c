package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyedPayload struct {
	key string
	n   int
}

func (k keyedPayload) Key() string { return k.key }

type recordingProcessor struct {
	mu      sync.Mutex
	seen    map[string][]int
	active  map[string]*int32
	overlap atomic.Bool
	delay   time.Duration
	failOn  int
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{
		seen:   make(map[string][]int),
		active: make(map[string]*int32),
		failOn: -1,
	}
}

func (p *recordingProcessor) Process(ctx context.Context, msg bus.Message) error {
	payload := msg.Payload.(keyedPayload)

	p.mu.Lock()
	counter, ok := p.active[payload.key]
	if !ok {
		counter = new(int32)
		p.active[payload.key] = counter
	}
	p.mu.Unlock()

	if atomic.AddInt32(counter, 1) > 1 {
		p.overlap.Store(true)
	}
	defer atomic.AddInt32(counter, -1)

	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if payload.n == p.failOn {
		return errors.New("bad payload")
	}

	p.mu.Lock()
	p.seen[payload.key] = append(p.seen[payload.key], payload.n)
	p.mu.Unlock()
	return nil
}

func (p *recordingProcessor) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, v := range p.seen {
		total += len(v)
	}
	return total
}

func TestNew_Validation(t *testing.T) {
	b := bus.New(bus.Config{}, nil)
	defer b.Close()
	proc := newRecordingProcessor()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{Inputs: []string{"t"}, Processor: proc}},
		{"missing processor", Config{Name: "n", Inputs: []string{"t"}}},
		{"missing inputs", Config{Name: "n", Processor: proc}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, b, nil)
			assert.Error(t, err)
		})
	}
}

func TestNode_PartitionsAreSerialAndOrdered(t *testing.T) {
	b := bus.New(bus.Config{ReplayCapacity: 1000}, nil)
	defer b.Close()

	proc := newRecordingProcessor()
	proc.delay = 100 * time.Microsecond

	n, err := New(Config{Name: "test", Inputs: []string{"kline:*:*"}, Processor: proc}, b, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))

	keys := []string{"BTC:1m", "ETH:1m", "SOL:1m"}
	for i := 0; i < 30; i++ {
		for _, k := range keys {
			require.NoError(t, b.Publish("kline:"+k, keyedPayload{key: k, n: i}))
		}
	}

	require.Eventually(t, func() bool { return proc.total() == 90 }, 2*time.Second, 5*time.Millisecond)
	n.Stop()

	assert.False(t, proc.overlap.Load(), "a partition ran concurrently")
	assert.Empty(t, n.Partitions())
	for _, k := range keys {
		seen := proc.seen[k]
		require.Len(t, seen, 30)
		for i, v := range seen {
			assert.Equal(t, i, v, "partition %s out of order", k)
		}
	}
}

func TestNode_ErrorsDoNotStopPartition(t *testing.T) {
	b := bus.New(bus.Config{}, nil)
	defer b.Close()

	proc := newRecordingProcessor()
	proc.failOn = 1

	n, err := New(Config{Name: "test", Inputs: []string{"t"}, Processor: proc}, b, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish("t", keyedPayload{key: "k", n: i}))
	}

	require.Eventually(t, func() bool { return proc.total() == 2 }, time.Second, 5*time.Millisecond)
	proc.mu.Lock()
	assert.Equal(t, []int{0, 2}, proc.seen["k"])
	proc.mu.Unlock()
}

func TestNode_StopDrainsInFlight(t *testing.T) {
	b := bus.New(bus.Config{ReplayCapacity: 100}, nil)
	defer b.Close()

	proc := newRecordingProcessor()
	proc.delay = time.Millisecond

	n, err := New(Config{Name: "test", Inputs: []string{"t"}, Processor: proc, MailboxSize: 4}, b, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))

	for i := 0; i < 40; i++ {
		require.NoError(t, b.Publish("t", keyedPayload{key: fmt.Sprintf("k%d", i%2), n: i}))
	}
	n.Stop()

	assert.Equal(t, 40, proc.total())
}

func TestNode_StartTwice(t *testing.T) {
	b := bus.New(bus.Config{}, nil)
	defer b.Close()

	n, err := New(Config{Name: "test", Inputs: []string{"t"}, Processor: newRecordingProcessor()}, b, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	assert.Error(t, n.Start(context.Background()))
}

func TestDefaultKey(t *testing.T) {
	candle := core.Candle{Symbol: "BTCUSDT", Timeframe: "1m"}
	assert.Equal(t, "BTCUSDT:1m", DefaultKey(bus.Message{Topic: "kline:BTCUSDT:1m", Payload: candle}))
	assert.Equal(t, "signal:x:y", DefaultKey(bus.Message{Topic: "signal:x:y", Payload: 42}))
	assert.Equal(t, "all", SinglePartition(bus.Message{}))
}

type ctxProcessor struct {
	processed atomic.Int32
	cancelled atomic.Int32
}

func (p *ctxProcessor) Process(ctx context.Context, msg bus.Message) error {
	time.Sleep(100 * time.Microsecond)
	if ctx.Err() != nil {
		p.cancelled.Add(1)
	}
	p.processed.Add(1)
	return nil
}

func TestNode_CancelThenStopDrains(t *testing.T) {
	b := bus.New(bus.Config{ReplayCapacity: 200}, nil)
	defer b.Close()

	proc := &ctxProcessor{}
	n, err := New(Config{Name: "test", Inputs: []string{"t"}, Processor: proc, MailboxSize: 4}, b, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Start(ctx))

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Publish("t", keyedPayload{key: "k", n: i}))
	}
	cancel()
	n.Stop()

	assert.Equal(t, int32(100), proc.processed.Load())
	assert.Zero(t, proc.cancelled.Load(), "processors see a live context until Stop")
}
