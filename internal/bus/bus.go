package bus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/tradeflow/internal/core"
	"go.uber.org/zap"
)

const (
	DefaultReplayCapacity = 1024
	DefaultMailboxSize    = 256
)

// Message is one published payload.
type Message struct {
	Topic     string
	Seq       uint64
	Payload   any
	Published time.Time
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Handler consumes delivered messages.
type Handler func(Message)

// Recorder receives bus metrics. metrics.Registry implements it.
type Recorder interface {
	RecordPublish(prefix string)
	RecordLag(pattern string)
	RecordDropped(pattern string, n int)
}

// Config holds bus configuration
type Config struct {
	ReplayCapacity int `mapstructure:"replay_capacity"`
	MailboxSize    int `mapstructure:"mailbox_size"`
}

// Bus is an in-process topic bus with a bounded per-topic replay log.
// Publish never blocks on subscribers.
type Bus struct {
	cfg      Config
	logger   *zap.Logger
	recorder Recorder

	mu     sync.RWMutex
	logs   map[string]*topicLog
	subs   map[string]*Subscription
	closed bool
	wg     sync.WaitGroup
}

// New creates a bus. Zero config values fall back to defaults.
func New(cfg Config, logger *zap.Logger) *Bus {
	if cfg.ReplayCapacity <= 0 {
		cfg.ReplayCapacity = DefaultReplayCapacity
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		cfg:    cfg,
		logger: logger,
		logs:   make(map[string]*topicLog),
		subs:   make(map[string]*Subscription),
	}
}

// SetRecorder sets the metrics recorder
func (b *Bus) SetRecorder(r Recorder) {
	b.recorder = r
}

// Publish appends payload to the topic's replay log and offers it to
// every matching subscription. Publishing to a topic with no
// subscribers is not an error.
func (b *Bus) Publish(topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return core.Errorf(core.ErrBusClosed, "publish %s", topic)
	}

	log, ok := b.logs[topic]
	if !ok {
		log = newTopicLog(b.cfg.ReplayCapacity)
		b.logs[topic] = log
	}
	log.seq++
	msg := Message{Topic: topic, Seq: log.seq, Payload: payload, Published: time.Now()}
	log.append(msg)

	for _, sub := range b.subs {
		if matchSegments(sub.segments, splitTopic(topic)) {
			sub.offer(msg)
		}
	}

	if b.recorder != nil {
		b.recorder.RecordPublish(topicPrefix(topic))
	}
	return nil
}

// Subscribe registers handler for every topic matching pattern. Only
// messages published after the call are delivered.
func (b *Bus) Subscribe(pattern string, handler Handler) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("bus: empty pattern")
	}
	if handler == nil {
		return nil, fmt.Errorf("bus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, core.Errorf(core.ErrBusClosed, "subscribe %s", pattern)
	}

	sub := &Subscription{
		id:        uuid.NewString(),
		pattern:   pattern,
		segments:  splitTopic(pattern),
		handler:   handler,
		bus:       b,
		mailbox:   make(chan Message, b.cfg.MailboxSize),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		delivered: make(map[string]uint64),
		lagging:   make(map[string]bool),
	}
	// baseline: history before the subscription is not delivered
	for topic, log := range b.logs {
		if matchSegments(sub.segments, splitTopic(topic)) {
			sub.delivered[topic] = log.seq
		}
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go sub.run()

	b.logger.Debug("subscribed",
		zap.String("id", sub.id),
		zap.String("pattern", pattern),
	)
	return sub, nil
}

// Replay returns the last count messages of topic in publish order.
// Unknown topics and count <= 0 yield an empty result.
func (b *Bus) Replay(topic string, count int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	log, ok := b.logs[topic]
	if !ok {
		return []Message{}
	}
	msgs := log.last(count)
	if msgs == nil {
		return []Message{}
	}
	return msgs
}

// Seq returns the last sequence number assigned on topic.
func (b *Bus) Seq(topic string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if log, ok := b.logs[topic]; ok {
		return log.seq
	}
	return 0
}

// Topics lists every topic published so far, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.logs))
	for t := range b.logs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Close stops accepting publishes and waits until every subscription
// has drained its queued messages.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.halt()
	}
	b.wg.Wait()
	b.logger.Info("bus closed", zap.Int("subscriptions", len(subs)))
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// pending returns retained messages on topic after seq. When nothing is
// pending the lag flag is cleared while publishers are excluded, so no
// message can slip between the catch-up and the mailbox.
func (b *Bus) pending(sub *Subscription, topic string, seq uint64) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	log, ok := b.logs[topic]
	if !ok {
		sub.clearLag(topic)
		return nil
	}
	msgs := log.since(seq)
	if len(msgs) == 0 {
		sub.clearLag(topic)
		return nil
	}
	if lost := msgs[0].Seq - seq - 1; lost > 0 {
		sub.dropped.Add(lost)
		if b.recorder != nil {
			b.recorder.RecordDropped(sub.pattern, int(lost))
		}
		b.logger.Warn("subscriber fell behind replay log",
			zap.String("pattern", sub.pattern),
			zap.String("topic", topic),
			zap.Uint64("lost", lost),
		)
	}
	return msgs
}
