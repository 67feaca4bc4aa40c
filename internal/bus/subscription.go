package bus

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Subscription delivers messages matching one pattern to its handler on
// a dedicated goroutine.
type Subscription struct {
	id       string
	pattern  string
	segments []string
	handler  Handler
	bus      *Bus

	mailbox chan Message
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	lagging map[string]bool
	stopped bool

	// owned by the delivery goroutine
	delivered map[string]uint64

	received atomic.Uint64
	lags     atomic.Uint64
	dropped  atomic.Uint64
}

// Stats is a snapshot of subscription counters.
type Stats struct {
	Delivered uint64
	Lags      uint64
	Dropped   uint64
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() string { return s.pattern }

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Stats returns delivery counters.
func (s *Subscription) Stats() Stats {
	return Stats{
		Delivered: s.received.Load(),
		Lags:      s.lags.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Unsubscribe detaches the subscription. Messages already queued are
// still delivered; wait on Done to observe completion.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
	s.halt()
}

func (s *Subscription) halt() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stop)
	})
}

// offer is called with the bus lock held and must not block.
func (s *Subscription) offer(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.lagging[msg.Topic] {
		// a lagging topic is caught up from the replay log
		return
	}
	select {
	case s.mailbox <- msg:
	default:
		s.lagging[msg.Topic] = true
		s.lags.Add(1)
		if s.bus.recorder != nil {
			s.bus.recorder.RecordLag(s.pattern)
		}
		s.bus.logger.Warn("subscriber lagging",
			zap.String("pattern", s.pattern),
			zap.String("topic", msg.Topic),
			zap.Uint64("seq", msg.Seq),
		)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Subscription) clearLag(topic string) {
	s.mu.Lock()
	delete(s.lagging, topic)
	s.mu.Unlock()
}

func (s *Subscription) laggingTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.lagging))
	for t := range s.lagging {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (s *Subscription) run() {
	defer s.bus.wg.Done()
	defer close(s.done)

	for {
		select {
		case msg := <-s.mailbox:
			s.deliver(msg)
		case <-s.wake:
			s.catchUp()
		case <-s.stop:
			s.catchUp()
			return
		}
	}
}

// catchUp drains the mailbox, then replays lagging topics from the log.
func (s *Subscription) catchUp() {
drain:
	for {
		select {
		case msg := <-s.mailbox:
			s.deliver(msg)
		default:
			break drain
		}
	}

	for _, topic := range s.laggingTopics() {
		for {
			msgs := s.bus.pending(s, topic, s.delivered[topic])
			if len(msgs) == 0 {
				break
			}
			for _, msg := range msgs {
				s.deliver(msg)
			}
		}
	}
}

// deliver invokes the handler once per sequence number.
func (s *Subscription) deliver(msg Message) {
	if msg.Seq <= s.delivered[msg.Topic] {
		return
	}
	s.delivered[msg.Topic] = msg.Seq

	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("subscriber handler panicked",
				zap.String("pattern", s.pattern),
				zap.String("topic", msg.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(msg)
	s.received.Add(1)
}
