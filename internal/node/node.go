package node

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tradeflow/internal/bus"
	"go.uber.org/zap"
)

const DefaultMailboxSize = 128

// Processor handles one message for one partition. Calls for the same
// partition key are never concurrent.
type Processor interface {
	Process(ctx context.Context, msg bus.Message) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg bus.Message) error

func (f ProcessorFunc) Process(ctx context.Context, msg bus.Message) error {
	return f(ctx, msg)
}

// KeyFunc maps a message to its partition key.
type KeyFunc func(msg bus.Message) string

// Keyed is implemented by payloads that know their partition key.
type Keyed interface {
	Key() string
}

// DefaultKey partitions by the payload's key, falling back to the topic.
func DefaultKey(msg bus.Message) string {
	if k, ok := msg.Payload.(Keyed); ok {
		return k.Key()
	}
	return msg.Topic
}

// SinglePartition routes every message to one partition.
func SinglePartition(bus.Message) string { return "all" }

// Recorder receives node metrics. metrics.Registry implements it.
type Recorder interface {
	RecordProcessed(node, status string, seconds float64)
}

// Config describes a processing stage.
type Config struct {
	Name        string
	Inputs      []string // topic patterns
	Outputs     []string // topic patterns the processor publishes to
	Processor   Processor
	KeyFunc     KeyFunc
	MailboxSize int
}

// Node subscribes to its input patterns and dispatches each message to
// a partition actor. Each partition owns one goroutine, so partition
// state is never shared while different partitions run in parallel.
type Node struct {
	cfg      Config
	bus      *bus.Bus
	logger   *zap.Logger
	recorder Recorder

	mu         sync.Mutex
	partitions map[string]*partition
	subs       []*bus.Subscription
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

type partition struct {
	key     string
	mailbox chan bus.Message
}

// New creates a processing node
func New(cfg Config, b *bus.Bus, logger *zap.Logger) (*Node, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("node: name required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("node %s: processor required", cfg.Name)
	}
	if len(cfg.Inputs) == 0 {
		return nil, fmt.Errorf("node %s: at least one input pattern required", cfg.Name)
	}
	if b == nil {
		return nil, fmt.Errorf("node %s: bus required", cfg.Name)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultKey
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		cfg:        cfg,
		bus:        b,
		logger:     logger.With(zap.String("node", cfg.Name)),
		partitions: make(map[string]*partition),
	}, nil
}

// SetRecorder sets the metrics recorder
func (n *Node) SetRecorder(r Recorder) {
	n.recorder = r
}

// Name returns the node name.
func (n *Node) Name() string { return n.cfg.Name }

// Outputs returns the declared output patterns.
func (n *Node) Outputs() []string { return n.cfg.Outputs }

// Start subscribes to every input pattern and begins dispatch. The
// processor context keeps ctx's values but is only cancelled by Stop,
// after the last queued message is processed.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return fmt.Errorf("node %s: already running", n.cfg.Name)
	}
	n.ctx, n.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, pattern := range n.cfg.Inputs {
		sub, err := n.bus.Subscribe(pattern, n.dispatch)
		if err != nil {
			for _, s := range n.subs {
				s.Unsubscribe()
			}
			n.subs = nil
			n.cancel()
			return fmt.Errorf("node %s: subscribing %s: %w", n.cfg.Name, pattern, err)
		}
		n.subs = append(n.subs, sub)
	}
	n.running = true

	n.logger.Info("node started", zap.Strings("inputs", n.cfg.Inputs))
	return nil
}

// Stop unsubscribes and waits until in-flight messages are processed.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	// no dispatch can happen once every subscription goroutine exits
	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, s := range subs {
		<-s.Done()
	}

	n.mu.Lock()
	n.running = false
	for _, p := range n.partitions {
		close(p.mailbox)
	}
	n.partitions = make(map[string]*partition)
	n.mu.Unlock()

	n.wg.Wait()
	n.cancel()
	n.logger.Info("node stopped")
}

// Partitions lists the currently active partition keys.
func (n *Node) Partitions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.partitions))
	for k := range n.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (n *Node) dispatch(msg bus.Message) {
	key := n.cfg.KeyFunc(msg)

	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	p, ok := n.partitions[key]
	if !ok {
		p = &partition{key: key, mailbox: make(chan bus.Message, n.cfg.MailboxSize)}
		n.partitions[key] = p
		n.wg.Add(1)
		go n.runPartition(p)
	}
	n.mu.Unlock()

	// Stop closes mailboxes only after every subscription has exited,
	// so this send cannot race a close
	p.mailbox <- msg
}

func (n *Node) runPartition(p *partition) {
	defer n.wg.Done()

	for msg := range p.mailbox {
		n.process(p.key, msg)
	}
}

func (n *Node) process(key string, msg bus.Message) {
	start := time.Now()
	status := "ok"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			n.logger.Error("processor panicked",
				zap.String("partition", key),
				zap.String("topic", msg.Topic),
				zap.Any("panic", r),
			)
		}
		if n.recorder != nil {
			n.recorder.RecordProcessed(n.cfg.Name, status, time.Since(start).Seconds())
		}
	}()

	if err := n.cfg.Processor.Process(n.ctx, msg); err != nil {
		status = "error"
		n.logger.Warn("processing failed",
			zap.String("partition", key),
			zap.String("topic", msg.Topic),
			zap.Uint64("seq", msg.Seq),
			zap.Error(err),
		)
	}
}
