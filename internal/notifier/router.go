package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"go.uber.org/zap"
)

// Inputs are the topics the router consumes.
var Inputs = []string{"signal:*:*", "trade:*:*"}

// Recorder receives delivery metrics. metrics.Registry implements it.
type Recorder interface {
	RecordNotification(notifier, status string)
}

// Config holds router configuration
type Config struct {
	// MinConfidence drops signals below the threshold. Trades are
	// always delivered.
	MinConfidence float64

	// Cooldown suppresses repeats of the same strategy, symbol and
	// signal kind within the window, measured in bar time.
	Cooldown time.Duration
}

// Router filters pipeline events and fans them out to notifiers. It is
// a node processor.
type Router struct {
	cfg      Config
	registry *Registry
	logger   *zap.Logger
	recorder Recorder

	mu        sync.Mutex
	cooldowns map[string]time.Time // strategy:symbol:kind -> last signal time
}

// NewRouter creates a new notification router
func NewRouter(cfg Config, registry *Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		cooldowns: make(map[string]time.Time),
	}
}

// SetRecorder sets the metrics recorder.
func (r *Router) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Process handles one signal or trade message. Delivery failures are
// logged, never returned, so a dead channel cannot stall the stage.
func (r *Router) Process(ctx context.Context, msg bus.Message) error {
	var ev Event
	switch payload := msg.Payload.(type) {
	case core.Signal:
		if !r.passesFilters(payload) {
			r.logger.Debug("signal filtered out",
				zap.String("id", payload.ID),
				zap.Float64("confidence", payload.Confidence),
			)
			return nil
		}
		ev = Event{Kind: KindSignal, Signal: &payload}
	case core.Trade:
		ev = Event{Kind: KindTrade, Trade: &payload}
	default:
		return fmt.Errorf("notifier: unexpected payload %T on %s", msg.Payload, msg.Topic)
	}

	errs := r.registry.NotifyAll(ctx, ev)
	for _, name := range r.registry.Names() {
		status := "ok"
		if err, failed := errs[name]; failed {
			status = "error"
			r.logger.Error("notifier failed",
				zap.String("notifier", name),
				zap.String("topic", msg.Topic),
				zap.Error(err),
			)
		}
		if r.recorder != nil {
			r.recorder.RecordNotification(name, status)
		}
	}

	r.logger.Debug("event routed",
		zap.String("kind", ev.Kind),
		zap.String("topic", msg.Topic),
		zap.Int("errors", len(errs)),
	)
	return nil
}

// passesFilters checks the confidence threshold and the cooldown, and
// starts a new cooldown when the signal passes.
func (r *Router) passesFilters(sig core.Signal) bool {
	if sig.Confidence < r.cfg.MinConfidence {
		return false
	}
	if r.cfg.Cooldown <= 0 {
		return true
	}

	key := sig.Strategy + ":" + sig.Symbol + ":" + sig.Kind()

	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.cooldowns[key]; ok && sig.Time.Sub(last) < r.cfg.Cooldown {
		return false
	}
	r.cooldowns[key] = sig.Time
	return true
}

// ClearCooldowns removes all cooldowns
func (r *Router) ClearCooldowns() {
	r.mu.Lock()
	r.cooldowns = make(map[string]time.Time)
	r.mu.Unlock()
}
