package sizing

import (
	"context"
	"fmt"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"go.uber.org/zap"
)

// SignalWriter persists signals for audit.
type SignalWriter interface {
	InsertSignal(ctx context.Context, sig core.Signal) error
}

// Recorder receives sizing metrics. metrics.Registry implements it.
type Recorder interface {
	RecordSizing(policy, outcome string)
}

// Processor sizes signals into orders. Account state is shared, so it
// must run on a single partition.
type Processor struct {
	sizer    *Sizer
	accounts AccountProvider
	pub      bus.Publisher
	store    SignalWriter
	logger   *zap.Logger
	recorder Recorder
}

// NewProcessor creates a sizing processor. store may be nil.
func NewProcessor(sizer *Sizer, accounts AccountProvider, pub bus.Publisher, store SignalWriter, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		sizer:    sizer,
		accounts: accounts,
		pub:      pub,
		store:    store,
		logger:   logger,
	}
}

// SetRecorder sets the metrics recorder
func (p *Processor) SetRecorder(r Recorder) {
	p.recorder = r
}

// Process handles one signal message.
func (p *Processor) Process(ctx context.Context, msg bus.Message) error {
	sig, ok := msg.Payload.(core.Signal)
	if !ok {
		return fmt.Errorf("sizing: unexpected payload %T on %s", msg.Payload, msg.Topic)
	}

	// every signal is recorded, accepted or not
	if p.store != nil {
		if err := p.store.InsertSignal(ctx, sig); err != nil {
			p.logger.Error("failed to persist signal",
				zap.String("id", sig.ID),
				zap.Error(err),
			)
		}
	}

	decision, err := p.sizer.Size(sig, p.accounts.State(sig.Strategy, sig.Symbol))
	if err != nil {
		p.record("rejected")
		p.logger.Info("signal rejected",
			zap.String("id", sig.ID),
			zap.String("kind", sig.Kind()),
			zap.String("reason", decision.RejectReason),
		)
		return nil
	}

	p.record("accepted")
	if len(decision.Adjustments) > 0 {
		p.logger.Info("order clamped",
			zap.String("id", sig.ID),
			zap.Strings("adjustments", decision.Adjustments),
		)
	}
	// the executor applies the order asynchronously; the next signal on
	// this partition must already see it
	reserver, reserve := p.accounts.(Reserver)
	if reserve {
		reserver.Reserve(decision)
	}
	if err := p.pub.Publish(core.OrderTopic(sig.Strategy, sig.Symbol), decision); err != nil {
		if reserve {
			reserver.Release(sig.ID)
		}
		return fmt.Errorf("publishing order %s: %w", sig.ID, err)
	}
	return nil
}

func (p *Processor) record(outcome string) {
	if p.recorder != nil {
		p.recorder.RecordSizing(p.sizer.Policy(), outcome)
	}
}
