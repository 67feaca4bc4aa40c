package sizing

import (
	"fmt"
	"math"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
)

var posInf = math.Inf(1)

// Policy names.
const (
	FixedAmount        = "fixed_amount"
	FixedPercentage    = "fixed_percentage"
	RiskBased          = "risk_based"
	Kelly              = "kelly"
	VolatilityAdjusted = "volatility_adjusted"
)

// Policy computes a raw quantity for an OPEN signal. Global constraints
// are applied afterwards by the Sizer.
type Policy interface {
	Name() string
	Size(sig core.Signal, cfg RiskConfig, acct AccountState) core.SizingDecision
}

// NewPolicy returns the policy registered under name.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case FixedAmount:
		return fixedAmount{}, nil
	case FixedPercentage:
		return fixedPercentage{}, nil
	case RiskBased:
		return riskBased{}, nil
	case Kelly:
		return kelly{}, nil
	case VolatilityAdjusted:
		return volatilityAdjusted{}, nil
	}
	return nil, core.Errorf(core.ErrConfigInvalid, "unknown sizing policy %q", name)
}

// PolicyNames lists the available policies.
func PolicyNames() []string {
	return []string{FixedAmount, FixedPercentage, RiskBased, Kelly, VolatilityAdjusted}
}

func accept(policy string, sig core.Signal, qty decimal.Decimal) core.SizingDecision {
	return core.SizingDecision{
		Signal:   sig,
		Accepted: true,
		Quantity: qty,
		Notional: qty.Mul(sig.Price),
		Policy:   policy,
	}
}

func reject(policy string, sig core.Signal, reason string) core.SizingDecision {
	return core.SizingDecision{
		Signal:       sig,
		Quantity:     decimal.Zero,
		Notional:     decimal.Zero,
		Policy:       policy,
		RejectReason: reason,
	}
}

func fraction(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixedAmount struct{}

func (fixedAmount) Name() string { return FixedAmount }

func (p fixedAmount) Size(sig core.Signal, cfg RiskConfig, acct AccountState) core.SizingDecision {
	if !cfg.FixedAmount.IsPositive() {
		return reject(p.Name(), sig, "fixed amount must be positive")
	}
	return accept(p.Name(), sig, cfg.FixedAmount.Div(sig.Price))
}

type fixedPercentage struct{}

func (fixedPercentage) Name() string { return FixedPercentage }

func (p fixedPercentage) Size(sig core.Signal, cfg RiskConfig, acct AccountState) core.SizingDecision {
	if cfg.FixedFraction <= 0 {
		return reject(p.Name(), sig, "fixed fraction must be positive")
	}
	notional := acct.Balance.Mul(fraction(cfg.FixedFraction))
	return accept(p.Name(), sig, notional.Div(sig.Price))
}

// stopDistance is |entry - stop|, falling back to DefaultStopPct of the
// entry price when the signal carries no stop.
func stopDistance(sig core.Signal, cfg RiskConfig) decimal.Decimal {
	if sig.StopLoss != nil {
		return sig.Price.Sub(*sig.StopLoss).Abs()
	}
	return sig.Price.Mul(fraction(cfg.DefaultStopPct))
}

type riskBased struct{}

func (riskBased) Name() string { return RiskBased }

func (p riskBased) Size(sig core.Signal, cfg RiskConfig, acct AccountState) core.SizingDecision {
	dist := stopDistance(sig, cfg)
	if !dist.IsPositive() {
		return reject(p.Name(), sig, "stop distance is zero")
	}
	risk := acct.Balance.Mul(fraction(cfg.RiskFraction))
	return accept(p.Name(), sig, risk.Div(dist))
}

// KellyFraction returns f* = p - (1-p)/b clamped to [0, limit]. It is zero
// whenever p*b <= 1-p.
func KellyFraction(p, b, limit float64) float64 {
	if p <= 0 || b <= 0 || limit <= 0 {
		return 0
	}
	var f float64
	if math.IsInf(b, 1) {
		f = p
	} else {
		if p*b <= 1-p {
			return 0
		}
		f = p - (1-p)/b
	}
	if f > limit {
		f = limit
	}
	if f < 0 {
		return 0
	}
	return f
}

type kelly struct{}

func (kelly) Name() string { return Kelly }

func (p kelly) Size(sig core.Signal, cfg RiskConfig, acct AccountState) core.SizingDecision {
	if n := acct.Stats.Trades(); n < cfg.KellyMinTrades {
		return reject(p.Name(), sig, fmt.Sprintf("kelly needs %d closed trades, have %d", cfg.KellyMinTrades, n))
	}
	winRate, payoff := acct.Stats.WinRate(), acct.Stats.PayoffRatio()
	f := KellyFraction(winRate, payoff, cfg.KellyCap)
	if f <= 0 {
		return reject(p.Name(), sig, fmt.Sprintf("kelly fraction non-positive (p=%.3f b=%.3f)", winRate, payoff))
	}
	notional := acct.Balance.Mul(fraction(f))
	d := accept(p.Name(), sig, notional.Div(sig.Price))
	d.Adjustments = append(d.Adjustments, fmt.Sprintf("kelly fraction %.4f", f))
	return d
}

type volatilityAdjusted struct{}

func (volatilityAdjusted) Name() string { return VolatilityAdjusted }

func (p volatilityAdjusted) Size(sig core.Signal, cfg RiskConfig, acct AccountState) core.SizingDecision {
	if sig.ATR <= 0 {
		return reject(p.Name(), sig, "atr unavailable on signal")
	}
	mult := cfg.ATRMultiple
	if mult <= 0 {
		mult = 1
	}
	budget := acct.Balance.Mul(fraction(cfg.TargetRisk))
	return accept(p.Name(), sig, budget.Div(decimal.NewFromFloat(sig.ATR*mult)))
}
