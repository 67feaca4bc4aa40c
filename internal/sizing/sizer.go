package sizing

import (
	"fmt"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
)

// Sizer wraps a policy and enforces the global risk constraints.
type Sizer struct {
	policy Policy
	cfg    RiskConfig
}

// NewSizer creates a sizer
func NewSizer(policy Policy, cfg RiskConfig) *Sizer {
	if !cfg.Leverage.IsPositive() {
		cfg.Leverage = decimal.NewFromInt(1)
	}
	return &Sizer{policy: policy, cfg: cfg}
}

// Policy returns the wrapped policy name.
func (s *Sizer) Policy() string { return s.policy.Name() }

// Config returns the risk configuration.
func (s *Sizer) Config() RiskConfig { return s.cfg }

// Size sizes one signal. The decision is always returned so it can be
// recorded; a rejection also returns an error wrapping
// core.ErrInvalidSizing.
func (s *Sizer) Size(sig core.Signal, acct AccountState) (core.SizingDecision, error) {
	if !sig.Price.IsPositive() {
		return s.reject(reject(s.policy.Name(), sig, "signal price must be positive"))
	}
	if sig.Action == core.ActionClose {
		return s.sizeClose(sig, acct)
	}

	if acct.Position != nil {
		return s.reject(reject(s.policy.Name(), sig, "position already open"))
	}
	if s.cfg.MaxOpenPositions > 0 && acct.OpenPositions >= s.cfg.MaxOpenPositions {
		return s.reject(reject(s.policy.Name(), sig,
			fmt.Sprintf("max open positions reached: %d >= %d", acct.OpenPositions, s.cfg.MaxOpenPositions)))
	}
	if !acct.Balance.IsPositive() {
		return s.reject(reject(s.policy.Name(), sig, "balance exhausted"))
	}

	d := s.policy.Size(sig, s.cfg, acct)
	if !d.Accepted {
		return s.reject(d)
	}

	qty := d.Quantity
	price := sig.Price

	// aggregate exposure: clamp to headroom
	if s.cfg.MaxExposure > 0 {
		limit := acct.Balance.Mul(fraction(s.cfg.MaxExposure))
		headroom := limit.Sub(acct.Exposure)
		if !headroom.IsPositive() {
			d.Accepted = false
			d.RejectReason = fmt.Sprintf("exposure limit reached: %s of %s", acct.Exposure.StringFixed(2), limit.StringFixed(2))
			return s.reject(d)
		}
		if qty.Mul(price).GreaterThan(headroom) {
			qty = headroom.Div(price)
			d.Adjustments = append(d.Adjustments, fmt.Sprintf("clamped to exposure headroom %s", headroom.StringFixed(2)))
		}
	}

	// single-trade risk at the stop
	if s.cfg.MaxTradeRisk > 0 {
		dist := stopDistance(sig, s.cfg)
		maxRisk := acct.Balance.Mul(fraction(s.cfg.MaxTradeRisk))
		if dist.IsPositive() && qty.Mul(dist).GreaterThan(maxRisk) {
			qty = maxRisk.Div(dist)
			d.Adjustments = append(d.Adjustments, fmt.Sprintf("clamped to max trade risk %s", maxRisk.StringFixed(2)))
		}
	}

	if s.cfg.QuantityStep.IsPositive() {
		qty = qty.Div(s.cfg.QuantityStep).Floor().Mul(s.cfg.QuantityStep)
	}
	if !qty.IsPositive() {
		d.Accepted = false
		d.RejectReason = "quantity rounds to zero"
		return s.reject(d)
	}

	notional := qty.Mul(price)
	if s.cfg.MinNotional.IsPositive() && notional.LessThan(s.cfg.MinNotional) {
		d.Accepted = false
		d.RejectReason = fmt.Sprintf("notional %s below minimum %s", notional.StringFixed(2), s.cfg.MinNotional.StringFixed(2))
		return s.reject(d)
	}

	d.Quantity = qty
	d.Notional = notional
	d.Leverage = s.cfg.Leverage
	d.Margin = notional.Div(s.cfg.Leverage)
	d.StopLoss = sig.StopLoss
	d.TakeProfit = sig.TakeProfit
	return d, nil
}

// sizeClose sizes a CLOSE to the full open quantity.
func (s *Sizer) sizeClose(sig core.Signal, acct AccountState) (core.SizingDecision, error) {
	if acct.Position == nil {
		return s.reject(reject(s.policy.Name(), sig, "no open position"))
	}
	if acct.Position.Side != sig.Side {
		return s.reject(reject(s.policy.Name(), sig,
			fmt.Sprintf("open position is %s, signal closes %s", acct.Position.Side, sig.Side)))
	}

	d := accept(s.policy.Name(), sig, acct.Position.Quantity)
	d.Leverage = s.cfg.Leverage
	d.Margin = d.Notional.Div(s.cfg.Leverage)
	return d, nil
}

func (s *Sizer) reject(d core.SizingDecision) (core.SizingDecision, error) {
	d.Accepted = false
	d.Quantity = decimal.Zero
	d.Notional = decimal.Zero
	return d, core.Errorf(core.ErrInvalidSizing, "%s %s: %s", d.Signal.Kind(), d.Signal.Symbol, d.RejectReason)
}
