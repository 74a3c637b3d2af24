package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalSide is the action a signal requests.
type SignalSide string

const (
	SignalBuy   SignalSide = "buy"
	SignalSell  SignalSide = "sell"
	SignalClose SignalSide = "close"
)

// Signal is emitted by a strategy to request order execution.
type Signal struct {
	ID         string // UUID
	Source     string // strategy name
	Symbol     string
	Side       SignalSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Reason     string
	CreatedAt  time.Time
}

// Notional returns quantity * price.
func (s Signal) Notional() decimal.Decimal {
	return s.Quantity.Mul(s.Price)
}

// IsEntry reports whether the signal opens or adds to exposure.
func (s Signal) IsEntry() bool {
	return s.Side == SignalBuy || s.Side == SignalSell
}

// RiskCheckResult is the outcome of a risk evaluation. Reason and Check are
// only populated when Passed is false.
type RiskCheckResult struct {
	Passed bool
	Check  string
	Reason string
}

// Pass is the approving RiskCheckResult.
func Pass() RiskCheckResult { return RiskCheckResult{Passed: true} }

// Reject builds a failing RiskCheckResult for the named check.
func Reject(check, reason string) RiskCheckResult {
	return RiskCheckResult{Passed: false, Check: check, Reason: reason}
}
