package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrMalformedBook     = errors.New("malformed order book")
	ErrDataQuality       = errors.New("data quality violation")
	ErrStrategy          = errors.New("strategy failure")
	ErrExecution         = errors.New("execution failure")
	ErrKillSwitch        = errors.New("kill switch tripped")
	ErrFeedDisconnected  = errors.New("feed disconnected")
	ErrEmergencyShutdown = errors.New("emergency shutdown")
)

// DataQualityError describes a market data record that failed validation.
// It matches ErrDataQuality under errors.Is.
type DataQualityError struct {
	Symbol string
	Reason string
}

func (e *DataQualityError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("data quality: %s", e.Reason)
	}
	return fmt.Sprintf("data quality: %s: %s", e.Symbol, e.Reason)
}

func (e *DataQualityError) Unwrap() error { return ErrDataQuality }
