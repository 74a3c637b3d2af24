package domain

import "github.com/shopspring/decimal"

// RiskLimits are the configured risk caps. A zero value disables the
// corresponding check.
type RiskLimits struct {
	MaxPositionUSD            decimal.Decimal
	MaxTotalExposureUSD       decimal.Decimal
	MaxDailyLossUSD           decimal.Decimal
	MaxTradesPerDay           int
	MaxLeverage               decimal.Decimal
	LiquidationBufferFraction decimal.Decimal
	// Leverage is the leverage orders are placed with; zero means spot.
	Leverage              decimal.Decimal
	MaintenanceMarginRate decimal.Decimal
}
