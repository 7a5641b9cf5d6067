package sizing

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
)

// Config holds the risk thresholds the calculator checks against.
// All three are deliberately configurable rather than baked in.
type Config struct {
	MinSafetyRatio     float64 // minimum liquidation-buffer / stop-buffer ratio
	MaxPositionPercent float64 // max position notional as a fraction of budget
	MaxMarginFraction  float64 // max required margin as a fraction of budget
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MinSafetyRatio:     1.5,
		MaxPositionPercent: 0.1,
		MaxMarginFraction:  0.8,
	}
}

// Calculator computes risk-constrained position sizes. It is stateless:
// Analyze is a pure function of its arguments and is safe to call
// concurrently and repeatedly.
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator with the given thresholds.
func NewCalculator(config Config) *Calculator {
	if config.MinSafetyRatio <= 0 {
		config.MinSafetyRatio = 1.5
	}
	if config.MaxPositionPercent <= 0 {
		config.MaxPositionPercent = 0.1
	}
	if config.MaxMarginFraction <= 0 {
		config.MaxMarginFraction = 0.8
	}
	return &Calculator{config: config}
}

// MinFeasibleNotional is the smallest order value the exchange accepts
// for a symbol at the given price.
func MinFeasibleNotional(limits *exchange.SymbolLimits, price float64) float64 {
	return math.Max(limits.MinNotional, limits.MinQty*price)
}

// LiquidationPrice estimates the price at which posted margin plus the
// maintenance buffer is exhausted.
//
// LONG:  entry * (1 - 1/leverage + maintenanceMarginRate)
// SHORT: entry * (1 + 1/leverage - maintenanceMarginRate)
func LiquidationPrice(entryPrice float64, leverage int, maintenanceMarginRate float64, side Side) float64 {
	leverageFactor := 1.0 / float64(leverage)
	if side == SideLong {
		return entryPrice * (1 - leverageFactor + maintenanceMarginRate)
	}
	return entryPrice * (1 + leverageFactor - maintenanceMarginRate)
}

// RoundToStep rounds a quantity down to the exchange step size.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	// small epsilon so e.g. 0.002/0.001 does not floor to 1 step short
	return math.Floor(value/step+1e-9) * step
}

// Analyze runs the full sizing pipeline for one candidate trade. The
// first failing check short-circuits with its specific reject reason.
func (c *Calculator) Analyze(in Inputs, limits *exchange.SymbolLimits) Result {
	result := Result{Symbol: in.Symbol}

	leverage := in.Leverage
	if leverage < 1 {
		leverage = 1
	}

	// Step 1: can the budget cover the smallest feasible order at all?
	minFeasible := MinFeasibleNotional(limits, in.EntryPrice)
	result.MinFeasibleNotional = minFeasible
	if in.Budget < minFeasible {
		return reject(result, RejectBudgetBelowMinimum,
			fmt.Sprintf("budget %.2f below minimum feasible notional %.2f", in.Budget, minFeasible))
	}

	// Step 2: stop distance defines the risk denominator
	riskBuffer := math.Abs(in.EntryPrice - in.StopLossPrice)
	result.RiskBuffer = riskBuffer
	if riskBuffer == 0 {
		return reject(result, RejectInvalidStopLoss, "entry price equals stop loss price")
	}

	// Steps 3-4: risk-derived size, floored to the exchange step
	riskAmount := in.Budget * in.RiskPerTrade
	result.RiskAmount = riskAmount

	size := RoundToStep(riskAmount/riskBuffer, limits.QtyStep)
	result.PositionSize = size
	result.MeetsMinQty = size >= limits.MinQty
	if !result.MeetsMinQty {
		return reject(result, RejectSizeBelowMinQty,
			fmt.Sprintf("position size %.8f below minimum quantity %.8f", size, limits.MinQty))
	}

	positionValue := size * in.EntryPrice
	result.PositionValue = positionValue
	result.MeetsMinNotional = positionValue >= limits.MinNotional
	if !result.MeetsMinNotional {
		return reject(result, RejectBudgetBelowMinimum,
			fmt.Sprintf("position value %.2f below minimum notional %.2f", positionValue, limits.MinNotional))
	}

	// Steps 5-7: margin and concentration limits
	requiredMargin := positionValue / float64(leverage)
	result.RequiredMargin = requiredMargin

	if maxMargin := in.Budget * c.config.MaxMarginFraction; requiredMargin > maxMargin {
		return reject(result, RejectMarginExceedsBudget,
			fmt.Sprintf("required margin %.2f exceeds %.0f%% of budget (%.2f)",
				requiredMargin, c.config.MaxMarginFraction*100, maxMargin))
	}
	if maxValue := in.Budget * c.config.MaxPositionPercent; positionValue > maxValue {
		return reject(result, RejectPositionTooLarge,
			fmt.Sprintf("position value %.2f exceeds %.0f%% of budget (%.2f)",
				positionValue, c.config.MaxPositionPercent*100, maxValue))
	}

	// Steps 8-9: liquidation distance versus stop distance
	liquidationPrice := LiquidationPrice(in.EntryPrice, leverage, limits.MaintenanceMarginRate, in.Side)
	result.LiquidationPrice = liquidationPrice

	liquidationBuffer := math.Abs(in.EntryPrice - liquidationPrice)
	result.LiquidationBuffer = liquidationBuffer
	if liquidationBuffer <= 0 {
		return reject(result, RejectLiquidationRiskTooHigh, "liquidation price at entry price")
	}

	safetyRatio := liquidationBuffer / riskBuffer
	result.SafetyRatio = safetyRatio
	if safetyRatio < c.config.MinSafetyRatio {
		return reject(result, RejectLiquidationRiskTooHigh,
			fmt.Sprintf("safety ratio %.2f below minimum %.2f", safetyRatio, c.config.MinSafetyRatio))
	}

	result.Tradeable = true
	return result
}
