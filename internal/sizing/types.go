package sizing

// Side is the direction of the position being sized.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// RejectReason identifies why a sizing analysis refused the trade.
// Every rejected Result carries exactly one of these; callers never see
// a bare "not tradeable".
type RejectReason string

const (
	RejectBudgetBelowMinimum     RejectReason = "BUDGET_BELOW_MINIMUM"
	RejectInvalidStopLoss        RejectReason = "INVALID_STOP_LOSS"
	RejectSizeBelowMinQty        RejectReason = "SIZE_BELOW_MIN_QTY"
	RejectMarginExceedsBudget    RejectReason = "MARGIN_EXCEEDS_BUDGET"
	RejectPositionTooLarge       RejectReason = "POSITION_TOO_LARGE"
	RejectLiquidationRiskTooHigh RejectReason = "LIQUIDATION_RISK_TOO_HIGH"
)

// Inputs are the per-evaluation parameters for a sizing analysis.
// Constructed fresh for every signal, never persisted.
type Inputs struct {
	Symbol        string
	Side          Side
	EntryPrice    float64
	StopLossPrice float64
	Budget        float64 // available budget in quote currency
	RiskPerTrade  float64 // fraction of budget at risk if the stop is hit
	Leverage      int
}

// Result is the outcome of a sizing analysis. Immutable once returned.
type Result struct {
	Symbol       string       `json:"symbol"`
	Tradeable    bool         `json:"tradeable"`
	RejectReason RejectReason `json:"reject_reason,omitempty"`
	RejectDetail string       `json:"reject_detail,omitempty"`

	// Position details
	PositionSize   float64 `json:"position_size"`  // quantity in base units
	PositionValue  float64 `json:"position_value"` // notional in quote currency
	RequiredMargin float64 `json:"required_margin"`

	// Risk metrics
	RiskAmount float64 `json:"risk_amount"` // max loss if the stop is hit
	RiskBuffer float64 `json:"risk_buffer"` // |entry - stop|

	// Liquidation analysis
	LiquidationPrice  float64 `json:"liquidation_price"`
	LiquidationBuffer float64 `json:"liquidation_buffer"` // |entry - liquidation|
	SafetyRatio       float64 `json:"safety_ratio"`       // liquidation buffer / risk buffer

	// Exchange compliance
	MinFeasibleNotional float64 `json:"min_feasible_notional"`
	MeetsMinNotional    bool    `json:"meets_min_notional"`
	MeetsMinQty         bool    `json:"meets_min_qty"`
}

func reject(r Result, reason RejectReason, detail string) Result {
	r.Tradeable = false
	r.RejectReason = reason
	r.RejectDetail = detail
	return r
}
