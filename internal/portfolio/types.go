package portfolio

import (
	"time"

	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
	"github.com/ducminhle1904/futures-risk-bot/internal/sizing"
)

// Signal is one trade intent from an external signal source. Price is
// the signal's reference price; when zero the symbol's last marked
// price is used for sizing.
type Signal struct {
	Symbol    string             `json:"symbol"`
	Side      exchange.OrderSide `json:"side"`
	Price     float64            `json:"price,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// RejectReason is the portfolio-level rejection taxonomy. Sizing
// rejections pass through with their own codes.
type RejectReason string

const (
	RejectAlreadyInState        RejectReason = "ALREADY_IN_STATE"
	RejectOrderAlreadyPending   RejectReason = "ORDER_ALREADY_PENDING"
	RejectMaxPositionsReached   RejectReason = "MAX_POSITIONS_REACHED"
	RejectPortfolioRiskExceeded RejectReason = "PORTFOLIO_RISK_EXCEEDED"
	RejectNoReferencePrice      RejectReason = "NO_REFERENCE_PRICE"
	RejectOrderPlacementFailed  RejectReason = "ORDER_PLACEMENT_FAILED"
)

// Decision is the structured outcome of evaluating a signal. A
// rejection always names its reason; approvals carry the client order
// id the eventual fill will be matched against.
type Decision struct {
	Symbol        string                `json:"symbol"`
	Side          exchange.OrderSide    `json:"side"`
	Approved      bool                  `json:"approved"`
	Closing       bool                  `json:"closing,omitempty"`
	RejectReason  RejectReason          `json:"reject_reason,omitempty"`
	RejectDetail  string                `json:"reject_detail,omitempty"`
	ClientOrderID string                `json:"client_order_id,omitempty"`
	Sizing        *sizing.Result        `json:"sizing,omitempty"`
	Order         *exchange.OrderResult `json:"order,omitempty"`
}

// TradeRecord is one entry of the append-only trade history.
type TradeRecord struct {
	Timestamp     time.Time          `json:"timestamp"`
	Symbol        string             `json:"symbol"`
	Side          exchange.OrderSide `json:"side"`
	Action        string             `json:"action"` // "OPEN" or "CLOSE"
	Quantity      float64            `json:"quantity"`
	Price         float64            `json:"price"`
	PositionValue float64            `json:"position_value"`
	RealizedPnl   float64            `json:"realized_pnl,omitempty"`
	Fees          float64            `json:"fees"`
	OrderID       string             `json:"order_id"`
	ClientOrderID string             `json:"client_order_id"`
}

// RejectionRecord is kept in a ring buffer for the reporting surface.
type RejectionRecord struct {
	Symbol    string       `json:"symbol"`
	Reason    RejectReason `json:"reason"`
	Detail    string       `json:"detail"`
	Timestamp time.Time    `json:"timestamp"`
}

// RiskSummary aggregates exposure across open positions.
type RiskSummary struct {
	TotalExposure      float64 `json:"total_exposure"`
	PortfolioRiskRatio float64 `json:"portfolio_risk_ratio"`
}

// Status is the read-only portfolio view exposed to monitoring and CLI
// consumers. All contained data is copied, never referenced.
type Status struct {
	InitialBalance       float64                   `json:"initial_balance"`
	CurrentBalance       float64                   `json:"current_balance"`
	TotalExposure        float64                   `json:"total_exposure"`
	PortfolioRiskRatio   float64                   `json:"portfolio_risk_ratio"`
	OpenPositions        map[string]PositionView   `json:"open_positions"`
	TradeCount           int                       `json:"trade_count"`
	LastSizingRejections []RejectionRecord         `json:"last_sizing_rejections"`
}

// PositionView is the externally visible copy of a position.
type PositionView struct {
	Symbol        string    `json:"symbol"`
	State         string    `json:"state"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}
