package exchange

import (
	"time"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// Opposite returns the closing side for a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusFailed          OrderStatus = "FAILED"
)

// IsTerminal reports whether no further status change is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// SymbolLimits holds the per-symbol trading constraints the exchange
// enforces. Values are fetched from the exchange and cached; FetchedAt
// lets callers reason about staleness.
type SymbolLimits struct {
	Symbol                string    `json:"symbol"`
	MinNotional           float64   `json:"min_notional"`
	MinQty                float64   `json:"min_qty"`
	MaxQty                float64   `json:"max_qty"`
	QtyStep               float64   `json:"qty_step"`
	MaxLeverage           int       `json:"max_leverage"`
	MaintenanceMarginRate float64   `json:"maintenance_margin_rate"`
	FetchedAt             time.Time `json:"fetched_at"`
}

// OrderRequest describes an order to be submitted to the exchange.
// ClientOrderID is the caller-generated idempotency key; the gateway
// must pass it through so fills can be matched back.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"` // limit orders only
	Leverage      int       `json:"leverage,omitempty"`
	ReduceOnly    bool      `json:"reduce_only,omitempty"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderResult is the exchange's view of an order at a point in time.
type OrderResult struct {
	OrderID        string      `json:"order_id"`
	ClientOrderID  string      `json:"client_order_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Status         OrderStatus `json:"status"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	FilledQuantity float64     `json:"filled_quantity"`
	ErrorDetail    string      `json:"error_detail,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}
