package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperGateway is an in-process exchange simulation used for dry runs
// and tests. Market orders fill at the configured mark price, either
// immediately or, when auto-fill is disabled, when the test decides,
// which makes order/cancel races reproducible.
type PaperGateway struct {
	mu        sync.Mutex
	balance   float64
	autoFill  bool
	failPlace error

	marks  map[string]float64
	limits map[string]*SymbolLimits
	orders map[string]*OrderResult
}

// NewPaperGateway creates a paper gateway with the given quote balance.
func NewPaperGateway(balance float64) *PaperGateway {
	return &PaperGateway{
		balance:  balance,
		autoFill: true,
		marks:    make(map[string]float64),
		limits:   make(map[string]*SymbolLimits),
		orders:   make(map[string]*OrderResult),
	}
}

func (g *PaperGateway) GetName() string { return "paper" }

// SetMarkPrice sets the price market orders fill at for symbol.
func (g *PaperGateway) SetMarkPrice(symbol string, price float64) {
	g.mu.Lock()
	g.marks[symbol] = price
	g.mu.Unlock()
}

// SetLimits registers the trading limits returned for symbol.
func (g *PaperGateway) SetLimits(limits *SymbolLimits) {
	g.mu.Lock()
	g.limits[limits.Symbol] = limits
	g.mu.Unlock()
}

// SetAutoFill controls whether market orders fill on placement.
// With auto-fill off, orders stay SUBMITTED until FillOrder is called.
func (g *PaperGateway) SetAutoFill(autoFill bool) {
	g.mu.Lock()
	g.autoFill = autoFill
	g.mu.Unlock()
}

// FailNextPlace makes the next PlaceOrder call return err.
func (g *PaperGateway) FailNextPlace(err error) {
	g.mu.Lock()
	g.failPlace = err
	g.mu.Unlock()
}

// PlaceOrder simulates order placement.
func (g *PaperGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failPlace != nil {
		err := g.failPlace
		g.failPlace = nil
		return nil, err
	}
	if req.Symbol == "" || req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid order request: symbol=%q qty=%f", req.Symbol, req.Quantity)
	}

	orderID := "paper-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	result := &OrderResult{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        OrderStatusSubmitted,
		Timestamp:     time.Now(),
	}

	if g.autoFill && req.Type == OrderTypeMarket {
		g.fillLocked(result, req.Quantity)
	}

	g.orders[orderID] = result
	copy := *result
	return &copy, nil
}

// FillOrder marks a held order as filled at the current mark price.
// Filling an already terminal order is a no-op returning false.
func (g *PaperGateway) FillOrder(orderID string, quantity float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok || order.Status.IsTerminal() {
		return false
	}
	g.fillLocked(order, quantity)
	return true
}

func (g *PaperGateway) fillLocked(order *OrderResult, quantity float64) {
	price := g.marks[order.Symbol]
	order.Status = OrderStatusFilled
	order.FilledQuantity = quantity
	order.AvgFillPrice = price
	order.Timestamp = time.Now()
}

// CancelOrder cancels an open order. Returns false when the order has
// already reached a terminal state, the same race a real exchange has.
func (g *PaperGateway) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return false, fmt.Errorf("unknown order %s", orderID)
	}
	if order.Status.IsTerminal() {
		return false, nil
	}
	order.Status = OrderStatusCanceled
	order.Timestamp = time.Now()
	return true, nil
}

// GetOrderStatus returns a copy of the current order state.
func (g *PaperGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	copy := *order
	return &copy, nil
}

// GetSymbolLimits returns the registered limits for symbol.
func (g *PaperGateway) GetSymbolLimits(ctx context.Context, symbol string) (*SymbolLimits, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limits, ok := g.limits[symbol]
	if !ok {
		return nil, fmt.Errorf("no limits configured for %s", symbol)
	}
	copy := *limits
	if copy.FetchedAt.IsZero() {
		copy.FetchedAt = time.Now()
	}
	return &copy, nil
}

// GetBalance returns the simulated quote balance.
func (g *PaperGateway) GetBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}
