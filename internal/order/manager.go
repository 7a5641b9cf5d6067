package order

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	boterrors "github.com/ducminhle1904/futures-risk-bot/internal/errors"
	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
)

// ErrOrderAlreadyPending is returned by Place when the symbol already
// has an order in flight. Only one PENDING/SUBMITTED order per symbol
// is permitted.
var ErrOrderAlreadyPending = stderrors.New("order already pending for symbol")

// Event is emitted once per terminal status transition of a tracked
// order. Delivery is at-least-once; consumers must be idempotent.
type Event struct {
	Request exchange.OrderRequest
	Result  exchange.OrderResult
}

// Config holds order manager tuning knobs.
type Config struct {
	PollInterval  time.Duration        `json:"poll_interval"`
	SubmitTimeout time.Duration        `json:"submit_timeout"` // SUBMITTED longer than this triggers an auto-cancel
	EventBuffer   int                  `json:"event_buffer"`
	Retry         exchange.RetryConfig `json:"retry"`
}

// DefaultConfig returns the polling and timeout defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		SubmitTimeout: 2 * time.Minute,
		EventBuffer:   64,
		Retry:         exchange.DefaultRetryConfig(),
	}
}

type trackedOrder struct {
	request         exchange.OrderRequest
	result          exchange.OrderResult
	createdAt       time.Time
	cancelRequested bool
	timedOut        bool
	delivered       bool
}

// Manager owns the order lifecycle: submission, cancellation, status
// polling and terminal-event fan-out. It enforces the one-open-order-
// per-symbol rule atomically with its own bookkeeping so callers cannot
// race a check against a placement.
type Manager struct {
	gateway exchange.Gateway
	config  Config

	mu              sync.Mutex
	orders          map[string]*trackedOrder // keyed by clientOrderID
	byOrderID       map[string]string        // broker orderID -> clientOrderID
	pendingBySymbol map[string]string        // symbol -> clientOrderID

	events chan Event
}

// NewManager creates an order manager over the given gateway.
func NewManager(gateway exchange.Gateway, config Config) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	return &Manager{
		gateway:         gateway,
		config:          config,
		orders:          make(map[string]*trackedOrder),
		byOrderID:       make(map[string]string),
		pendingBySymbol: make(map[string]string),
		events:          make(chan Event, config.EventBuffer),
	}
}

// Events is the stream of terminal order transitions. The consumer is
// expected to take any per-symbol locks itself; nothing is held while
// events are produced.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// HasPending reports whether symbol has an order in flight.
func (m *Manager) HasPending(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pendingBySymbol[symbol]
	return ok
}

// Place submits an order to the exchange. The clientOrderID idempotency
// key is generated here and echoed on every subsequent event. Gateway
// errors are retried with bounded backoff and then surfaced as a result
// with status FAILED; Place never panics past this boundary.
func (m *Manager) Place(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if req.Symbol == "" || req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid order request: symbol=%q qty=%f", req.Symbol, req.Quantity)
	}

	req.ClientOrderID = uuid.NewString()

	m.mu.Lock()
	if pending, ok := m.pendingBySymbol[req.Symbol]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s has open order %s", ErrOrderAlreadyPending, req.Symbol, pending)
	}
	tracked := &trackedOrder{
		request:   req,
		createdAt: time.Now(),
		result: exchange.OrderResult{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Status:        exchange.OrderStatusPending,
			Timestamp:     time.Now(),
		},
	}
	m.orders[req.ClientOrderID] = tracked
	m.pendingBySymbol[req.Symbol] = req.ClientOrderID
	m.mu.Unlock()

	var placed *exchange.OrderResult
	err := exchange.Retry(ctx, m.config.Retry, isRetryable, func() error {
		var placeErr error
		placed, placeErr = m.gateway.PlaceOrder(ctx, req)
		return placeErr
	})
	if err != nil {
		tradeErr := boterrors.Categorize(err, "order_manager", "place")
		log.Printf("order placement failed for %s: %v", req.Symbol, tradeErr)

		failed := exchange.OrderResult{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Status:        exchange.OrderStatusFailed,
			ErrorDetail:   tradeErr.Error(),
			Timestamp:     time.Now(),
		}
		m.finishOrder(req.ClientOrderID, failed)
		return &failed, nil
	}

	placed.ClientOrderID = req.ClientOrderID

	m.mu.Lock()
	tracked.result = *placed
	if placed.OrderID != "" {
		m.byOrderID[placed.OrderID] = req.ClientOrderID
	}
	m.mu.Unlock()

	if placed.Status.IsTerminal() {
		m.finishOrder(req.ClientOrderID, *placed)
	}

	result := *placed
	return &result, nil
}

// Cancel attempts to cancel an order by broker orderID. Best effort:
// false means the exchange had already resolved the order, and a fill
// event may still arrive; the fill path is authoritative.
func (m *Manager) Cancel(ctx context.Context, orderID string) bool {
	m.mu.Lock()
	clientID, ok := m.byOrderID[orderID]
	var symbol string
	if ok {
		symbol = m.orders[clientID].request.Symbol
		m.orders[clientID].cancelRequested = true
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	canceled, err := m.gateway.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		log.Printf("cancel failed for order %s: %v", orderID, err)
		return false
	}
	return canceled
}

// Run polls order status until ctx is done, emitting exactly one event
// per terminal transition. The event channel is never closed: a Place
// call in flight during shutdown may still finish an order, so
// consumers stop on their own context instead of on channel close.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce refreshes every open order and handles submit timeouts.
func (m *Manager) pollOnce(ctx context.Context) {
	m.mu.Lock()
	open := make([]*trackedOrder, 0, len(m.pendingBySymbol))
	for _, clientID := range m.pendingBySymbol {
		if t, ok := m.orders[clientID]; ok {
			open = append(open, t)
		}
	}
	m.mu.Unlock()

	for _, tracked := range open {
		m.refreshOrder(ctx, tracked)
	}
}

func (m *Manager) refreshOrder(ctx context.Context, tracked *trackedOrder) {
	m.mu.Lock()
	orderID := tracked.result.OrderID
	clientID := tracked.request.ClientOrderID
	symbol := tracked.request.Symbol
	age := time.Since(tracked.createdAt)
	cancelRequested := tracked.cancelRequested
	m.mu.Unlock()

	if orderID == "" {
		// placement never produced a broker id; nothing to poll
		return
	}

	status, err := m.gateway.GetOrderStatus(ctx, symbol, orderID)
	if err != nil {
		log.Printf("status poll failed for %s (%s): %v", symbol, orderID, err)
		return
	}
	status.ClientOrderID = clientID

	if status.Status.IsTerminal() {
		m.finishOrder(clientID, *status)
		return
	}

	m.mu.Lock()
	tracked.result = *status
	m.mu.Unlock()

	// An order sitting SUBMITTED past the timeout gets one cancel
	// attempt. If the exchange filled it in the meantime the next poll
	// delivers the fill; we never synthesize a cancel state locally.
	if m.config.SubmitTimeout > 0 && age > m.config.SubmitTimeout && !cancelRequested {
		log.Printf("order %s for %s exceeded submit timeout (%s), attempting cancel", orderID, symbol, age.Round(time.Second))
		m.mu.Lock()
		tracked.timedOut = true
		m.mu.Unlock()
		m.Cancel(ctx, orderID)
	}
}

// finishOrder records a terminal result, releases the symbol's pending
// slot and emits the event exactly once per clientOrderID.
func (m *Manager) finishOrder(clientID string, result exchange.OrderResult) {
	m.mu.Lock()
	tracked, ok := m.orders[clientID]
	if !ok || tracked.delivered {
		m.mu.Unlock()
		return
	}
	if tracked.timedOut && result.Status == exchange.OrderStatusCanceled && result.ErrorDetail == "" {
		result.ErrorDetail = string(boterrors.ErrorCategoryOrderTimeout)
	}
	tracked.delivered = true
	tracked.result = result
	if m.pendingBySymbol[tracked.request.Symbol] == clientID {
		delete(m.pendingBySymbol, tracked.request.Symbol)
	}
	request := tracked.request
	m.mu.Unlock()

	m.events <- Event{Request: request, Result: result}
}

// Status returns the last observed result for a clientOrderID.
func (m *Manager) Status(clientID string) (exchange.OrderResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracked, ok := m.orders[clientID]
	if !ok {
		return exchange.OrderResult{}, false
	}
	return tracked.result, true
}

func isRetryable(err error) bool {
	if tradeErr, ok := err.(*boterrors.TradeError); ok {
		return tradeErr.IsRetryable()
	}
	categorized := boterrors.Categorize(err, "order_manager", "gateway")
	return categorized.IsRetryable()
}
