package portfolio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	boterrors "github.com/ducminhle1904/futures-risk-bot/internal/errors"
	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
	"github.com/ducminhle1904/futures-risk-bot/internal/logger"
	"github.com/ducminhle1904/futures-risk-bot/internal/monitoring"
	"github.com/ducminhle1904/futures-risk-bot/internal/order"
	"github.com/ducminhle1904/futures-risk-bot/internal/position"
	"github.com/ducminhle1904/futures-risk-bot/internal/sizing"
)

// Config holds the portfolio-level risk limits and bookkeeping knobs.
type Config struct {
	InitialBalance  float64 `json:"initial_balance"`
	MaxBudget       float64 `json:"max_budget"`        // hard cap on budget per evaluation
	RiskPerTrade    float64 `json:"risk_per_trade"`    // fraction of budget at risk per trade
	DefaultLeverage int     `json:"default_leverage"`
	StopLossPercent float64 `json:"stop_loss_percent"` // stop distance from entry
	TakerFeeRate    float64 `json:"taker_fee_rate"`

	MaxPositions           int     `json:"max_positions"`
	MaxPortfolioRisk       float64 `json:"max_portfolio_risk"` // exposure / balance ceiling
	MaxCorrelationExposure float64 `json:"max_correlation_exposure"`

	LimitsRefresh    time.Duration `json:"limits_refresh"`
	LimitsMaxStale   time.Duration `json:"limits_max_stale"`
	RejectionHistory int           `json:"rejection_history"`

	Sizing sizing.Config `json:"sizing"`
}

// DefaultConfig returns the portfolio defaults.
func DefaultConfig() Config {
	return Config{
		InitialBalance:         1000,
		MaxBudget:              1000,
		RiskPerTrade:           0.005,
		DefaultLeverage:        10,
		StopLossPercent:        0.02,
		TakerFeeRate:           0.00055,
		MaxPositions:           5,
		MaxPortfolioRisk:       3.0,
		MaxCorrelationExposure: 0.5,
		LimitsRefresh:          time.Hour,
		LimitsMaxStale:         24 * time.Hour,
		RejectionHistory:       50,
		Sizing:                 sizing.DefaultConfig(),
	}
}

// pendingTrade is the decision context kept between order placement and
// the terminal fill event, keyed by clientOrderID.
type pendingTrade struct {
	symbol   string
	side     exchange.OrderSide
	closing  bool
	sizing   *sizing.Result
	placedAt time.Time
}

// Manager is the portfolio state owner. It evaluates signals against
// position state and risk limits, places orders through the order
// manager, and applies confirmed fills back onto the position book.
//
// Locking: one mutex per symbol serializes evaluation against fill
// application for that symbol; a separate state mutex guards balance,
// history and the pending-trade map. Two symbols never contend.
type Manager struct {
	config Config
	calc   *sizing.Calculator
	limits *exchange.LimitsCache
	orders *order.Manager
	book   *position.Book
	store  StateStore
	log    *logger.Logger

	symbolMu    sync.Mutex
	symbolLocks map[string]*sync.Mutex

	stateMu        sync.Mutex
	initialBalance float64
	currentBalance float64
	tradeHistory   []TradeRecord
	dailyPnl       []float64
	pnlDay         string
	rejections     []RejectionRecord
	pending        map[string]pendingTrade
	dirty          bool
	health         *monitoring.HealthChecker
}

// SetHealthChecker wires fill and conflict reporting into the liveness
// endpoint. Optional; nil leaves health reporting to the caller.
func (m *Manager) SetHealthChecker(h *monitoring.HealthChecker) {
	m.stateMu.Lock()
	m.health = h
	m.stateMu.Unlock()
}

func (m *Manager) healthChecker() *monitoring.HealthChecker {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.health
}

// NewManager creates a portfolio manager. store and log may be nil for
// a manager without persistence or file logging.
func NewManager(config Config, gateway exchange.Gateway, orders *order.Manager, store StateStore, log *logger.Logger) *Manager {
	if config.InitialBalance <= 0 {
		config.InitialBalance = DefaultConfig().InitialBalance
	}
	if config.MaxBudget <= 0 {
		config.MaxBudget = config.InitialBalance
	}
	if config.RejectionHistory <= 0 {
		config.RejectionHistory = 50
	}
	if config.LimitsRefresh <= 0 {
		config.LimitsRefresh = time.Hour
	}
	if config.LimitsMaxStale <= 0 {
		config.LimitsMaxStale = 24 * time.Hour
	}

	return &Manager{
		config:         config,
		calc:           sizing.NewCalculator(config.Sizing),
		limits:         exchange.NewLimitsCache(gateway, config.LimitsRefresh, config.LimitsMaxStale),
		orders:         orders,
		book:           position.NewBook(),
		store:          store,
		log:            log,
		symbolLocks:    make(map[string]*sync.Mutex),
		initialBalance: config.InitialBalance,
		currentBalance: config.InitialBalance,
		pending:        make(map[string]pendingTrade),
	}
}

// Initialize loads a prior snapshot if one exists. Without one the
// manager starts from the configured initial balance.
func (m *Manager) Initialize() error {
	if m.store == nil || !m.store.Exists() {
		m.logInfo("no prior snapshot, starting fresh with balance %.2f", m.currentBalance)
		return nil
	}

	snapshot, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load portfolio snapshot: %w", err)
	}

	m.stateMu.Lock()
	m.initialBalance = snapshot.InitialBalance
	m.currentBalance = snapshot.CurrentBalance
	m.tradeHistory = append([]TradeRecord(nil), snapshot.TradeHistory...)
	m.dailyPnl = append([]float64(nil), snapshot.DailyPnlHistory...)
	m.stateMu.Unlock()

	m.book.Restore(snapshot.Positions)

	m.logInfo("restored snapshot: balance %.2f, %d positions, %d trades",
		snapshot.CurrentBalance, len(snapshot.Positions), len(snapshot.TradeHistory))
	return nil
}

// symbolLock returns the mutex serializing all activity for a symbol.
func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.symbolMu.Lock()
	defer m.symbolMu.Unlock()

	lock, ok := m.symbolLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		m.symbolLocks[symbol] = lock
	}
	return lock
}

// Evaluate runs a signal through the full decision pipeline: duplicate
// and pending-order gating, portfolio limits, exchange-limit sizing,
// and finally order placement. Every rejection carries a structured
// reason. The returned error is reserved for infrastructure failures
// (for example the exchange limits being unreachable); risk rejections
// are not errors.
func (m *Manager) Evaluate(ctx context.Context, sig Signal) (Decision, error) {
	lock := m.symbolLock(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	decision := Decision{Symbol: sig.Symbol, Side: sig.Side}

	refPrice := sig.Price
	if refPrice <= 0 {
		if pos, ok := m.book.Get(sig.Symbol); ok {
			refPrice = pos.CurrentPrice
		}
	}
	if refPrice <= 0 {
		return m.reject(decision, RejectNoReferencePrice,
			fmt.Sprintf("no reference price for %s", sig.Symbol)), nil
	}

	// Duplicate-trade gate: a side that would re-enter the current
	// state is rejected before any order is considered.
	state := m.book.StateOf(sig.Symbol)
	_, opening, err := position.Next(state, sig.Side)
	if err != nil {
		return m.reject(decision, RejectAlreadyInState, err.Error()), nil
	}

	if m.orders.HasPending(sig.Symbol) {
		return m.reject(decision, RejectOrderAlreadyPending,
			fmt.Sprintf("%s already has an order in flight", sig.Symbol)), nil
	}

	if !opening {
		return m.evaluateClose(ctx, decision, sig)
	}

	if active := m.book.Active(); len(active) >= m.config.MaxPositions {
		return m.reject(decision, RejectMaxPositionsReached,
			fmt.Sprintf("%d of %d positions open", len(active), m.config.MaxPositions)), nil
	}

	limits, err := m.limits.Get(ctx, sig.Symbol)
	if err != nil {
		return decision, boterrors.Wrap(err, boterrors.ErrorCategoryNetwork, "portfolio", "get_limits")
	}

	m.stateMu.Lock()
	balance := m.currentBalance
	m.stateMu.Unlock()

	budget := math.Min(balance, m.config.MaxBudget)

	side := sizing.SideLong
	stopPrice := refPrice * (1 - m.config.StopLossPercent)
	if sig.Side == exchange.OrderSideSell {
		side = sizing.SideShort
		stopPrice = refPrice * (1 + m.config.StopLossPercent)
	}

	result := m.calc.Analyze(sizing.Inputs{
		Symbol:        sig.Symbol,
		Side:          side,
		EntryPrice:    refPrice,
		StopLossPrice: stopPrice,
		Budget:        budget,
		RiskPerTrade:  m.config.RiskPerTrade,
		Leverage:      m.config.DefaultLeverage,
	}, limits)

	if !result.Tradeable {
		decision.Sizing = &result
		return m.rejectSizing(decision, result), nil
	}

	summary := m.riskSummary()
	if balance > 0 && (summary.TotalExposure+result.PositionValue)/balance > m.config.MaxPortfolioRisk {
		decision.Sizing = &result
		return m.reject(decision, RejectPortfolioRiskExceeded,
			fmt.Sprintf("exposure %.2f + %.2f would exceed %.1fx balance %.2f",
				summary.TotalExposure, result.PositionValue, m.config.MaxPortfolioRisk, balance)), nil
	}

	return m.placeEntry(ctx, decision, sig, result)
}

// evaluateClose places a reduce-only market order for the full open
// quantity. Close signals bypass sizing: the exit size is whatever the
// position holds.
func (m *Manager) evaluateClose(ctx context.Context, decision Decision, sig Signal) (Decision, error) {
	decision.Closing = true

	pos, ok := m.book.Get(sig.Symbol)
	if !ok || pos.Quantity <= 0 {
		return m.reject(decision, RejectAlreadyInState,
			fmt.Sprintf("no open position for %s", sig.Symbol)), nil
	}

	result, err := m.orders.Place(ctx, exchange.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Type:       exchange.OrderTypeMarket,
		Quantity:   pos.Quantity,
		Leverage:   m.config.DefaultLeverage,
		ReduceOnly: true,
	})
	if err != nil {
		return m.reject(decision, RejectOrderAlreadyPending, err.Error()), nil
	}

	m.trackPlacement(result.ClientOrderID, pendingTrade{
		symbol:   sig.Symbol,
		side:     sig.Side,
		closing:  true,
		placedAt: time.Now(),
	})

	if result.Status == exchange.OrderStatusFailed {
		return m.reject(decision, RejectOrderPlacementFailed, result.ErrorDetail), nil
	}

	monitoring.RecordOrderPlaced(sig.Symbol, string(sig.Side))
	m.logTrade("CLOSE order placed: %s %s qty=%.6f (order %s)",
		sig.Symbol, sig.Side, pos.Quantity, result.OrderID)

	decision.Approved = true
	decision.ClientOrderID = result.ClientOrderID
	decision.Order = result
	return decision, nil
}

// placeEntry submits the sized entry order and records the pending
// decision context for the fill consumer.
func (m *Manager) placeEntry(ctx context.Context, decision Decision, sig Signal, result sizing.Result) (Decision, error) {
	placed, err := m.orders.Place(ctx, exchange.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Type:     exchange.OrderTypeMarket,
		Quantity: result.PositionSize,
		Leverage: m.config.DefaultLeverage,
	})
	if err != nil {
		decision.Sizing = &result
		return m.reject(decision, RejectOrderAlreadyPending, err.Error()), nil
	}

	m.trackPlacement(placed.ClientOrderID, pendingTrade{
		symbol:   sig.Symbol,
		side:     sig.Side,
		sizing:   &result,
		placedAt: time.Now(),
	})

	if placed.Status == exchange.OrderStatusFailed {
		decision.Sizing = &result
		return m.reject(decision, RejectOrderPlacementFailed, placed.ErrorDetail), nil
	}

	monitoring.RecordOrderPlaced(sig.Symbol, string(sig.Side))
	monitoring.RecordSizedPosition(sig.Symbol, result.PositionValue)
	m.logTrade("OPEN order placed: %s %s qty=%.6f notional=%.2f margin=%.2f safety=%.2f (order %s)",
		sig.Symbol, sig.Side, result.PositionSize, result.PositionValue,
		result.RequiredMargin, result.SafetyRatio, placed.OrderID)

	decision.Approved = true
	decision.ClientOrderID = placed.ClientOrderID
	decision.Sizing = &result
	decision.Order = placed
	return decision, nil
}

// trackPlacement registers decision context under the clientOrderID so
// the eventual terminal event can be matched. Registration happens
// while the symbol lock is held, before the fill consumer can observe
// the event, so a fill can never beat its own bookkeeping.
func (m *Manager) trackPlacement(clientOrderID string, pt pendingTrade) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.pending[clientOrderID] = pt
}

// Consume drains terminal order events until ctx is done. Delivery is
// at-least-once, so every handler path is idempotent per clientOrderID.
func (m *Manager) Consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.orders.Events():
			if !ok {
				return nil
			}
			m.handleEvent(event)
		}
	}
}

// handleEvent applies one terminal order event to portfolio state.
func (m *Manager) handleEvent(event order.Event) {
	symbol := event.Result.Symbol
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	m.stateMu.Lock()
	pt, known := m.pending[event.Result.ClientOrderID]
	if known {
		delete(m.pending, event.Result.ClientOrderID)
	}
	m.stateMu.Unlock()

	if !known {
		conflict := boterrors.NewStateConflictError("portfolio", "handle_event",
			fmt.Sprintf("terminal event for unknown clientOrderID %s (%s %s)",
				event.Result.ClientOrderID, symbol, event.Result.Status))
		monitoring.RecordError("state_conflict")
		if h := m.healthChecker(); h != nil {
			h.RecordFailure(conflict.Error())
		}
		m.logError("%v", conflict)
		return
	}

	switch event.Result.Status {
	case exchange.OrderStatusFilled:
		m.applyFill(pt, event.Result)
	case exchange.OrderStatusCanceled, exchange.OrderStatusRejected, exchange.OrderStatusFailed:
		monitoring.RecordCancel(symbol, string(event.Result.Status))
		m.logWarning("order %s for %s ended %s: %s",
			event.Result.OrderID, symbol, event.Result.Status, event.Result.ErrorDetail)
	default:
		m.logWarning("unexpected terminal status %s for order %s", event.Result.Status, event.Result.OrderID)
	}
}

// applyFill transitions position state for a confirmed fill and settles
// balance, fees and history. Only confirmed fills mutate positions.
func (m *Manager) applyFill(pt pendingTrade, result exchange.OrderResult) {
	fillPrice := result.AvgFillPrice
	fillQty := result.FilledQuantity
	if fillQty <= 0 {
		m.logWarning("filled order %s reported zero quantity", result.OrderID)
		return
	}

	transition, err := m.book.ApplyFill(result.Symbol, result.Side, fillQty, fillPrice, result.Timestamp)
	if err != nil {
		conflict := boterrors.NewStateConflictError("portfolio", "apply_fill",
			fmt.Sprintf("fill for order %s rejected by position book: %v", result.OrderID, err))
		monitoring.RecordError("state_conflict")
		if h := m.healthChecker(); h != nil {
			h.RecordFailure(conflict.Error())
		}
		m.logError("%v", conflict)
		return
	}

	fees := fillPrice * fillQty * m.config.TakerFeeRate

	m.stateMu.Lock()
	m.currentBalance -= fees
	action := "OPEN"
	realized := 0.0
	if transition.Closed {
		action = "CLOSE"
		realized = transition.RealizedPnl
		m.currentBalance += realized
		m.addDailyPnlLocked(realized - fees)
	} else {
		m.addDailyPnlLocked(-fees)
	}
	m.tradeHistory = append(m.tradeHistory, TradeRecord{
		Timestamp:     result.Timestamp,
		Symbol:        result.Symbol,
		Side:          result.Side,
		Action:        action,
		Quantity:      fillQty,
		Price:         fillPrice,
		PositionValue: fillPrice * fillQty,
		RealizedPnl:   realized,
		Fees:          fees,
		OrderID:       result.OrderID,
		ClientOrderID: result.ClientOrderID,
	})
	m.dirty = true
	balance := m.currentBalance
	health := m.health
	m.stateMu.Unlock()

	monitoring.RecordFill(result.Symbol, string(result.Side))
	if health != nil {
		health.RecordFill()
	}
	summary := m.riskSummary()
	monitoring.UpdatePortfolio(len(m.book.Active()), summary.TotalExposure, balance)

	if transition.Closed {
		m.logTrade("%s %s closed: qty=%.6f entry=%.6f exit=%.6f pnl=%.2f fees=%.4f balance=%.2f",
			result.Symbol, transition.From, fillQty, transition.EntryPrice, fillPrice, realized, fees, balance)
	} else {
		m.logTrade("%s %s opened: qty=%.6f entry=%.6f fees=%.4f balance=%.2f",
			result.Symbol, transition.To, fillQty, fillPrice, fees, balance)
	}
}

// MarkPrice feeds a price tick into the position book and refreshes the
// exposure gauges. It never changes position state.
func (m *Manager) MarkPrice(symbol string, price float64) {
	m.book.MarkPrice(symbol, price)

	m.stateMu.Lock()
	balance := m.currentBalance
	m.stateMu.Unlock()

	summary := m.riskSummary()
	monitoring.UpdatePortfolio(len(m.book.Active()), summary.TotalExposure, balance)
}

// riskSummary computes aggregate exposure across open positions at
// their last marked price (entry price until the first tick).
func (m *Manager) riskSummary() RiskSummary {
	var exposure float64
	for _, pos := range m.book.Active() {
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		exposure += pos.Quantity * price
	}

	m.stateMu.Lock()
	balance := m.currentBalance
	m.stateMu.Unlock()

	summary := RiskSummary{TotalExposure: exposure}
	if balance > 0 {
		summary.PortfolioRiskRatio = exposure / balance
	}
	return summary
}

// PortfolioRisk exposes the current aggregate exposure.
func (m *Manager) PortfolioRisk() RiskSummary {
	return m.riskSummary()
}

// Status returns a copied view of the portfolio for reporting.
func (m *Manager) Status() Status {
	summary := m.riskSummary()

	views := make(map[string]PositionView)
	for symbol, pos := range m.book.Active() {
		views[symbol] = PositionView{
			Symbol:        pos.Symbol,
			State:         string(pos.State),
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnl: pos.UnrealizedPnl,
			OpenedAt:      pos.OpenedAt,
		}
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	return Status{
		InitialBalance:       m.initialBalance,
		CurrentBalance:       m.currentBalance,
		TotalExposure:        summary.TotalExposure,
		PortfolioRiskRatio:   summary.PortfolioRiskRatio,
		OpenPositions:        views,
		TradeCount:           len(m.tradeHistory),
		LastSizingRejections: append([]RejectionRecord(nil), m.rejections...),
	}
}

// TradeHistory returns a copy of the full trade history.
func (m *Manager) TradeHistory() []TradeRecord {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return append([]TradeRecord(nil), m.tradeHistory...)
}

// SaveSnapshot persists the current portfolio state.
func (m *Manager) SaveSnapshot() error {
	if m.store == nil {
		return nil
	}

	m.stateMu.Lock()
	snapshot := &Snapshot{
		Version:                SnapshotVersion,
		InitialBalance:         m.initialBalance,
		CurrentBalance:         m.currentBalance,
		Positions:              m.book.All(),
		TradeHistory:           append([]TradeRecord(nil), m.tradeHistory...),
		DailyPnlHistory:        append([]float64(nil), m.dailyPnl...),
		MaxPositions:           m.config.MaxPositions,
		MaxPortfolioRisk:       m.config.MaxPortfolioRisk,
		MaxCorrelationExposure: m.config.MaxCorrelationExposure,
	}
	m.dirty = false
	m.stateMu.Unlock()

	if err := m.store.Save(snapshot); err != nil {
		// keep the state marked dirty so the next flush retries
		m.stateMu.Lock()
		m.dirty = true
		m.stateMu.Unlock()
		return err
	}
	return nil
}

// RunSnapshots flushes dirty state on the given interval until ctx is
// done, with a final save on the way out.
func (m *Manager) RunSnapshots(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := m.SaveSnapshot(); err != nil {
				m.logError("final snapshot save failed: %v", err)
				return err
			}
			return nil
		case <-ticker.C:
			m.stateMu.Lock()
			dirty := m.dirty
			m.stateMu.Unlock()
			if !dirty {
				continue
			}
			if err := m.SaveSnapshot(); err != nil {
				monitoring.RecordError("snapshot_save")
				m.logError("snapshot save failed: %v", err)
			}
		}
	}
}

// reject finalizes a rejection decision and records it.
func (m *Manager) reject(decision Decision, reason RejectReason, detail string) Decision {
	decision.Approved = false
	decision.RejectReason = reason
	decision.RejectDetail = detail
	m.recordRejection(decision.Symbol, reason, detail)
	return decision
}

// rejectSizing maps a sizing-level rejection onto the decision.
func (m *Manager) rejectSizing(decision Decision, result sizing.Result) Decision {
	return m.reject(decision, RejectReason(result.RejectReason), result.RejectDetail)
}

func (m *Manager) recordRejection(symbol string, reason RejectReason, detail string) {
	monitoring.RecordSizingRejection(symbol, string(reason))

	m.stateMu.Lock()
	m.rejections = append(m.rejections, RejectionRecord{
		Symbol:    symbol,
		Reason:    reason,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	if len(m.rejections) > m.config.RejectionHistory {
		m.rejections = m.rejections[len(m.rejections)-m.config.RejectionHistory:]
	}
	m.stateMu.Unlock()

	m.logWarning("signal rejected: %s %s (%s)", symbol, reason, detail)
}

// addDailyPnlLocked accumulates realized PnL into the current day's
// bucket. Caller holds stateMu.
func (m *Manager) addDailyPnlLocked(pnl float64) {
	day := time.Now().Format("2006-01-02")
	if day != m.pnlDay || len(m.dailyPnl) == 0 {
		m.dailyPnl = append(m.dailyPnl, 0)
		m.pnlDay = day
		if len(m.dailyPnl) > 30 {
			m.dailyPnl = m.dailyPnl[len(m.dailyPnl)-30:]
		}
	}
	m.dailyPnl[len(m.dailyPnl)-1] += pnl
}

func (m *Manager) logInfo(format string, args ...interface{}) {
	if m.log != nil {
		m.log.Info(format, args...)
	}
}

func (m *Manager) logWarning(format string, args ...interface{}) {
	if m.log != nil {
		m.log.Warning(format, args...)
	}
}

func (m *Manager) logError(format string, args ...interface{}) {
	if m.log != nil {
		m.log.Error(format, args...)
	}
}

func (m *Manager) logTrade(format string, args ...interface{}) {
	if m.log != nil {
		m.log.Trade(format, args...)
	}
}
