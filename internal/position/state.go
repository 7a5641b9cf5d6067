package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
)

// State is the per-symbol position state.
type State string

const (
	StateFlat  State = "FLAT"
	StateLong  State = "LONG"
	StateShort State = "SHORT"
)

// Position is the authoritative record of one symbol's exposure.
// Mutated only through Book.ApplyFill on confirmed fills.
type Position struct {
	Symbol        string    `json:"symbol"`
	State         State     `json:"state"`
	Quantity      float64   `json:"quantity,omitempty"`
	EntryPrice    float64   `json:"entry_price,omitempty"`
	OpenedAt      time.Time `json:"opened_at,omitempty"`
	CurrentPrice  float64   `json:"current_price,omitempty"`
	UnrealizedPnl float64   `json:"unrealized_pnl,omitempty"`
}

// Transition describes a state change applied by a confirmed fill.
type Transition struct {
	Symbol      string
	From        State
	To          State
	Opened      bool
	Closed      bool
	Quantity    float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnl float64
}

// Next resolves the target state for a fill side against the current
// state. opening is true when the transition opens a new position.
// A side that would re-enter the current state is rejected: that is the
// duplicate-trade case callers must surface as ALREADY_IN_STATE before
// any order is placed.
func Next(current State, side exchange.OrderSide) (target State, opening bool, err error) {
	switch {
	case current == StateFlat && side == exchange.OrderSideBuy:
		return StateLong, true, nil
	case current == StateFlat && side == exchange.OrderSideSell:
		return StateShort, true, nil
	case current == StateLong && side == exchange.OrderSideSell:
		return StateFlat, false, nil
	case current == StateShort && side == exchange.OrderSideBuy:
		return StateFlat, false, nil
	default:
		return current, false, fmt.Errorf("%s signal while already %s", side, current)
	}
}

// Book holds exactly one Position per symbol. The map itself is guarded
// here; serialization of decision-vs-fill interleavings for a single
// symbol is the owner's job (the portfolio manager holds per-symbol
// locks around ApplyFill).
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// StateOf returns the current state for a symbol; unknown symbols are FLAT.
func (b *Book) StateOf(symbol string) State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if pos, ok := b.positions[symbol]; ok {
		return pos.State
	}
	return StateFlat
}

// Get returns a copy of the position for symbol.
func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return Position{Symbol: symbol, State: StateFlat}, false
	}
	return *pos, true
}

// ApplyFill transitions the symbol's state for a confirmed fill. Entry
// price, quantity and state change atomically under the book lock.
// Closing transitions report the realized PnL of the closed position.
func (b *Book) ApplyFill(symbol string, side exchange.OrderSide, quantity, price float64, at time.Time) (Transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, State: StateFlat}
		b.positions[symbol] = pos
	}

	target, opening, err := Next(pos.State, side)
	if err != nil {
		return Transition{Symbol: symbol, From: pos.State, To: pos.State}, err
	}

	transition := Transition{
		Symbol: symbol,
		From:   pos.State,
		To:     target,
	}

	if opening {
		pos.State = target
		pos.Quantity = quantity
		pos.EntryPrice = price
		pos.OpenedAt = at
		pos.CurrentPrice = price
		pos.UnrealizedPnl = 0

		transition.Opened = true
		transition.Quantity = quantity
		transition.EntryPrice = price
		return transition, nil
	}

	// closing: realized PnL is signed by the direction being closed
	closedQty := pos.Quantity
	var pnl float64
	if pos.State == StateLong {
		pnl = (price - pos.EntryPrice) * closedQty
	} else {
		pnl = (pos.EntryPrice - price) * closedQty
	}

	transition.Closed = true
	transition.Quantity = closedQty
	transition.EntryPrice = pos.EntryPrice
	transition.ExitPrice = price
	transition.RealizedPnl = pnl

	pos.State = StateFlat
	pos.Quantity = 0
	pos.EntryPrice = 0
	pos.OpenedAt = time.Time{}
	pos.UnrealizedPnl = 0
	pos.CurrentPrice = price

	return transition, nil
}

// MarkPrice updates the read-only derived unrealized PnL from a price
// tick. It never changes position state.
func (b *Book) MarkPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok || pos.State == StateFlat {
		return
	}
	pos.CurrentPrice = price
	if pos.State == StateLong {
		pos.UnrealizedPnl = (price - pos.EntryPrice) * pos.Quantity
	} else {
		pos.UnrealizedPnl = (pos.EntryPrice - price) * pos.Quantity
	}
}

// Active returns copies of all non-FLAT positions keyed by symbol.
func (b *Book) Active() map[string]Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	active := make(map[string]Position)
	for symbol, pos := range b.positions {
		if pos.State != StateFlat {
			active[symbol] = *pos
		}
	}
	return active
}

// All returns copies of every tracked position, FLAT ones included.
func (b *Book) All() map[string]Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := make(map[string]Position, len(b.positions))
	for symbol, pos := range b.positions {
		all[symbol] = *pos
	}
	return all
}

// Restore replaces the book contents, used when loading a snapshot.
func (b *Book) Restore(positions map[string]Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = make(map[string]*Position, len(positions))
	for symbol, pos := range positions {
		p := pos
		if p.State == "" {
			p.State = StateFlat
		}
		b.positions[symbol] = &p
	}
}
