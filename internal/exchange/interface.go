package exchange

import (
	"context"
)

// Gateway is the minimal surface the trading core needs from an
// exchange. Implementations must be safe for concurrent use; every
// operation takes a context because live gateways hit the network.
type Gateway interface {
	GetName() string

	// Trading
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderResult, error)

	// Account and symbol metadata
	GetSymbolLimits(ctx context.Context, symbol string) (*SymbolLimits, error)
	GetBalance(ctx context.Context) (float64, error)
}
