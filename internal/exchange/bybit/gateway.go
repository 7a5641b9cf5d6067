package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
)

// category is the Bybit product category for USDT perpetual futures.
const category = "linear"

// defaultMaintenanceMarginRate is the tier-1 USDT-perp rate applied
// when the config does not override it.
const defaultMaintenanceMarginRate = 0.005

// Gateway adapts the Bybit v5 unified trading API to the exchange
// Gateway interface. All orders use the linear category; the caller's
// clientOrderID rides in orderLinkId so fills can be correlated.
type Gateway struct {
	client *Client
	mmr    float64
}

// NewGateway creates a Bybit-backed gateway.
func NewGateway(config Config) *Gateway {
	mmr := config.MaintenanceMarginRate
	if mmr <= 0 {
		mmr = defaultMaintenanceMarginRate
	}
	return &Gateway{
		client: NewClient(config),
		mmr:    mmr,
	}
}

// GetName returns the gateway identifier including the environment.
func (g *Gateway) GetName() string {
	return "bybit-" + g.client.GetEnvironment()
}

// PlaceOrder submits an order to Bybit.
func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	params := map[string]interface{}{
		"category":  category,
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": string(req.Type),
		"qty":       formatQty(req.Quantity),
	}
	if req.Type == exchange.OrderTypeLimit {
		params["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	}
	if req.ClientOrderID != "" {
		params["orderLinkId"] = req.ClientOrderID
	}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}

	response, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	result, err := decodeResult(response)
	if err != nil {
		return nil, err
	}

	var placed struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(result, &placed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order result: %w", err)
	}

	return &exchange.OrderResult{
		OrderID:       placed.OrderID,
		ClientOrderID: placed.OrderLinkID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        exchange.OrderStatusSubmitted,
		Timestamp:     time.Now(),
	}, nil
}

// CancelOrder cancels an order. A "not found" response means the order
// already resolved on the exchange; that is reported as not canceled,
// not as an error.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	response, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}

	if _, err := decodeResult(response); err != nil {
		if IsOrderNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetOrderStatus looks an order up among open orders first, then in
// recent history once it has left the open set.
func (g *Gateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderResult, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	response, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}
	if result, found, err := g.findOrder(response, orderID); err != nil {
		return nil, err
	} else if found {
		return result, nil
	}

	response, err = g.client.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	if result, found, err := g.findOrder(response, orderID); err != nil {
		return nil, err
	} else if found {
		return result, nil
	}

	return nil, &APIError{Code: ErrCodeOrderNotFound, Message: fmt.Sprintf("order %s not found", orderID)}
}

// GetSymbolLimits fetches the instrument's trading constraints.
func (g *Gateway) GetSymbolLimits(ctx context.Context, symbol string) (*exchange.SymbolLimits, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	response, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instrument info: %w", err)
	}

	result, err := decodeResult(response)
	if err != nil {
		return nil, err
	}

	var info struct {
		List []struct {
			Symbol         string `json:"symbol"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
			LotSizeFilter struct {
				MinNotionalValue string `json:"minNotionalValue"`
				MinOrderQty      string `json:"minOrderQty"`
				MaxOrderQty      string `json:"maxOrderQty"`
				QtyStep          string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instrument info: %w", err)
	}

	for _, instrument := range info.List {
		if instrument.Symbol != symbol {
			continue
		}
		return &exchange.SymbolLimits{
			Symbol:                symbol,
			MinNotional:           parseFloat(instrument.LotSizeFilter.MinNotionalValue),
			MinQty:                parseFloat(instrument.LotSizeFilter.MinOrderQty),
			MaxQty:                parseFloat(instrument.LotSizeFilter.MaxOrderQty),
			QtyStep:               parseFloat(instrument.LotSizeFilter.QtyStep),
			MaxLeverage:           int(parseFloat(instrument.LeverageFilter.MaxLeverage)),
			MaintenanceMarginRate: g.mmr,
			FetchedAt:             time.Now(),
		}, nil
	}

	return nil, &APIError{Code: ErrCodeSymbolNotFound, Message: fmt.Sprintf("symbol %s not found", symbol)}
}

// GetBalance returns the unified account's available USDT balance.
func (g *Gateway) GetBalance(ctx context.Context) (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	response, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get account balance: %w", err)
	}

	result, err := decodeResult(response)
	if err != nil {
		return 0, err
	}

	var wallet struct {
		List []struct {
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			Coin                  []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &wallet); err != nil {
		return 0, fmt.Errorf("failed to unmarshal wallet response: %w", err)
	}

	for _, account := range wallet.List {
		if balance := parseFloat(account.TotalAvailableBalance); balance > 0 {
			return balance, nil
		}
		for _, coin := range account.Coin {
			if coin.Coin == "USDT" {
				return parseFloat(coin.WalletBalance), nil
			}
		}
	}

	return 0, fmt.Errorf("no USDT balance found in unified account")
}

// findOrder scans an order-list response for the given orderID.
func (g *Gateway) findOrder(response interface{}, orderID string) (*exchange.OrderResult, bool, error) {
	result, err := decodeResult(response)
	if err != nil {
		return nil, false, err
	}

	var orders struct {
		List []struct {
			OrderID      string `json:"orderId"`
			OrderLinkID  string `json:"orderLinkId"`
			Symbol       string `json:"symbol"`
			Side         string `json:"side"`
			OrderStatus  string `json:"orderStatus"`
			AvgPrice     string `json:"avgPrice"`
			CumExecQty   string `json:"cumExecQty"`
			RejectReason string `json:"rejectReason"`
			UpdatedTime  string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &orders); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal orders response: %w", err)
	}

	for _, item := range orders.List {
		if item.OrderID != orderID {
			continue
		}
		return &exchange.OrderResult{
			OrderID:        item.OrderID,
			ClientOrderID:  item.OrderLinkID,
			Symbol:         item.Symbol,
			Side:           exchange.OrderSide(item.Side),
			Status:         mapOrderStatus(item.OrderStatus),
			AvgFillPrice:   parseFloat(item.AvgPrice),
			FilledQuantity: parseFloat(item.CumExecQty),
			ErrorDetail:    item.RejectReason,
			Timestamp:      parseTimestamp(item.UpdatedTime),
		}, true, nil
	}
	return nil, false, nil
}

// mapOrderStatus translates Bybit order states to lifecycle statuses.
func mapOrderStatus(status string) exchange.OrderStatus {
	switch status {
	case "New", "Untriggered", "Created":
		return exchange.OrderStatusSubmitted
	case "PartiallyFilled":
		return exchange.OrderStatusPartiallyFilled
	case "Filled":
		return exchange.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return exchange.OrderStatusCanceled
	case "Rejected":
		return exchange.OrderStatusRejected
	default:
		return exchange.OrderStatusSubmitted
	}
}

// decodeResult validates the API envelope and re-marshals Result for
// typed decoding.
func decodeResult(response interface{}) ([]byte, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type %T", response)
	}
	if serverResp.RetCode != 0 {
		return nil, ParseAPIError(serverResp.RetCode, serverResp.RetMsg)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return resultBytes, nil
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return value
}

func parseTimestamp(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
