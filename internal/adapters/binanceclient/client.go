package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/pnl"
	"perpbot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Binance listen keys expire after 60 minutes without a keepalive.
	listenKeyKeepalive = 25 * time.Minute
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	symbol       string
	leverage     int
	takerFeeRate float64
	qtyStep      decimal.Decimal
	priceStep    decimal.Decimal

	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger

	Symbol       string  // Single traded symbol (e.g., "ETHUSDT")
	Leverage     int     // Leverage applied to every order
	TakerFeeRate float64 // Used for provisional fee estimates on rebuilt state

	QuantityStep float64 // Contract quantity step; quantities are floored to it
	PriceStep    float64 // Contract price tick; trigger prices are floored to it

	ReconnectDelay       time.Duration // Initial websocket reconnect delay
	MaxReconnectAttempts int           // Consecutive failures before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required for Binance client: %w", ports.ErrConfigurationError)
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive for Binance client: %w", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	qtyStep := cfg.QuantityStep
	if qtyStep <= 0 {
		qtyStep = 0.001
	}
	priceStep := cfg.PriceStep
	if priceStep <= 0 {
		priceStep = 0.01
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		symbol:               cfg.Symbol,
		leverage:             cfg.Leverage,
		takerFeeRate:         cfg.TakerFeeRate,
		qtyStep:              decimal.NewFromFloat(qtyStep),
		priceStep:            decimal.NewFromFloat(priceStep),
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -3041: // Position is not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4015: // Leverage is not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage.
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetLeverage applies the configured leverage on the exchange side. Must
// be called once before the first order.
func (c *Client) SetLeverage(ctx context.Context) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(c.symbol).
		Leverage(c.leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": c.symbol, "leverage": c.leverage})
	return nil
}

// OpenOrder places a position-opening order and returns the local view of it.
func (c *Client) OpenOrder(ctx context.Context, req ports.OpenOrderRequest) (*domain.Order, error) {
	op := "OpenOrder"
	now := time.Now()
	order := domain.NewOrder(req.Symbol, req.Side, c.floorToStep(req.Units, c.qtyStep), req.Leverage, false, c.takerFeeRate, now)

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(c.formatQty(order.Units)).
		NewClientOrderID(order.LocalID)
	switch req.Type {
	case domain.Limit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(c.formatPrice(req.ExpectedPrice)).
			TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order.UUID = strconv.FormatInt(res.OrderID, 10)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "units": order.Units,
		"orderID": order.UUID, "type": req.Type, "status": res.Status,
	})

	// Exchange-side protective orders. The position is already live, so a
	// failure here is logged and left to the price-level evaluator.
	if req.StopLossPct != nil {
		price := c.protectivePrice(req.Side, req.ExpectedPrice, *req.StopLossPct, false)
		if err := c.placeProtectiveOrder(ctx, req.Symbol, req.Side.Opposite(), futures.OrderTypeStopMarket, price, order.LocalID+"-sl"); err != nil {
			c.logger.Warn(ctx, op+": stop-loss placement failed, software trigger remains", map[string]interface{}{"orderID": order.UUID, "error": err.Error()})
		} else {
			order.StopLossPrice = price
		}
	}
	if req.TakeProfitPct != nil {
		price := c.protectivePrice(req.Side, req.ExpectedPrice, *req.TakeProfitPct, true)
		if err := c.placeProtectiveOrder(ctx, req.Symbol, req.Side.Opposite(), futures.OrderTypeTakeProfitMarket, price, order.LocalID+"-tp"); err != nil {
			c.logger.Warn(ctx, op+": take-profit placement failed, software trigger remains", map[string]interface{}{"orderID": order.UUID, "error": err.Error()})
		} else {
			order.TakeProfitPrice = price
		}
	}
	return order, nil
}

// protectivePrice derives an absolute trigger price from a fraction of the
// entry price, floored to the contract tick.
func (c *Client) protectivePrice(side domain.Side, entry, pct float64, profit bool) float64 {
	factor := 1 - pct
	if (side == domain.Buy) == profit {
		factor = 1 + pct
	}
	return c.floorToStep(entry*factor, c.priceStep)
}

func (c *Client) placeProtectiveOrder(ctx context.Context, symbol string, side domain.Side, orderType futures.OrderType, stopPrice float64, clientID string) error {
	op := "PlaceProtectiveOrder"
	_, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(orderType).
		StopPrice(c.formatPrice(stopPrice)).
		ClosePosition(true).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "type": orderType, "stopPrice": stopPrice})
	return nil
}

// AmendOrder modifies a resting order. Binance futures has no in-place
// amendment, so a pure units reduction is a cancel of the resting
// remainder; anything else is cancel-and-replace. Returns false when the
// exchange rejected the change without a transport failure.
func (c *Client) AmendOrder(ctx context.Context, orderUUID string, req ports.AmendOrderRequest) (bool, error) {
	op := "AmendOrder"
	orderID, err := strconv.ParseInt(orderUUID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%s: bad order id %q: %w", op, orderUUID, ports.ErrInvalidRequest)
	}

	current, err := c.futuresClient.NewGetOrderService().Symbol(c.symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		err = c.handleError(ctx, err, op)
		if errors.Is(err, ports.ErrOrderNotFound) {
			return false, nil
		}
		return false, err
	}
	executed, _ := strconv.ParseFloat(current.ExecutedQuantity, 64)

	if _, err := c.futuresClient.NewCancelOrderService().Symbol(c.symbol).OrderID(orderID).Do(ctx); err != nil {
		err = c.handleError(ctx, err, op)
		if errors.Is(err, ports.ErrOrderNotFound) || errors.Is(err, ports.ErrOrderCancelFailed) {
			// Already filled or gone; nothing left to amend.
			return false, nil
		}
		return false, err
	}

	// A reduction to at most the executed quantity leaves nothing to
	// re-place: the cancel itself is the amendment.
	if req.Units != nil && *req.Units <= executed {
		c.logger.Info(ctx, op+": resting remainder cancelled", map[string]interface{}{"orderID": orderUUID, "executed": executed, "units": *req.Units})
		return true, nil
	}

	units := executed
	if req.Units != nil {
		units = *req.Units
	}
	price, _ := strconv.ParseFloat(current.Price, 64)
	if req.Price != nil {
		price = *req.Price
	}
	remaining := units - executed
	if remaining <= 0 {
		return true, nil
	}
	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(c.symbol).
		Side(current.Side).
		Type(futures.OrderTypeLimit).
		Quantity(c.formatQty(c.floorToStep(remaining, c.qtyStep))).
		Price(c.formatPrice(price)).
		TimeInForce(futures.TimeInForceTypeGTC).
		NewClientOrderID(current.ClientOrderID + "-r").
		Do(ctx)
	if err != nil {
		return false, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"orderID": orderUUID, "units": units, "price": price})
	return true, nil
}

// TryClosePosition places the close order for the trade's open size,
// subject to the position lock policy.
func (c *Client) TryClosePosition(ctx context.Context, trade *domain.Trade, orderType domain.OrderType, price float64, lock domain.PositionLock) (*domain.Order, error) {
	op := "TryClosePosition"
	size := trade.OpenSize()
	if size <= 0 {
		return nil, fmt.Errorf("%s: trade %s has no open size: %w", op, trade.Key(), ports.ErrPositionNotFound)
	}

	unrealized := pnl.UnrealizedPnL(trade, price)
	switch lock {
	case domain.LockFee:
		if fees := pnl.TotalFees(trade); fees >= absFloat(unrealized) {
			return nil, fmt.Errorf("%s: fees %.8f exceed unrealized pnl %.8f: %w", op, fees, unrealized, ports.ErrPositionLocked)
		}
	case domain.LockLoss:
		if unrealized <= 0 {
			return nil, fmt.Errorf("%s: unrealized pnl %.8f not positive: %w", op, unrealized, ports.ErrPositionLocked)
		}
	}

	order := domain.NewOrder(trade.Symbol, trade.Side().Opposite(), c.ceilToStep(size, c.qtyStep), trade.OpenOrder.Leverage, true, c.takerFeeRate, time.Now())
	svc := c.futuresClient.NewCreateOrderService().
		Symbol(trade.Symbol).
		Side(futures.SideType(order.Side)).
		Quantity(c.formatQty(order.Units)).
		ReduceOnly(true).
		NewClientOrderID(order.LocalID)
	switch orderType {
	case domain.Limit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(c.formatPrice(price)).
			TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order.UUID = strconv.FormatInt(res.OrderID, 10)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": trade.Symbol, "side": order.Side, "units": order.Units,
		"orderID": order.UUID, "type": orderType, "status": res.Status,
	})
	return order, nil
}

// CancelOrder cancels a resting order by exchange id. Returns false
// without error when the order is already gone.
func (c *Client) CancelOrder(ctx context.Context, orderUUID string) (bool, error) {
	op := "CancelOrder"
	orderID, err := strconv.ParseInt(orderUUID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%s: bad order id %q: %w", op, orderUUID, ports.ErrInvalidRequest)
	}

	res, err := c.futuresClient.NewCancelOrderService().Symbol(c.symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		err = c.handleError(ctx, err, op)
		if errors.Is(err, ports.ErrOrderNotFound) {
			return false, nil
		}
		return false, err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": c.symbol, "orderID": orderUUID, "status": res.Status})
	return true, nil
}

// FetchCurrentPositionTrade pulls the exchange's authoritative open
// position and rebuilds a Trade from it. Returns nil, nil when flat.
//
// The rebuilt trade carries a single synthetic execution for the whole
// position; the original per-fill history is not recoverable from the
// position endpoint. Its fee is estimated at the taker rate.
func (c *Client) FetchCurrentPositionTrade(ctx context.Context) (*domain.Trade, error) {
	op := "FetchCurrentPositionTrade"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(c.symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(positions) == 0 {
		c.logger.Debug(ctx, op+": no position found", map[string]interface{}{"symbol": c.symbol})
		return nil, nil
	}

	pos := positions[0]
	amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	if amt == 0 {
		c.logger.Debug(ctx, op+": position amount is zero", map[string]interface{}{"symbol": c.symbol})
		return nil, nil
	}
	entryPrice, err := strconv.ParseFloat(pos.EntryPrice, 64)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not parse entry price '%s': %w", pos.EntryPrice, err), op)
	}
	leverage, err := strconv.Atoi(pos.Leverage)
	if err != nil || leverage <= 0 {
		leverage = c.leverage
	}

	side := domain.Buy
	size := amt
	if amt < 0 {
		side = domain.Sell
		size = -amt
	}

	now := time.Now()
	order := domain.NewOrder(c.symbol, side, size, leverage, false, c.takerFeeRate, now)
	order.UUID = fmt.Sprintf("position-%s-%d", c.symbol, now.UnixMilli())
	order.MergeExecution(domain.Execution{
		ID:        order.UUID + "-rebuild",
		OrderUUID: order.UUID,
		Price:     entryPrice,
		Qty:       size,
		Fee:       entryPrice * size * c.takerFeeRate,
		FeeRate:   c.takerFeeRate,
		Timestamp: now,
	})

	c.logger.Info(ctx, op+": position rebuilt", map[string]interface{}{
		"symbol": c.symbol, "side": side, "units": size, "entryPrice": entryPrice, "leverage": leverage,
	})
	return domain.NewTrade(order), nil
}

// FetchOrderExecutions pulls the fills for one order inside [start, end].
func (c *Client) FetchOrderExecutions(ctx context.Context, orderUUID string, start, end time.Time) ([]domain.Execution, error) {
	op := "FetchOrderExecutions"
	orderID, err := strconv.ParseInt(orderUUID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: bad order id %q: %w", op, orderUUID, ports.ErrInvalidRequest)
	}

	// The account trade endpoint does not expose reduce-only, so the
	// order itself decides whether fills count as closed quantity.
	order, err := c.futuresClient.NewGetOrderService().Symbol(c.symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	isClose := order.ReduceOnly || order.ClosePosition

	svc := c.futuresClient.NewListAccountTradeService().Symbol(c.symbol)
	if !start.IsZero() {
		svc = svc.StartTime(start.UnixMilli())
	}
	if !end.IsZero() {
		svc = svc.EndTime(end.UnixMilli())
	}
	fills, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	executions := make([]domain.Execution, 0, len(fills))
	for _, f := range fills {
		if f.OrderID != orderID {
			continue
		}
		exec, err := translateAccountTrade(f, orderUUID, isClose, c.takerFeeRate)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		executions = append(executions, exec)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"orderID": orderUUID, "fills": len(executions)})
	return executions, nil
}

// FetchOrderState pulls one authoritative order snapshot, classified as
// the order event the push channel would have delivered. The snapshot
// carries no fills; those come from FetchOrderExecutions.
func (c *Client) FetchOrderState(ctx context.Context, orderUUID string) (*ports.OrderEvent, error) {
	op := "FetchOrderState"
	orderID, err := strconv.ParseInt(orderUUID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: bad order id %q: %w", op, orderUUID, ports.ErrInvalidRequest)
	}

	res, err := c.futuresClient.NewGetOrderService().Symbol(c.symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	units, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	avgPrice, _ := strconv.ParseFloat(res.AvgPrice, 64)
	// Construct through the domain so the status stays a derived value;
	// fills are merged engine-side, never synthesized from the snapshot.
	order := domain.NewOrder(res.Symbol, domain.Side(res.Side), units, c.leverage,
		res.ReduceOnly || res.ClosePosition, c.takerFeeRate, time.UnixMilli(res.Time))
	order.LocalID = res.ClientOrderID
	order.UUID = orderUUID
	order.IsStop = isStopOrderType(res.Type)
	order.StopReason = stopReasonOf(res.Type)
	order.AvgFillPrice = avgPrice
	order.UpdatedAt = time.UnixMilli(res.UpdateTime)

	kind := ports.OrderEventUpdate
	switch res.Status {
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		kind = ports.OrderEventCancel
	default:
		if order.IsStop {
			kind = ports.OrderEventStop
		}
	}
	return &ports.OrderEvent{Kind: kind, Order: order}, nil
}

// FetchBalance pulls the current balance for one asset.
func (c *Client) FetchBalance(ctx context.Context, asset string) (*ports.Balance, error) {
	op := "FetchBalance"
	balances, err := c.futuresClient.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, b := range balances {
		if b.Asset != asset {
			continue
		}
		total, err := strconv.ParseFloat(b.Balance, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse balance '%s' for asset %s: %w", b.Balance, asset, err), op)
		}
		available, err := strconv.ParseFloat(b.AvailableBalance, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse available balance '%s' for asset %s: %w", b.AvailableBalance, asset, err), op)
		}
		return &ports.Balance{Asset: asset, Available: available, Total: total, UpdatedAt: time.Now()}, nil
	}
	err = fmt.Errorf("asset %s not found in account balance", asset)
	return nil, c.handleError(ctx, err, op)
}

// LastPrice returns the most recent traded price for the symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	op := "LastPrice"
	prices, err := c.futuresClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// StreamUserData starts the user-data push channel and keeps it alive:
// listen key acquisition, keepalive heartbeat and reconnection with
// exponential backoff. The handlers receive translated order, execution
// and balance events.
func (c *Client) StreamUserData(ctx context.Context, handlers ports.StreamHandlers) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamUserData"
	wsCtx, cancelWs := context.WithCancel(ctx)

	listenKey, err := c.futuresClient.NewStartUserStreamService().Do(ctx)
	if err != nil {
		cancelWs()
		return nil, nil, c.handleError(ctx, err, op)
	}

	wsHandler := func(event *futures.WsUserDataEvent) {
		c.dispatchUserDataEvent(wsCtx, event, handlers)
	}
	wsErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"error": translatedErr})
		if handlers.OnError != nil {
			handlers.OnError(translatedErr)
		}
	}

	// Keepalive heartbeat; the key expires after an hour of silence.
	go func() {
		ticker := time.NewTicker(listenKeyKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-wsCtx.Done():
				return
			case <-ticker.C:
				if err := c.futuresClient.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(wsCtx); err != nil {
					c.handleError(wsCtx, err, op+" keepalive")
				}
			}
		}
	}()

	// Reconnection loop.
	go func() {
		defer cancelWs()
		retry := &backoff.Backoff{Min: c.reconnectDelay, Max: time.Minute, Factor: 2, Jitter: true}

		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": context cancelled, stopping connection attempts")
				return
			default:
			}

			c.logger.Info(wsCtx, op+": attempting WebSocket connection", map[string]interface{}{"attempt": int(retry.Attempt()) + 1})
			innerDoneCh, innerStopCh, connectErr := futures.WsUserDataServe(listenKey, wsHandler, wsErrHandler)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				if handlers.OnError != nil {
					handlers.OnError(connectErr)
				}
				if int(retry.Attempt()) >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
					return
				}
				select {
				case <-time.After(retry.Duration()):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established")
			retry.Reset()

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly, reconnecting")
				if handlers.OnError != nil {
					handlers.OnError(fmt.Errorf("%s: connection closed: %w", op, ports.ErrConnectionFailed))
				}
				select {
				case <-time.After(retry.Duration()):
				case <-wsCtx.Done():
					return
				}
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": context cancelled, stopping WebSocket")
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := c.futuresClient.NewCloseUserStreamService().ListenKey(listenKey).Do(closeCtx); err != nil {
					c.handleError(closeCtx, err, op+" close stream")
				}
				cancel()
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": received external stop signal, cancelling WebSocket context")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// dispatchUserDataEvent translates one raw user-data event and fans it
// out. Executions are delivered before the order snapshot so a fill is
// buffered by the time its order update is applied.
func (c *Client) dispatchUserDataEvent(ctx context.Context, event *futures.WsUserDataEvent, handlers ports.StreamHandlers) {
	if event == nil {
		return
	}
	switch event.Event {
	case futures.UserDataEventTypeOrderTradeUpdate:
		u := event.OrderTradeUpdate
		if u.Symbol != c.symbol {
			return
		}
		if u.ExecutionType == futures.OrderExecutionTypeTrade && handlers.OnExecutions != nil {
			exec, err := translateWsFill(&u, c.takerFeeRate)
			if err != nil {
				c.logger.Error(ctx, err, "Failed to translate WebSocket fill", map[string]interface{}{"orderID": u.ID})
			} else {
				handlers.OnExecutions([]domain.Execution{exec})
			}
		}
		if handlers.OnOrder != nil {
			handlers.OnOrder(translateWsOrderUpdate(&u, c.leverage, c.takerFeeRate, event.Time))
		}
	case futures.UserDataEventTypeAccountUpdate:
		if handlers.OnBalance == nil {
			return
		}
		for _, b := range event.AccountUpdate.Balances {
			total, err := strconv.ParseFloat(b.Balance, 64)
			if err != nil {
				c.logger.Error(ctx, err, "Failed to parse pushed balance", map[string]interface{}{"asset": b.Asset})
				continue
			}
			cross, _ := strconv.ParseFloat(b.CrossWalletBalance, 64)
			handlers.OnBalance(ports.Balance{
				Asset:     b.Asset,
				Available: cross,
				Total:     total,
				UpdatedAt: time.UnixMilli(event.Time),
			})
		}
	case futures.UserDataEventTypeListenKeyExpired:
		c.logger.Warn(ctx, "User-data listen key expired", nil)
		if handlers.OnError != nil {
			handlers.OnError(fmt.Errorf("listen key expired: %w", ports.ErrConnectionFailed))
		}
	}
}

// GetKlines retrieves the most recent historical bars for the symbol,
// used to warm up the strategy collaborator before streaming.
func (c *Client) GetKlines(ctx context.Context, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	raw, err := c.futuresClient.NewKlinesService().Symbol(c.symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	klines := make([]*domain.Kline, 0, len(raw))
	for _, bk := range raw {
		dk, err := translateHistoricalKline(bk, c.symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// StreamKlines starts the market-data stream for the symbol, delivering
// each bar update to the handler. Reconnects with backoff on failure.
func (c *Client) StreamKlines(ctx context.Context, interval string, handler func(*domain.Kline), errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	wsCtx, cancelWs := context.WithCancel(ctx)

	binanceHandler := func(event *futures.WsKlineEvent) {
		bar, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate WebSocket kline event")
			return
		}
		handler(bar)
	}
	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"error": translatedErr})
		if errHandler != nil {
			errHandler(translatedErr)
		}
	}

	go func() {
		defer cancelWs()
		retry := &backoff.Backoff{Min: c.reconnectDelay, Max: time.Minute, Factor: 2, Jitter: true}

		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": context cancelled, stopping connection attempts", map[string]interface{}{"symbol": c.symbol, "interval": interval})
				return
			default:
			}

			c.logger.Info(wsCtx, op+": attempting WebSocket connection", map[string]interface{}{"symbol": c.symbol, "interval": interval, "attempt": int(retry.Attempt()) + 1})
			innerDoneCh, innerStopCh, connectErr := futures.WsKlineServe(c.symbol, interval, binanceHandler, binanceErrHandler)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				if int(retry.Attempt()) >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
					return
				}
				select {
				case <-time.After(retry.Duration()):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established", map[string]interface{}{"symbol": c.symbol, "interval": interval})
			retry.Reset()

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly, reconnecting", map[string]interface{}{"symbol": c.symbol, "interval": interval})
				select {
				case <-time.After(retry.Duration()):
				case <-wsCtx.Done():
					return
				}
			case <-wsCtx.Done():
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})
	go func() {
		select {
		case <-stopCh:
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()
	return doneCh, stopCh, nil
}

// --- Translation Helpers ---

func translateWsOrderUpdate(u *futures.WsOrderTradeUpdate, leverage int, takerFeeRate float64, eventTime int64) ports.OrderEvent {
	units, _ := strconv.ParseFloat(u.OriginalQty, 64)
	avgPrice, _ := strconv.ParseFloat(u.AveragePrice, 64)
	stopPrice, _ := strconv.ParseFloat(u.StopPrice, 64)

	// The stream update has no order-creation time, so the event time
	// stands in. Construct through the domain so the status stays a
	// derived value; the matching fills arrive via translateWsFill.
	order := domain.NewOrder(u.Symbol, domain.Side(u.Side), units, leverage,
		u.IsReduceOnly || u.IsClosingPosition, takerFeeRate, time.UnixMilli(eventTime))
	order.LocalID = u.ClientOrderID
	order.UUID = strconv.FormatInt(u.ID, 10)
	order.IsStop = isStopOrderType(u.Type)
	order.StopReason = stopReasonOf(u.Type)
	order.AvgFillPrice = avgPrice
	if order.IsStop {
		switch u.Type {
		case futures.OrderTypeStopMarket, futures.OrderTypeStop:
			order.StopLossPrice = stopPrice
		default:
			order.TakeProfitPrice = stopPrice
		}
	}

	kind := ports.OrderEventUpdate
	switch u.Status {
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		kind = ports.OrderEventCancel
	default:
		if order.IsStop {
			kind = ports.OrderEventStop
		}
	}
	return ports.OrderEvent{Kind: kind, Order: order}
}

func translateWsFill(u *futures.WsOrderTradeUpdate, takerFeeRate float64) (domain.Execution, error) {
	price, err := strconv.ParseFloat(u.LastFilledPrice, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("parsing fill price '%s': %w", u.LastFilledPrice, err)
	}
	qty, err := strconv.ParseFloat(u.LastFilledQty, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("parsing fill quantity '%s': %w", u.LastFilledQty, err)
	}
	fee, _ := strconv.ParseFloat(u.Commission, 64)

	exec := domain.Execution{
		ID:        strconv.FormatInt(u.TradeID, 10),
		OrderUUID: strconv.FormatInt(u.ID, 10),
		Price:     price,
		Qty:       qty,
		Fee:       fee,
		FeeRate:   takerFeeRate,
		IsMaker:   u.IsMaker,
		Timestamp: time.UnixMilli(u.TradeTime),
	}
	if u.IsReduceOnly || u.IsClosingPosition {
		exec.ClosedQty = qty
	}
	return exec, nil
}

func translateAccountTrade(f *futures.AccountTrade, orderUUID string, isClose bool, takerFeeRate float64) (domain.Execution, error) {
	price, err := strconv.ParseFloat(f.Price, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("parsing trade price '%s': %w", f.Price, err)
	}
	qty, err := strconv.ParseFloat(f.Quantity, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("parsing trade quantity '%s': %w", f.Quantity, err)
	}
	fee, _ := strconv.ParseFloat(f.Commission, 64)

	exec := domain.Execution{
		ID:        strconv.FormatInt(f.ID, 10),
		OrderUUID: orderUUID,
		Price:     price,
		Qty:       qty,
		Fee:       fee,
		FeeRate:   takerFeeRate,
		IsMaker:   f.Maker,
		Timestamp: time.UnixMilli(f.Time),
	}
	if isClose {
		exec.ClosedQty = qty
	}
	return exec, nil
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}

func translateHistoricalKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true, // Historical klines are always final
	}, nil
}

func isStopOrderType(t futures.OrderType) bool {
	switch t {
	case futures.OrderTypeStop, futures.OrderTypeStopMarket,
		futures.OrderTypeTakeProfit, futures.OrderTypeTakeProfitMarket:
		return true
	}
	return false
}

func stopReasonOf(t futures.OrderType) domain.StopReason {
	switch t {
	case futures.OrderTypeStop, futures.OrderTypeStopMarket:
		return domain.StopReasonStopLoss
	case futures.OrderTypeTakeProfit, futures.OrderTypeTakeProfitMarket:
		return domain.StopReasonTakeProfit
	}
	return domain.StopReasonNone
}

func (c *Client) floorToStep(value float64, step decimal.Decimal) float64 {
	v := decimal.NewFromFloat(value)
	f, _ := v.Div(step).Floor().Mul(step).Float64()
	return f
}

func (c *Client) ceilToStep(value float64, step decimal.Decimal) float64 {
	v := decimal.NewFromFloat(value)
	f, _ := v.Div(step).Ceil().Mul(step).Float64()
	return f
}

func (c *Client) formatQty(qty float64) string {
	return decimal.NewFromFloat(qty).String()
}

func (c *Client) formatPrice(price float64) string {
	return decimal.NewFromFloat(price).String()
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
