package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trigger-vault-go/internal/config"
	"trigger-vault-go/internal/models"
	"trigger-vault-go/internal/vault"
)

const (
	baseURL         = "https://api.binance.com/api/v3"
	testnetBaseURL  = "https://testnet.binance.vision/api/v3"
	recvWindow      = "5000" // How long a request is valid in milliseconds
	orderSideSell   = "SELL"
	orderTypeMarket = "MARKET"
)

// BinanceGateway is an OrderGateway backed by the Binance REST API. A single
// gateway (and its rate limiter) is shared by all tenants; only the signing
// credentials vary per call.
type BinanceGateway struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	rules   map[string]SymbolInfo
}

// ensure BinanceGateway implements the interface
var _ OrderGateway = (*BinanceGateway)(nil)

// NewBinanceGateway creates a gateway for the Binance REST API.
func NewBinanceGateway(cfg *config.Exchange, logger *zap.Logger) *BinanceGateway {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second, shared across all tenants.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &BinanceGateway{
		client:  client,
		logger:  logger.Named("binance"),
		limiter: limiter,
		rules:   make(map[string]SymbolInfo),
	}
}

// Exchange reports the venue this gateway executes on.
func (g *BinanceGateway) Exchange() models.Exchange {
	return models.ExchangeBinance
}

// sign creates a HMAC-SHA256 signature for the request with the tenant's secret.
func sign(secretKey, data string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (g *BinanceGateway) GetServerTime(ctx context.Context) (int64, error) {
	type serverTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := g.client.R().SetResult(&serverTimeResponse{})

	resp, err := g.doRead(ctx, "GET", "/time", req)
	if err != nil {
		g.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*serverTimeResponse)
	return result.ServerTime, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol. The LOT_SIZE filter carries
// the stepSize used for quantity flooring.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
}

// LoadExchangeInfo fetches exchange trading rules and caches the per-symbol
// filters for FormatQuantity. Called once at startup before any dispatch.
func (g *BinanceGateway) LoadExchangeInfo(ctx context.Context) error {
	var exchangeInfo ExchangeInfoResponse

	req := g.client.R().
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")

	resp, err := g.doRead(ctx, "GET", "/exchangeInfo", req)
	if err != nil {
		return fmt.Errorf("failed to get exchange info: %w", err)
	}

	info := resp.Result().(*ExchangeInfoResponse)
	for _, s := range info.Symbols {
		g.rules[s.Symbol] = s
	}
	g.logger.Info("Cached exchange information", zap.Int("symbols", len(g.rules)))
	return nil
}

// FormatQuantity floors quantity to the symbol's LOT_SIZE step precision.
func (g *BinanceGateway) FormatQuantity(symbol string, quantity float64) (float64, error) {
	rule, ok := g.rules[symbol]
	if !ok {
		g.logger.Warn("No exchange rule found for symbol, using default formatting", zap.String("symbol", symbol))
		return quantity, nil
	}

	var stepSize, minQtyStr string
	for _, filter := range rule.Filters {
		if filter.FilterType == "LOT_SIZE" {
			stepSize = filter.StepSize
			minQtyStr = filter.MinQty
			break
		}
	}

	if stepSize == "" {
		g.logger.Warn("LOT_SIZE filter not found, using default formatting", zap.String("symbol", symbol))
		return quantity, nil
	}

	minQty, _ := strconv.ParseFloat(minQtyStr, 64)

	// Derive decimal precision from stepSize: "0.001" -> 3, "1.00" -> 0.
	precision := 0
	dotIndex := -1
	for i, r := range stepSize {
		if r == '.' {
			dotIndex = i
			break
		}
	}
	if dotIndex != -1 {
		for i := len(stepSize) - 1; i > dotIndex; i-- {
			if stepSize[i] != '0' {
				precision = i - dotIndex
				break
			}
		}
	}

	multiplier := math.Pow(10, float64(precision))
	floored := math.Floor(quantity*multiplier) / multiplier

	if floored < minQty || floored <= 0 {
		return 0, fmt.Errorf("quantity %.8f is below minQty %.8f for symbol %s", floored, minQty, symbol)
	}

	return floored, nil
}

// createOrderResponse represents the response from creating a new order.
type createOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
}

// apiError is the error body Binance returns on a rejected request.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// PlaceSellOrder submits a market sell order signed with the tenant's keys.
// Exactly one attempt is made: a timeout leaves the order's fate unknown, and
// blindly retrying could sell the position twice.
func (g *BinanceGateway) PlaceSellOrder(ctx context.Context, keys vault.Keys, symbol string, quantity float64) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", orderSideSell)
	params.Set("type", orderTypeMarket)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", sign(keys.SecretKey, queryString))

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter wait failed: %v", ErrTransport, err)
	}

	var rejection apiError
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", keys.APIKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&createOrderResponse{}).
		SetError(&rejection).
		Execute("POST", "/order")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		if rejection.Message != "" {
			return nil, &RejectionError{Code: rejection.Code, Message: rejection.Message}
		}
		return nil, &RejectionError{Code: resp.StatusCode(), Message: resp.String()}
	}

	result := resp.Result().(*createOrderResponse)
	executedQty, _ := strconv.ParseFloat(result.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(result.CummulativeQuoteQty, 64)

	avgPrice := 0.0
	if executedQty > 0 {
		avgPrice = quoteQty / executedQty
	}

	g.logger.Info("Order placed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", result.OrderID),
		zap.Float64("executed_qty", executedQty))

	return &OrderResult{
		OrderID:     strconv.FormatInt(result.OrderID, 10),
		ExecutedQty: executedQty,
		AvgPrice:    avgPrice,
	}, nil
}

// doRead executes a read-only request with rate limiting and retry logic.
// Only idempotent endpoints go through here; order placement never retries.
func (g *BinanceGateway) doRead(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		g.logger.Debug("Executing request", zap.String("method", method), zap.String("url", g.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		g.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
