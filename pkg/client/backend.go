package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"perp-trade/pkg/txerr"
	"perp-trade/pkg/types"
)

const (
	DefaultBackendURL       = "https://backend-sepolia.wasabi.xyz"
	DefaultSolanaBackendURL = "https://solana-devnet.wasabi.xyz"
	DefaultGatewayURL       = "https://gateway.wasabi.xyz"
	DefaultEnv              = "test"

	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 64 << 10
)

// Options configures the backend endpoints
type Options struct {
	BackendURL       string
	SolanaBackendURL string
	GatewayURL       string
	Env              string
	HTTPClient       *http.Client
	Logger           *zap.Logger
}

// BackendClient talks to the trading backend and the market gateway
type BackendClient struct {
	backendURL       string
	solanaBackendURL string
	gatewayURL       string
	env              string
	httpClient       *http.Client
	logger           *zap.Logger
}

// NewBackendClient creates a new backend client
func NewBackendClient(opts Options) *BackendClient {
	c := &BackendClient{
		backendURL:       strings.TrimRight(opts.BackendURL, "/"),
		solanaBackendURL: strings.TrimRight(opts.SolanaBackendURL, "/"),
		gatewayURL:       strings.TrimRight(opts.GatewayURL, "/"),
		env:              opts.Env,
		httpClient:       opts.HTTPClient,
		logger:           opts.Logger,
	}
	if c.backendURL == "" {
		c.backendURL = DefaultBackendURL
	}
	if c.solanaBackendURL == "" {
		c.solanaBackendURL = DefaultSolanaBackendURL
	}
	if c.gatewayURL == "" {
		c.gatewayURL = DefaultGatewayURL
	}
	if c.env == "" {
		c.env = DefaultEnv
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("backend")
	return c
}

// BaseURL returns the trading backend serving chainID
func (c *BackendClient) BaseURL(chainID int64) string {
	if chainID == types.SolanaDevnetChainID {
		return c.solanaBackendURL
	}
	return c.backendURL
}

// APIError is a non-2xx response from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API returned status code %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// AcquireOrder converts a trade intent into an executable transaction
func (c *BackendClient) AcquireOrder(ctx context.Context, intent types.TradeIntent, chainID int64) (*types.PerpOrder, *types.OrderPayload, error) {
	endpoint := c.BaseURL(chainID) + "/api/v2/order/open"
	body := types.NewOpenOrderRequest(intent)

	var order types.PerpOrder
	if err := c.do(ctx, http.MethodPost, endpoint, body, &order); err != nil {
		return nil, nil, orderFailure(err)
	}

	payload, err := PayloadFromOrder(&order)
	if err != nil {
		return nil, nil, txerr.New(txerr.KindOrderAcquisitionFailed, txerr.MsgTransactionFail, err)
	}

	c.logger.Info("order acquired",
		zap.Int64("market_id", intent.MarketID),
		zap.String("side", intent.Side.Wire()),
		zap.String("to", payload.To.Hex()),
		zap.String("value", payload.Value.String()),
	)
	return &order, payload, nil
}

func orderFailure(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return txerr.New(txerr.KindOrderAcquisitionFailed, apiErr.Message, err)
	}
	return txerr.New(txerr.KindOrderAcquisitionFailed, txerr.MsgTransactionFail, err)
}

// PayloadFromOrder validates the call data of an order
func PayloadFromOrder(order *types.PerpOrder) (*types.OrderPayload, error) {
	cd := order.CallData
	if !common.IsHexAddress(cd.To) {
		return nil, fmt.Errorf("malformed order: invalid destination %q", cd.To)
	}
	data := []byte{}
	if cd.Data != "" && cd.Data != "0x" {
		decoded, err := hexutil.Decode(cd.Data)
		if err != nil {
			return nil, fmt.Errorf("malformed order: invalid call data: %w", err)
		}
		data = decoded
	}
	if cd.Value.Sign() < 0 {
		return nil, fmt.Errorf("malformed order: negative value")
	}
	return &types.OrderPayload{
		To:    common.HexToAddress(cd.To),
		Data:  data,
		Value: cd.Value,
	}, nil
}

// QuoteRequest describes a prospective position for pricing
type QuoteRequest struct {
	MarketID    int64
	Side        types.Side
	DownPayment types.Amount
	Leverage    float64
	MaxSlippage float64
	SpeedUp     bool
}

// FetchQuote prices a prospective position
func (c *BackendClient) FetchQuote(ctx context.Context, req QuoteRequest, chainID int64) (*types.QuoteResponse, error) {
	params := url.Values{}
	params.Set("marketId", strconv.FormatInt(req.MarketID, 10))
	params.Set("side", req.Side.Wire())
	params.Set("downPayment", req.DownPayment.String())
	params.Set("leverage", formatFloat(req.Leverage))
	params.Set("maxSlippage", formatFloat(req.MaxSlippage))
	params.Set("speedUp", strconv.FormatBool(req.SpeedUp))

	var quote types.QuoteResponse
	if err := c.do(ctx, http.MethodGet, c.BaseURL(chainID)+"/api/market/quote?"+params.Encode(), nil, &quote); err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	if quote.ErrorMessage != "" {
		return &quote, fmt.Errorf("quote error: %s", quote.ErrorMessage)
	}
	return &quote, nil
}

// FetchMarkets lists the markets with stats for chainID (0 for all chains)
func (c *BackendClient) FetchMarkets(ctx context.Context, chainID int64) (*types.Page[types.MarketStatsList], error) {
	params := url.Values{}
	params.Set("env", c.env)
	if chainID != 0 {
		params.Set("chainId", strconv.FormatInt(chainID, 10))
	}

	var page types.Page[types.MarketStatsList]
	if err := c.do(ctx, http.MethodGet, c.gatewayURL+"/markets?"+params.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to get markets: %w", err)
	}
	return &page, nil
}

// FindMarket resolves a market by numeric id or case-insensitive name
func (c *BackendClient) FindMarket(ctx context.Context, ref string, chainID int64) (*types.Market, error) {
	page, err := c.FetchMarkets(ctx, chainID)
	if err != nil {
		return nil, err
	}

	id, idErr := strconv.ParseInt(ref, 10, 64)
	normalized := normalizeMarketName(ref)
	for _, item := range page.Items {
		m := item.Market
		if idErr == nil && m.ID == id {
			return &m, nil
		}
		if normalizeMarketName(m.Name) == normalized {
			return &m, nil
		}
		if normalizeMarketName(m.Pair.BaseToken.Symbol+"/"+m.Pair.QuoteToken.Symbol) == normalized {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("market '%s' not found", ref)
}

func normalizeMarketName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "/", "_", "/", " ", "").Replace(s)
}

// PositionsQuery filters the positions portfolio
type PositionsQuery struct {
	Address         string
	SolanaAddress   string
	ChainID         int64
	MarkPriceForPnl bool
	NextPageToken   string
}

// FetchPositions returns one page of the trader's open positions
func (c *BackendClient) FetchPositions(ctx context.Context, q PositionsQuery) (*types.Page[types.PositionStatus], error) {
	params := url.Values{}
	params.Set("env", c.env)
	if q.NextPageToken != "" {
		params.Set("nextPageToken", q.NextPageToken)
	}
	if q.Address != "" {
		params.Set("address", q.Address)
	}
	if q.SolanaAddress != "" {
		params.Set("solanaAddress", q.SolanaAddress)
	}
	if q.ChainID != 0 {
		params.Set("chainId", strconv.FormatInt(q.ChainID, 10))
	}
	params.Set("markPriceForPnl", strconv.FormatBool(q.MarkPriceForPnl))

	var page types.Page[types.PositionStatus]
	if err := c.do(ctx, http.MethodGet, c.gatewayURL+"/portfolio/positions?"+params.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	return &page, nil
}

func (c *BackendClient) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	// Check for successful status codes (200-299)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response from %s: %w", endpoint, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(bodyBytes) == 0 {
		return apiErr
	}
	var errorResp struct {
		Message string `json:"message"`
	}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		apiErr.Message = errorResp.Message
	}
	return apiErr
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
