package client

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-trade/pkg/txerr"
	"perp-trade/pkg/types"
)

func testIntent() types.TradeIntent {
	return types.TradeIntent{
		MarketID:    12,
		Side:        types.SideLong,
		DownPayment: types.AmountFromInt64(1_000_000),
		Leverage:    3,
		MaxSlippage: 1,
		SpeedUp:     true,
		Payer:       "0x00000000000000000000000000000000000000a1",
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*BackendClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBackendClient(Options{
		BackendURL:       srv.URL,
		SolanaBackendURL: srv.URL + "/solana",
		GatewayURL:       srv.URL + "/gw",
	}), srv
}

func TestAcquireOrderSendsIntent(t *testing.T) {
	var body map[string]interface{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/order/open", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{
			"request": {"id": 1, "downPayment": "1000000", "principal": 2000000},
			"callData": {"to": "0x00000000000000000000000000000000000000c3", "data": "0xdeadbeef", "value": "0x10"}
		}`))
	})

	order, payload, err := c.AcquireOrder(context.Background(), testIntent(), 11155111)
	require.NoError(t, err)

	assert.Equal(t, float64(12), body["marketId"])
	assert.Equal(t, "LONG", body["side"])
	assert.Equal(t, "1000000", body["downPayment"])
	assert.Equal(t, float64(3), body["leverage"])
	assert.Equal(t, float64(1), body["maxSlippage"])
	assert.Equal(t, true, body["speedUp"])
	assert.Equal(t, "NATIVE", body["payInType"])
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", body["address"])

	assert.Equal(t, "2000000", order.Request.Principal.String())
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c3"), payload.To)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, payload.Data)
	assert.Equal(t, 0, big.NewInt(16).Cmp(payload.Value.Int()))
}

func TestAcquireOrderUsesSolanaBackend(t *testing.T) {
	var path string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"callData": {"to": "0x00000000000000000000000000000000000000c3", "data": "0x", "value": 0}}`))
	})

	_, payload, err := c.AcquireOrder(context.Background(), testIntent(), types.SolanaDevnetChainID)
	require.NoError(t, err)
	require.Equal(t, "/solana/api/v2/order/open", path)
	require.Empty(t, payload.Data)
	require.True(t, payload.Value.IsZero())
}

func TestAcquireOrderBackendMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "market closed"}`))
	})

	_, _, err := c.AcquireOrder(context.Background(), testIntent(), 1)
	require.Error(t, err)
	require.Equal(t, txerr.KindOrderAcquisitionFailed, txerr.KindOf(err))
	require.Equal(t, "market closed", txerr.Message(err))
}

func TestAcquireOrderFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"server error without message", http.StatusInternalServerError, `oops`, txerr.MsgTransactionFail},
		{"empty message", http.StatusBadGateway, `{"message": ""}`, txerr.MsgTransactionFail},
		{"malformed json", http.StatusOK, `{"callData":`, txerr.MsgTransactionFail},
		{"missing destination", http.StatusOK, `{"callData": {"data": "0x00"}}`, txerr.MsgTransactionFail},
		{"non-hex data", http.StatusOK, `{"callData": {"to": "0x00000000000000000000000000000000000000c3", "data": "zz"}}`, txerr.MsgTransactionFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, _, err := c.AcquireOrder(context.Background(), testIntent(), 1)
			require.Error(t, err)
			require.Equal(t, txerr.KindOrderAcquisitionFailed, txerr.KindOf(err))
			require.Equal(t, tt.message, txerr.Message(err))
		})
	}
}

func TestFetchQuote(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/market/quote", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "7", q.Get("marketId"))
		require.Equal(t, "SHORT", q.Get("side"))
		require.Equal(t, "500", q.Get("downPayment"))
		require.Equal(t, "2.5", q.Get("leverage"))
		require.Equal(t, "0.5", q.Get("maxSlippage"))
		require.Equal(t, "false", q.Get("speedUp"))
		_, _ = w.Write([]byte(`{"side": "SHORT", "entryPrice": 3100.5, "liquidationPrice": 4000, "outputSize": "1250"}`))
	})

	quote, err := c.FetchQuote(context.Background(), QuoteRequest{
		MarketID:    7,
		Side:        types.SideShort,
		DownPayment: types.AmountFromInt64(500),
		Leverage:    2.5,
		MaxSlippage: 0.5,
	}, 1)
	require.NoError(t, err)
	require.Equal(t, 3100.5, quote.EntryPrice)
	require.Equal(t, "1250", quote.OutputSize.String())
}

func TestFetchQuoteErrorMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorMessage": "insufficient liquidity"}`))
	})
	_, err := c.FetchQuote(context.Background(), QuoteRequest{MarketID: 1, Side: types.SideLong}, 1)
	require.ErrorContains(t, err, "insufficient liquidity")
}

const marketsBody = `{
	"hasNextPage": false,
	"items": [
		{"market": {"id": 1, "name": "WETH/USDC", "chainId": 11155111, "maxLeverage": 5,
			"pair": {"baseToken": {"symbol": "WETH"}, "quoteToken": {"symbol": "USDC", "address": "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", "decimals": 6}}},
		 "tokenStats": {"symbol": "WETH", "priceUsd": 3000}},
		{"market": {"id": 2, "name": "PEPE-USDC", "chainId": 11155111,
			"pair": {"baseToken": {"symbol": "PEPE"}, "quoteToken": {"symbol": "USDC"}}}}
	]
}`

func TestFetchMarketsAndFind(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gw/markets", r.URL.Path)
		require.Equal(t, "test", r.URL.Query().Get("env"))
		require.Equal(t, "11155111", r.URL.Query().Get("chainId"))
		_, _ = w.Write([]byte(marketsBody))
	})

	page, err := c.FetchMarkets(context.Background(), 11155111)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, 3000.0, page.Items[0].TokenStats.PriceUSD)

	tests := map[string]int64{
		"1":         1,
		"weth/usdc": 1,
		"WETH-USDC": 1,
		"pepe/usdc": 2,
		"2":         2,
	}
	for ref, want := range tests {
		m, err := c.FindMarket(context.Background(), ref, 11155111)
		require.NoErrorf(t, err, "FindMarket(%q)", ref)
		require.Equalf(t, want, m.ID, "FindMarket(%q)", ref)
	}

	_, err = c.FindMarket(context.Background(), "DOGE/USDC", 11155111)
	require.ErrorContains(t, err, "not found")
}

func TestFetchPositions(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gw/portfolio/positions", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "0xabc", q.Get("address"))
		require.Equal(t, "true", q.Get("markPriceForPnl"))
		require.Equal(t, "tok", q.Get("nextPageToken"))
		_, _ = w.Write([]byte(`{"hasNextPage": true, "nextPageToken": "next", "items": [
			{"position": {"id": 9, "side": "long", "leverage": 3}, "pnl": "-15", "markPrice": 2990}
		]}`))
	})

	page, err := c.FetchPositions(context.Background(), PositionsQuery{
		Address:         "0xabc",
		ChainID:         11155111,
		MarkPriceForPnl: true,
		NextPageToken:   "tok",
	})
	require.NoError(t, err)
	require.True(t, page.HasNextPage)
	require.Equal(t, "next", page.NextPageToken)
	require.Len(t, page.Items, 1)
	require.Equal(t, "-15", page.Items[0].PnL.String())
	require.Equal(t, -1, page.Items[0].PnL.Sign())
}
