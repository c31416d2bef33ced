package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-trade/pkg/types"
)

func TestParseTradeCommand(t *testing.T) {
	tests := []struct {
		input    string
		side     types.Side
		amount   string
		market   string
		leverage float64
	}{
		{"long 100 ETH/USDC", types.SideLong, "100", "ETH/USDC", DefaultLeverage},
		{"short 0.5 weth-usdc 5x", types.SideShort, "0.5", "WETH-USDC", 5},
		{"open long 250 12 at 2.5x", types.SideLong, "250", "12", 2.5},
		{"  LONG   .25  pepe_usdc  1X ", types.SideLong, "0.25", "PEPE_USDC", 1},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := ParseTradeCommand(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.side, cmd.Side)
			assert.Equal(t, tt.amount, cmd.Amount.String())
			assert.Equal(t, tt.market, cmd.Market)
			assert.Equal(t, tt.leverage, cmd.Leverage)
		})
	}
}

func TestParseTradeCommandErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"buy 100 ETH/USDC",
		"long ETH/USDC",
		"long -5 ETH/USDC",
		"long 0 ETH/USDC",
		"short 10 ETH/USDC 0.5x",
		"long 10 ETH/USDC 3x extra",
	} {
		_, err := ParseTradeCommand(input)
		assert.Errorf(t, err, "ParseTradeCommand(%q)", input)
	}
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"1", 6, "1000000"},
		{"1.5", 6, "1500000"},
		{"0.000001", 6, "1"},
		{"0.0000019", 6, "1"},
		{"123.456789123", 18, "123456789123000000000"},
		{"42", 0, "42"},
		{"0", 18, "0"},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.amount, tt.decimals)
		require.NoError(t, err)
		assert.Equalf(t, tt.want, got.String(), "ParseUnits(%q, %d)", tt.amount, tt.decimals)
	}

	_, err := ParseUnits("abc", 6)
	assert.Error(t, err)
	_, err = ParseUnits("-1", 6)
	assert.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(types.AmountFromInt64(1_500_000), 6))
	assert.Equal(t, "0.000001", FormatUnits(types.AmountFromInt64(1), 6))
	assert.Equal(t, "42", FormatUnits(types.AmountFromInt64(42), 0))
	assert.Equal(t, "0", FormatUnits(types.Amount{}, 18))
}
