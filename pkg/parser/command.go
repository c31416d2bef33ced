package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"perp-trade/pkg/types"
)

// DefaultLeverage is used when a command names no leverage
const DefaultLeverage = 3.0

// TradeCommand is a parsed trade command. Amount is in whole tokens and is
// converted to base units once the pay-in token's decimals are known.
type TradeCommand struct {
	Side     types.Side
	Amount   decimal.Decimal
	Market   string
	Leverage float64
}

var tradePattern = regexp.MustCompile(`^(LONG|SHORT)\s+(\d+\.?\d*|\.\d+)\s+([A-Z0-9/_\-]+)(?:\s+(?:AT\s+)?(\d+\.?\d*)X)?$`)

// ParseTradeCommand parses a natural language trade command
// Examples:
//   - "long 100 ETH/USDC"
//   - "short 0.5 WETH-USDC 5x"
//   - "open long 250 12 at 2.5x" (market by id)
func ParseTradeCommand(command string) (*TradeCommand, error) {
	// Normalize the command
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "OPEN ")

	matches := tradePattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid trade command format. Expected: '<long|short> <amount> <market> [<leverage>x]' (e.g., 'long 100 ETH/USDC 3x')")
	}

	side, err := types.ParseSide(matches[1])
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(matches[2])
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", matches[2], err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	leverage := DefaultLeverage
	if matches[4] != "" {
		leverage, err = strconv.ParseFloat(matches[4], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid leverage %q: %w", matches[4], err)
		}
		if leverage < 1 {
			return nil, fmt.Errorf("leverage must be at least 1x")
		}
	}

	return &TradeCommand{
		Side:     side,
		Amount:   amount,
		Market:   matches[3],
		Leverage: leverage,
	}, nil
}

// ParseUnits converts a decimal token amount into base units. Digits beyond
// the token's precision are truncated.
func ParseUnits(amount string, decimals uint8) (types.Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return types.Amount{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return ToUnits(d, decimals)
}

// ToUnits is ParseUnits for an already parsed amount
func ToUnits(d decimal.Decimal, decimals uint8) (types.Amount, error) {
	if d.IsNegative() {
		return types.Amount{}, fmt.Errorf("amount must not be negative")
	}
	return types.NewAmount(d.Shift(int32(decimals)).Truncate(0).BigInt()), nil
}

// FormatUnits renders base units as a decimal token amount
func FormatUnits(a types.Amount, decimals uint8) string {
	return decimal.NewFromBigInt(a.Int(), -int32(decimals)).String()
}
