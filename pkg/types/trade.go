package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// SolanaDevnetChainID is the chain id the backend uses for Solana devnet.
const SolanaDevnetChainID int64 = 901

// Side is the direction of a perpetual position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide accepts "long"/"short" in any case
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	default:
		return "", fmt.Errorf("invalid side %q: expected long or short", s)
	}
}

// Wire returns the upper-case form the backend expects
func (s Side) Wire() string {
	return strings.ToUpper(string(s))
}

// PayInType selects how the down payment is funded
type PayInType string

const (
	PayInNative PayInType = "NATIVE"
	PayInToken  PayInType = "TOKEN"
	PayInVault  PayInType = "VAULT"
)

// ParsePayInType accepts native/token/vault in any case
func ParsePayInType(s string) (PayInType, error) {
	switch p := PayInType(strings.ToUpper(strings.TrimSpace(s))); p {
	case PayInNative, PayInToken, PayInVault:
		return p, nil
	default:
		return "", fmt.Errorf("invalid pay-in type %q: expected NATIVE, TOKEN or VAULT", s)
	}
}

// TradeIntent is the user's request to open a position. It is built once by
// the caller and never mutated afterwards.
type TradeIntent struct {
	MarketID    int64
	Side        Side
	DownPayment Amount // integer token units
	Leverage    float64
	MaxSlippage float64 // percent
	SpeedUp     bool
	PayInType   PayInType
	Payer       string
}

// Validate checks the intent for the given chain
func (t TradeIntent) Validate(chainID int64) error {
	if t.MarketID <= 0 {
		return fmt.Errorf("market id is required")
	}
	if t.Side != SideLong && t.Side != SideShort {
		return fmt.Errorf("side must be long or short")
	}
	if t.DownPayment.IsZero() || t.DownPayment.Sign() < 0 {
		return fmt.Errorf("down payment must be greater than 0")
	}
	if t.Leverage < 1 {
		return fmt.Errorf("leverage must be at least 1")
	}
	if t.MaxSlippage <= 0 || t.MaxSlippage > 100 {
		return fmt.Errorf("max slippage must be within (0, 100] percent")
	}
	return ValidatePayer(t.Payer, chainID)
}

// ValidatePayer checks the payer address format for the chain
func ValidatePayer(payer string, chainID int64) error {
	if payer == "" {
		return fmt.Errorf("payer address is required")
	}
	if chainID == SolanaDevnetChainID {
		if _, err := solana.PublicKeyFromBase58(payer); err != nil {
			return fmt.Errorf("invalid solana payer address %s: %w", payer, err)
		}
		return nil
	}
	if !common.IsHexAddress(payer) {
		return fmt.Errorf("invalid payer address: %s", payer)
	}
	return nil
}

// OpenOrderRequest is the body of POST /api/v2/order/open
type OpenOrderRequest struct {
	MarketID    int64     `json:"marketId"`
	Side        string    `json:"side"`
	DownPayment Amount    `json:"downPayment"`
	Leverage    float64   `json:"leverage"`
	MaxSlippage float64   `json:"maxSlippage"`
	SpeedUp     bool      `json:"speedUp"`
	PayInType   PayInType `json:"payInType"`
	Address     string    `json:"address"`
}

// NewOpenOrderRequest converts an intent to its wire form
func NewOpenOrderRequest(t TradeIntent) OpenOrderRequest {
	payIn := t.PayInType
	if payIn == "" {
		payIn = PayInNative
	}
	return OpenOrderRequest{
		MarketID:    t.MarketID,
		Side:        t.Side.Wire(),
		DownPayment: t.DownPayment,
		Leverage:    t.Leverage,
		MaxSlippage: t.MaxSlippage,
		SpeedUp:     t.SpeedUp,
		PayInType:   payIn,
		Address:     t.Payer,
	}
}

// FunctionCallData is a contract call as returned by the backend
type FunctionCallData struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value Amount `json:"value"`
}

// OpenPositionRequest is the signed request echoed back with an order
type OpenPositionRequest struct {
	ID                   int64              `json:"id"`
	Currency             string             `json:"currency"`
	TargetCurrency       string             `json:"targetCurrency"`
	DownPayment          Amount             `json:"downPayment"`
	Principal            Amount             `json:"principal"`
	MinTargetAmount      Amount             `json:"minTargetAmount"`
	Expiration           int64              `json:"expiration"`
	Fee                  Amount             `json:"fee"`
	FunctionCallDataList []FunctionCallData `json:"functionCallDataList,omitempty"`
	Referrer             string             `json:"referrer,omitempty"`
}

// PerpOrder is the backend response to an open-order request
type PerpOrder struct {
	Request  OpenPositionRequest `json:"request"`
	CallData FunctionCallData    `json:"callData"`
}

// OrderPayload is an executable transaction derived from a PerpOrder
type OrderPayload struct {
	To    common.Address
	Data  []byte
	Value Amount
}
