package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"perp-trade/pkg/txerr"
)

// Signer produces transaction hashes for contract calls and raw transactions
type Signer interface {
	SendContractCall(ctx context.Context, call ContractCall) (common.Hash, error)
	SendRawTransaction(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
}

// ConfirmFunc asks the user to approve a signature. Returning false rejects it.
type ConfirmFunc func(description string) bool

// ConfirmingSigner puts an interactive approval step in front of a signer,
// the terminal equivalent of a wallet's signature prompt. A declined prompt
// yields txerr.ErrUserRejected.
type ConfirmingSigner struct {
	next    Signer
	confirm ConfirmFunc
}

func NewConfirmingSigner(next Signer, confirm ConfirmFunc) *ConfirmingSigner {
	return &ConfirmingSigner{next: next, confirm: confirm}
}

func (s *ConfirmingSigner) SendContractCall(ctx context.Context, call ContractCall) (common.Hash, error) {
	// a caller that gave up must not leave a prompt on the terminal
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	desc := fmt.Sprintf("Sign %s on %s", call.Method, call.Address.Hex())
	if s.confirm != nil && !s.confirm(desc) {
		return common.Hash{}, txerr.ErrUserRejected
	}
	return s.next.SendContractCall(ctx, call)
}

func (s *ConfirmingSigner) SendRawTransaction(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	// a caller that gave up must not leave a prompt on the terminal
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	desc := fmt.Sprintf("Sign transaction to %s", to.Hex())
	if value != nil && value.Sign() > 0 {
		desc += fmt.Sprintf(" with value %s wei", value.String())
	}
	if s.confirm != nil && !s.confirm(desc) {
		return common.Hash{}, txerr.ErrUserRejected
	}
	return s.next.SendRawTransaction(ctx, to, data, value)
}
