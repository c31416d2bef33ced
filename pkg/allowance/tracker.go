package allowance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"perp-trade/pkg/chain"
	"perp-trade/pkg/txerr"
	"perp-trade/pkg/watcher"
)

// Reader performs contract reads
type Reader interface {
	ReadContract(ctx context.Context, call chain.ContractCall) ([]interface{}, error)
}

// Sender submits contract calls
type Sender interface {
	SendContractCall(ctx context.Context, call chain.ContractCall) (common.Hash, error)
}

// State is a point-in-time allowance read. It goes stale as soon as an
// approval is submitted; callers re-read after the approval confirms.
type State struct {
	Current  *big.Int
	Required *big.Int
	// Known is false when the read failed
	Known bool
}

// Sufficient fails closed: an unknown allowance is never sufficient
func (s State) Sufficient() bool {
	if !s.Known || s.Current == nil {
		return false
	}
	required := s.Required
	if required == nil {
		required = new(big.Int)
	}
	return s.Current.Cmp(required) >= 0
}

// Tracker reads ERC20 allowances and submits approvals
type Tracker struct {
	reader Reader
	sender Sender
	logger *zap.Logger
}

func NewTracker(reader Reader, sender Sender, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{reader: reader, sender: sender, logger: logger.Named("allowance")}
}

// CheckAllowance reads allowance(owner, spender) on token and compares it with required
func (t *Tracker) CheckAllowance(ctx context.Context, token, owner, spender common.Address, required *big.Int) State {
	if required == nil {
		required = new(big.Int)
	}
	state := State{Required: new(big.Int).Set(required)}

	out, err := t.reader.ReadContract(ctx, chain.ContractCall{
		Address: token,
		ABI:     chain.ERC20,
		Method:  "allowance",
		Args:    []interface{}{owner, spender},
	})
	if err != nil {
		t.logger.Warn("allowance read failed, treating as insufficient",
			zap.String("token", token.Hex()),
			zap.String("owner", owner.Hex()),
			zap.String("spender", spender.Hex()),
			zap.Error(txerr.New(txerr.KindAllowanceReadFailed, "allowance read failed", err)),
		)
		return state
	}
	if len(out) == 0 {
		t.logger.Warn("allowance read returned no value", zap.String("token", token.Hex()))
		return state
	}
	current, ok := out[0].(*big.Int)
	if !ok || current == nil {
		t.logger.Warn("allowance read returned unexpected type",
			zap.String("token", token.Hex()), zap.String("type", fmt.Sprintf("%T", out[0])))
		return state
	}

	state.Current = current
	state.Known = true
	return state
}

// SubmitApproval sends approve(spender, amount). A nil amount approves the
// maximum uint256. It does not wait for confirmation.
func (t *Tracker) SubmitApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil {
		amount = math.MaxBig256
	}

	hash, err := t.sender.SendContractCall(ctx, chain.ContractCall{
		Address: token,
		ABI:     chain.ERC20,
		Method:  "approve",
		Args:    []interface{}{spender, amount},
	})
	if err != nil {
		classified := txerr.ClassifySubmission(err, txerr.MsgApprovalDeclined)
		t.logger.Info("approval submission failed",
			zap.String("token", token.Hex()),
			zap.Stringer("kind", classified.Kind),
			zap.Error(err),
		)
		return common.Hash{}, classified
	}

	t.logger.Info("approval submitted",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()),
		zap.String("hash", hash.Hex()),
	)
	return hash, nil
}

// Waiter blocks until a transaction reaches a terminal state
type Waiter interface {
	Wait(ctx context.Context, hash common.Hash) (watcher.Event, error)
}

// Approve is the standalone approve action: submit, then wait for the
// receipt. It returns the hash even when confirmation fails.
func (t *Tracker) Approve(ctx context.Context, w Waiter, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	hash, err := t.SubmitApproval(ctx, token, spender, amount)
	if err != nil {
		return common.Hash{}, err
	}

	ev, err := w.Wait(ctx, hash)
	if err != nil {
		return hash, err
	}
	if ev.Status != watcher.StatusConfirmed {
		return hash, txerr.New(txerr.KindConfirmationFailed, txerr.MsgApprovalFailed, ev.Err)
	}
	return hash, nil
}
