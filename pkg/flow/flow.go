package flow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"perp-trade/pkg/explorer"
	"perp-trade/pkg/notify"
	"perp-trade/pkg/txerr"
	"perp-trade/pkg/types"
	"perp-trade/pkg/watcher"
)

var (
	// ErrRunInProgress is returned by Run while another run is active
	ErrRunInProgress = errors.New("a trade flow is already running")
	// ErrDetached is returned by a run abandoned through Reset
	ErrDetached = errors.New("trade flow was reset")
)

// Approver submits ERC20 approvals
type Approver interface {
	SubmitApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
}

// OrderSource turns a trade intent into a transaction payload
type OrderSource interface {
	AcquireOrder(ctx context.Context, intent types.TradeIntent, chainID int64) (*types.PerpOrder, *types.OrderPayload, error)
}

// TransactionSender signs and broadcasts a raw transaction
type TransactionSender interface {
	SendRawTransaction(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
}

// ConfirmationWatcher streams confirmation events for a transaction
type ConfirmationWatcher interface {
	Watch(ctx context.Context, hash common.Hash) <-chan watcher.Event
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Approver Approver
	Orders   OrderSource
	Sender   TransactionSender
	Watcher  ConfirmationWatcher
	// Notifier defaults to notify.Nop
	Notifier notify.Sink
	Logger   *zap.Logger
}

// Args describe one approval-then-trade run
type Args struct {
	ChainID int64
	Owner   common.Address
	Token   common.Address
	Spender common.Address
	// ApproveAmount nil approves the maximum uint256
	ApproveAmount *big.Int
	Intent        types.TradeIntent
}

// Options tune one run
type Options struct {
	// NeedsApproval comes from a fresh allowance read made by the caller
	NeedsApproval bool
	// OnSuccess fires once when the trade confirms
	OnSuccess func(Result)
}

// Result holds the hashes a run produced
type Result struct {
	ApprovalHash common.Hash
	TradeHash    common.Hash
}

// Orchestrator sequences approval, order acquisition and trade submission,
// tracking each transaction until it confirms
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger

	// emitMu serialises state changes with observer callbacks
	emitMu    sync.Mutex
	observers []func(State)

	mu         sync.Mutex
	state      State
	generation uint64
	running    bool
	detach     context.CancelCauseFunc
	toast      notify.ID
	success    *successLatch
}

// successLatch fires the caller's success callback at most once per run
type successLatch struct {
	once sync.Once
	fn   func(Result)
}

func (l *successLatch) fire(r Result) {
	if l == nil || l.fn == nil {
		return
	}
	l.once.Do(func() { l.fn(r) })
}

func New(deps Deps) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:   deps,
		logger: deps.Logger.Named("flow"),
	}
}

// OnChange registers an observer called with every state change, in order.
// Observers must not call Run, Reset or SetConfirmed.
func (o *Orchestrator) OnChange(fn func(State)) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	o.observers = append(o.observers, fn)
}

// State returns the current snapshot
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run performs approval (when needed) and the trade, and returns once the
// trade transaction confirms or the flow halts. Every halting failure is
// reflected in State, reported to the notifier and returned.
func (o *Orchestrator) Run(ctx context.Context, args Args, opts Options) (Result, error) {
	runCtx, gen, err := o.begin(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	defer o.end(gen)

	intent := args.Intent
	if intent.Payer == "" && args.Owner != (common.Address{}) {
		intent.Payer = args.Owner.Hex()
	}

	var result Result

	if opts.NeedsApproval && args.Token != (common.Address{}) && args.Spender != (common.Address{}) {
		if err := o.advance(runCtx, gen, func(s *State) {
			s.Step = StepApproval
			s.Phase = PhasePrompting
		}); err != nil {
			return result, err
		}
		hash, err := o.deps.Approver.SubmitApproval(runCtx, args.Token, args.Spender, args.ApproveAmount)
		if err != nil {
			return result, o.fail(gen, txerr.ClassifySubmission(err, txerr.MsgUserRejected))
		}
		result.ApprovalHash = hash
		if err := o.advance(runCtx, gen, func(s *State) {
			s.ApprovalHash = hash
			s.Phase = PhasePending
		}); err != nil {
			return result, err
		}
		o.showLoading(gen, "Approval pending…")

		// trade submission waits for the approval receipt
		if err := o.confirm(runCtx, gen, args.ChainID, StepApproval, hash); err != nil {
			return result, err
		}
	}

	if err := o.advance(runCtx, gen, func(s *State) {
		s.Step = StepTrade
		s.Phase = PhasePending
	}); err != nil {
		return result, err
	}
	_, payload, err := o.deps.Orders.AcquireOrder(runCtx, intent, args.ChainID)
	if err != nil {
		if txerr.KindOf(err) == txerr.KindUnknown {
			err = txerr.New(txerr.KindOrderAcquisitionFailed, txerr.Message(err), err)
		}
		return result, o.fail(gen, err)
	}

	// a run reset while the order was in flight must not sign it
	if err := o.advance(runCtx, gen, func(s *State) { s.Phase = PhasePrompting }); err != nil {
		return result, err
	}
	hash, err := o.deps.Sender.SendRawTransaction(runCtx, payload.To, payload.Data, payload.Value.Int())
	if err != nil {
		return result, o.fail(gen, txerr.ClassifySubmission(err, txerr.MsgUserRejected))
	}
	result.TradeHash = hash
	if err := o.advance(runCtx, gen, func(s *State) {
		s.TradeHash = hash
		s.Phase = PhasePending
	}); err != nil {
		return result, err
	}
	o.showLoading(gen, "Trade pending…")

	o.mu.Lock()
	latch := o.success
	o.mu.Unlock()

	if err := o.confirm(runCtx, gen, args.ChainID, StepTrade, hash); err != nil {
		return result, err
	}
	latch.fire(result)
	return result, nil
}

// Reset returns the flow to idle and dismisses its notification. A running
// Run is detached and returns ErrDetached; transactions already broadcast
// are not affected.
func (o *Orchestrator) Reset() {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	o.generation++
	if o.detach != nil {
		o.detach(ErrDetached)
		o.detach = nil
	}
	o.running = false
	if o.toast != "" {
		o.deps.Notifier.Dismiss(o.toast)
		o.toast = ""
	}
	o.success = nil
	changed := o.state != State{}
	o.state = State{}
	o.mu.Unlock()

	if changed {
		o.logger.Debug("flow reset")
		o.emit(State{})
	}
}

// SetConfirmed marks a step confirmed on behalf of a caller that observed
// the receipt elsewhere
func (o *Orchestrator) SetConfirmed(chainID int64, step Step, hash common.Hash) {
	text := "Approval confirmed"
	if step == StepTrade {
		text = "Trade confirmed"
	}
	link := ""
	if hash != (common.Hash{}) {
		link = explorer.TxURL(chainID, hash.Hex())
	}

	o.mu.Lock()
	gen := o.generation
	if o.toast != "" {
		o.deps.Notifier.ResolveSuccess(o.toast, text, link)
		o.toast = ""
	} else {
		o.deps.Notifier.Success(text, link)
	}
	latch := o.success
	o.mu.Unlock()

	o.update(gen, func(s *State) {
		s.Step = step
		s.Phase = PhaseSuccess
		s.ErrorMessage = ""
		switch {
		case step == StepApproval && !s.HasApproval():
			s.ApprovalHash = hash
		case step == StepTrade && !s.HasTrade():
			s.TradeHash = hash
		}
	})
	if step == StepTrade {
		st := o.State()
		latch.fire(Result{ApprovalHash: st.ApprovalHash, TradeHash: st.TradeHash})
	}
}

func (o *Orchestrator) begin(ctx context.Context, opts Options) (context.Context, uint64, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, 0, ErrRunInProgress
	}
	o.running = true
	o.generation++
	gen := o.generation
	runCtx, cancel := context.WithCancelCause(ctx)
	o.detach = cancel
	o.success = &successLatch{fn: opts.OnSuccess}
	o.state.RunID = uuid.NewString()
	runID := o.state.RunID
	o.mu.Unlock()

	o.logger.Debug("flow run started", zap.String("run_id", runID), zap.Bool("needs_approval", opts.NeedsApproval))

	// a new run clears the previous outcome but keeps the approval hash
	o.update(gen, func(s *State) {
		s.Step = StepNone
		s.Phase = PhaseIdle
		s.ErrorMessage = ""
		s.TradeHash = common.Hash{}
	})
	return runCtx, gen, nil
}

func (o *Orchestrator) end(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return
	}
	o.running = false
	if o.detach != nil {
		o.detach(nil)
		o.detach = nil
	}
}

// update applies fn to the state of run gen and publishes the result if
// anything changed. Updates from a detached run are dropped.
func (o *Orchestrator) update(gen uint64, fn func(*State)) bool {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return false
	}
	before := o.state
	fn(&o.state)
	after := o.state
	o.mu.Unlock()

	if after == before {
		return true
	}
	o.logger.Debug("flow transition",
		zap.String("run_id", after.RunID),
		zap.Stringer("step", after.Step),
		zap.Stringer("phase", after.Phase),
	)
	o.emit(after)
	return true
}

// advance is update for Run: once the run is detached it refuses the
// transition and returns ErrDetached so no further external call is made
func (o *Orchestrator) advance(ctx context.Context, gen uint64, fn func(*State)) error {
	if errors.Is(context.Cause(ctx), ErrDetached) || !o.update(gen, fn) {
		return ErrDetached
	}
	return nil
}

// emit is called with emitMu held
func (o *Orchestrator) emit(s State) {
	for _, fn := range o.observers {
		fn(s)
	}
}

func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation == gen
}

// fail records a halting failure and reports it
func (o *Orchestrator) fail(gen uint64, err error) error {
	if !o.current(gen) {
		return fmt.Errorf("%w: %v", ErrDetached, err)
	}

	msg := txerr.Message(err)
	if txerr.KindOf(err) == txerr.KindUserRejected {
		msg = txerr.MsgUserRejected
	}
	if !o.update(gen, func(s *State) {
		s.Phase = PhaseError
		s.ErrorMessage = msg
	}) {
		return fmt.Errorf("%w: %v", ErrDetached, err)
	}
	o.logger.Info("flow halted", zap.String("message", msg), zap.Stringer("kind", txerr.KindOf(err)), zap.Error(err))

	o.mu.Lock()
	if o.toast != "" {
		o.deps.Notifier.Dismiss(o.toast)
		o.toast = ""
	}
	o.mu.Unlock()
	o.deps.Notifier.Error(msg)
	return err
}

// confirm waits for the first terminal event of hash and records the outcome
// of step. Later events for the same hash are never read.
func (o *Orchestrator) confirm(ctx context.Context, gen uint64, chainID int64, step Step, hash common.Hash) error {
	ev, ok := o.await(ctx, hash)
	if !ok {
		if errors.Is(context.Cause(ctx), ErrDetached) || !o.current(gen) {
			return ErrDetached
		}
		if err := ctx.Err(); err != nil {
			return o.fail(gen, err)
		}
		ev = watcher.Event{Hash: hash, Status: watcher.StatusFailed, Err: watcher.ErrClosed}
	}

	link := explorer.TxURL(chainID, hash.Hex())
	okText, failText := "Approval confirmed", txerr.MsgApprovalFailed
	if step == StepTrade {
		okText, failText = "Trade confirmed", txerr.MsgTradeFailed
	}

	if ev.Status != watcher.StatusConfirmed {
		o.resolveToast(gen, false, failText, link)
		if !o.update(gen, func(s *State) {
			s.Phase = PhaseError
			s.ErrorMessage = failText
		}) {
			return ErrDetached
		}
		o.logger.Info("transaction failed",
			zap.Stringer("step", step),
			zap.String("hash", hash.Hex()),
			zap.Error(ev.Err),
		)
		return txerr.New(txerr.KindConfirmationFailed, failText, ev.Err)
	}

	o.resolveToast(gen, true, okText, link)
	if !o.update(gen, func(s *State) {
		s.Phase = PhaseSuccess
	}) {
		return ErrDetached
	}
	return nil
}

func (o *Orchestrator) await(ctx context.Context, hash common.Hash) (watcher.Event, bool) {
	for ev := range o.deps.Watcher.Watch(ctx, hash) {
		if ev.Status.Terminal() {
			return ev, true
		}
	}
	return watcher.Event{}, false
}

func (o *Orchestrator) showLoading(gen uint64, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen || o.toast != "" {
		return
	}
	o.toast = o.deps.Notifier.Loading(text)
}

func (o *Orchestrator) resolveToast(gen uint64, ok bool, text, link string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen || o.toast == "" {
		return
	}
	if ok {
		o.deps.Notifier.ResolveSuccess(o.toast, text, link)
	} else {
		o.deps.Notifier.ResolveError(o.toast, text, link)
	}
	o.toast = ""
}
