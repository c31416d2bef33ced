package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 10 * time.Minute
	DefaultMaxErrors    = 5
	DefaultRetention    = 10 * time.Minute

	subscriberBuffer = 8
)

var (
	// ErrReverted is the failure cause of a receipt with status 0
	ErrReverted = errors.New("transaction reverted")
	// ErrStuck is the failure cause of a watch that outlived its timeout
	ErrStuck = errors.New("transaction still pending")
	// ErrClosed is the failure cause when the watcher shuts down first
	ErrClosed = errors.New("watcher closed")
)

// Status is the confirmation state of a transaction
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further events follow
func (s Status) Terminal() bool { return s != StatusPending }

// Event is one observation of a watched transaction. Failed events carry the
// cause in Err; reverts, drops and timeouts are all reported as failed.
type Event struct {
	Hash    common.Hash
	Status  Status
	Receipt *types.Receipt
	Err     error
}

// ReceiptFetcher looks up receipts; pending transactions yield ethereum.NotFound
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Options tune the polling loop
type Options struct {
	PollInterval time.Duration
	// Timeout bounds how long a transaction may stay pending. Zero waits forever.
	Timeout time.Duration
	// MaxErrors is the number of consecutive lookup errors tolerated
	MaxErrors int
	// Retention is how long a settled transaction is remembered so late
	// subscribers get its outcome replayed. Afterwards it is forgotten and a
	// new Watch polls again.
	Retention time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = DefaultMaxErrors
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

// Watcher polls receipts for submitted transactions. Each hash gets a single
// polling loop no matter how many subscribers ask for it.
type Watcher struct {
	fetcher ReceiptFetcher
	opts    Options
	logger  *zap.Logger

	mu       sync.Mutex
	watches  map[common.Hash]*watch
	closed   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type watch struct {
	hash  common.Hash
	subs  map[*subscriber]struct{}
	final *Event
}

func New(fetcher ReceiptFetcher, opts Options, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		fetcher:  fetcher,
		opts:     opts.withDefaults(),
		logger:   logger.Named("watcher"),
		watches:  make(map[common.Hash]*watch),
		stopChan: make(chan struct{}),
	}
}

// Watch subscribes to a transaction. The channel yields zero or more pending
// events, then exactly one terminal event, then closes. Cancelling ctx
// detaches this subscriber only; the polling loop carries on.
func (w *Watcher) Watch(ctx context.Context, hash common.Hash) <-chan Event {
	sub := newSubscriber()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		sub.finish(Event{Hash: hash, Status: StatusFailed, Err: ErrClosed})
		return sub.ch
	}
	wt, ok := w.watches[hash]
	if ok && wt.final != nil {
		final := *wt.final
		w.mu.Unlock()
		sub.finish(final)
		return sub.ch
	}
	if !ok {
		wt = &watch{hash: hash, subs: make(map[*subscriber]struct{})}
		w.watches[hash] = wt
		w.wg.Add(1)
		go w.poll(wt)
	}
	wt.subs[sub] = struct{}{}
	w.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			w.detach(wt, sub)
		case <-sub.done:
		}
	}()

	return sub.ch
}

// Wait blocks until the transaction reaches a terminal state
func (w *Watcher) Wait(ctx context.Context, hash common.Hash) (Event, error) {
	for ev := range w.Watch(ctx, hash) {
		if ev.Status.Terminal() {
			return ev, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, ErrClosed
}

// Close stops every polling loop; open subscriptions receive a failed event
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Watcher) detach(wt *watch, sub *subscriber) {
	w.mu.Lock()
	delete(wt.subs, sub)
	w.mu.Unlock()
	sub.close()
}

func (w *Watcher) poll(wt *watch) {
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if w.opts.Timeout > 0 {
		timer := time.NewTimer(w.opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	logger := w.logger.With(zap.String("hash", wt.hash.Hex()))
	logger.Debug("watching transaction")

	errCount := 0
	for {
		ev := w.check(ctx, wt.hash, &errCount, logger)
		w.publish(wt, ev)
		if ev.Status.Terminal() {
			logger.Debug("transaction settled", zap.Stringer("status", ev.Status), zap.Error(ev.Err))
			w.linger(wt)
			return
		}

		select {
		case <-w.stopChan:
			w.publish(wt, Event{Hash: wt.hash, Status: StatusFailed, Err: ErrClosed})
			return
		case <-deadline:
			logger.Warn("transaction stuck pending", zap.Duration("timeout", w.opts.Timeout))
			w.publish(wt, Event{Hash: wt.hash, Status: StatusFailed, Err: ErrStuck})
			w.linger(wt)
			return
		case <-ticker.C:
		}
	}
}

// linger keeps a settled watch for late subscribers, then drops it
func (w *Watcher) linger(wt *watch) {
	timer := time.NewTimer(w.opts.Retention)
	defer timer.Stop()

	select {
	case <-w.stopChan:
		return
	case <-timer.C:
	}

	w.mu.Lock()
	if w.watches[wt.hash] == wt {
		delete(w.watches, wt.hash)
	}
	w.mu.Unlock()
}

func (w *Watcher) check(ctx context.Context, hash common.Hash, errCount *int, logger *zap.Logger) Event {
	receipt, err := w.fetcher.TransactionReceipt(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		*errCount = 0
		return Event{Hash: hash, Status: StatusPending}
	case err != nil && ctx.Err() != nil:
		return Event{Hash: hash, Status: StatusPending}
	case err != nil:
		*errCount++
		logger.Warn("receipt lookup failed", zap.Int("attempt", *errCount), zap.Error(err))
		if *errCount >= w.opts.MaxErrors {
			return Event{Hash: hash, Status: StatusFailed, Err: fmt.Errorf("receipt lookup failed %d times: %w", *errCount, err)}
		}
		return Event{Hash: hash, Status: StatusPending}
	case receipt == nil:
		return Event{Hash: hash, Status: StatusPending}
	case receipt.Status == types.ReceiptStatusSuccessful:
		return Event{Hash: hash, Status: StatusConfirmed, Receipt: receipt}
	default:
		return Event{Hash: hash, Status: StatusFailed, Receipt: receipt, Err: ErrReverted}
	}
}

func (w *Watcher) publish(wt *watch, ev Event) {
	w.mu.Lock()
	subs := make([]*subscriber, 0, len(wt.subs))
	for sub := range wt.subs {
		subs = append(subs, sub)
	}
	if ev.Status.Terminal() {
		final := ev
		wt.final = &final
		wt.subs = make(map[*subscriber]struct{})
	}
	w.mu.Unlock()

	for _, sub := range subs {
		if ev.Status.Terminal() {
			sub.finish(ev)
		} else {
			sub.send(ev)
		}
	}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
}

// send delivers a pending event, dropping it if the subscriber is behind
func (s *subscriber) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// finish delivers the terminal event and closes the channel. The terminal
// event is never dropped: a stale pending event makes room for it.
func (s *subscriber) finish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- ev
	}
	s.closed = true
	close(s.ch)
	close(s.done)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
}
