package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher replays a fixed sequence of lookups per hash; the last
// entry repeats forever.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[common.Hash][]lookup
	calls   map[common.Hash]int
}

type lookup struct {
	receipt *types.Receipt
	err     error
}

var (
	pending   = lookup{err: ethereum.NotFound}
	confirmed = lookup{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	reverted  = lookup{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
)

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts: make(map[common.Hash][]lookup),
		calls:   make(map[common.Hash]int),
	}
}

func (f *scriptedFetcher) script(hash common.Hash, steps ...lookup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[hash] = steps
}

func (f *scriptedFetcher) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	steps := f.scripts[hash]
	i := f.calls[hash]
	f.calls[hash]++
	if len(steps) == 0 {
		return nil, ethereum.NotFound
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	return steps[i].receipt, steps[i].err
}

func (f *scriptedFetcher) callCount(hash common.Hash) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hash]
}

func fastOptions() Options {
	return Options{PollInterval: time.Millisecond, Timeout: 5 * time.Second, MaxErrors: 3}
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("subscription did not close")
		}
	}
}

func terminalCount(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Status.Terminal() {
			n++
		}
	}
	return n
}

func TestWatchConfirmsAfterPending(t *testing.T) {
	hash := common.Hash{1}
	f := newScriptedFetcher()
	f.script(hash, pending, pending, confirmed)
	w := New(f, fastOptions(), nil)
	defer w.Close()

	events := drain(t, w.Watch(context.Background(), hash))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, StatusConfirmed, last.Status)
	require.NotNil(t, last.Receipt)
	require.Equal(t, 1, terminalCount(events))
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, StatusPending, ev.Status)
	}
}

func TestWatchReportsRevert(t *testing.T) {
	hash := common.Hash{2}
	f := newScriptedFetcher()
	f.script(hash, pending, reverted)
	w := New(f, fastOptions(), nil)
	defer w.Close()

	ev, err := w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, ev.Status)
	require.ErrorIs(t, ev.Err, ErrReverted)
}

func TestWatchSameHashSharesOneLoop(t *testing.T) {
	hash := common.Hash{3}
	f := newScriptedFetcher()
	f.script(hash, pending, pending, pending, confirmed)
	w := New(f, Options{PollInterval: 5 * time.Millisecond}, nil)
	defer w.Close()

	first := w.Watch(context.Background(), hash)
	second := w.Watch(context.Background(), hash)

	a := drain(t, first)
	b := drain(t, second)
	require.Equal(t, 1, terminalCount(a))
	require.Equal(t, 1, terminalCount(b))
	require.Equal(t, StatusConfirmed, a[len(a)-1].Status)
	require.Equal(t, StatusConfirmed, b[len(b)-1].Status)
	require.Equal(t, 4, f.callCount(hash))

	// a settled hash is replayed without polling again
	c := drain(t, w.Watch(context.Background(), hash))
	require.Len(t, c, 1)
	require.Equal(t, StatusConfirmed, c[0].Status)
	require.Equal(t, 4, f.callCount(hash))
}

func TestWatchIndependentHashes(t *testing.T) {
	approval, trade := common.Hash{4}, common.Hash{5}
	f := newScriptedFetcher()
	f.script(approval, reverted)
	f.script(trade, pending, pending, confirmed)
	w := New(f, fastOptions(), nil)
	defer w.Close()

	a, err := w.Wait(context.Background(), approval)
	require.NoError(t, err)
	b, err := w.Wait(context.Background(), trade)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, a.Status)
	require.Equal(t, StatusConfirmed, b.Status)
}

func TestWatchTimesOutAsStuck(t *testing.T) {
	hash := common.Hash{6}
	f := newScriptedFetcher()
	f.script(hash, pending)
	w := New(f, Options{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond}, nil)
	defer w.Close()

	ev, err := w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, ev.Status)
	require.ErrorIs(t, ev.Err, ErrStuck)
}

func TestWatchFailsAfterRepeatedLookupErrors(t *testing.T) {
	hash := common.Hash{7}
	boom := errors.New("connection refused")
	f := newScriptedFetcher()
	f.script(hash, lookup{err: boom})
	w := New(f, fastOptions(), nil)
	defer w.Close()

	ev, err := w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, ev.Status)
	require.ErrorIs(t, ev.Err, boom)
	require.Equal(t, 3, f.callCount(hash))
}

func TestWatchRecoversFromTransientLookupError(t *testing.T) {
	hash := common.Hash{8}
	f := newScriptedFetcher()
	f.script(hash, lookup{err: errors.New("timeout")}, lookup{err: errors.New("timeout")}, pending, lookup{err: errors.New("timeout")}, confirmed)
	w := New(f, fastOptions(), nil)
	defer w.Close()

	ev, err := w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, ev.Status)
}

func TestCancelledSubscriberDetachesOnly(t *testing.T) {
	hash := common.Hash{9}
	f := newScriptedFetcher()
	f.script(hash, pending)
	w := New(f, fastOptions(), nil)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	detached := w.Watch(ctx, hash)
	kept := w.Watch(context.Background(), hash)

	cancel()
	events := drain(t, detached)
	require.Zero(t, terminalCount(events))

	f.script(hash, confirmed)

	rest := drain(t, kept)
	require.Equal(t, StatusConfirmed, rest[len(rest)-1].Status)
}

func TestWaitReturnsContextError(t *testing.T) {
	hash := common.Hash{10}
	f := newScriptedFetcher()
	f.script(hash, pending)
	w := New(f, Options{PollInterval: time.Millisecond}, nil)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.Wait(ctx, hash)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseFailsOpenSubscriptions(t *testing.T) {
	hash := common.Hash{11}
	f := newScriptedFetcher()
	f.script(hash, pending)
	w := New(f, Options{PollInterval: time.Millisecond}, nil)

	ch := w.Watch(context.Background(), hash)
	w.Close()

	events := drain(t, ch)
	require.Equal(t, 1, terminalCount(events))
	require.ErrorIs(t, events[len(events)-1].Err, ErrClosed)

	late := drain(t, w.Watch(context.Background(), common.Hash{12}))
	require.Len(t, late, 1)
	require.ErrorIs(t, late[0].Err, ErrClosed)
}

func TestSettledWatchIsForgottenAfterRetention(t *testing.T) {
	hash := common.Hash{9}
	f := newScriptedFetcher()
	f.script(hash, confirmed)
	opts := fastOptions()
	opts.Retention = 50 * time.Millisecond
	w := New(f, opts, nil)
	defer w.Close()

	ev, err := w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, ev.Status)

	// within retention the outcome is replayed without another lookup
	ev, err = w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, ev.Status)
	require.Equal(t, 1, f.callCount(hash))

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.watches) == 0
	}, time.Second, 5*time.Millisecond)

	ev, err = w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, ev.Status)
	require.Equal(t, 2, f.callCount(hash))
}
