// Package testutil provides shared test doubles for the roster workflow.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock is a manually advanced clock for deterministic maturity tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock pinned to the given time.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock time. Pass this method as the service's
// clock function.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to an absolute time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// LedgerOp records one mint or burn issued to a FlakyLedger.
type LedgerOp struct {
	Method string // "mint" or "burn"
	Member string
	Amount uint64
}

// FlakyLedger wraps a real ledger and fails the Nth settlement call,
// for exercising mid-batch failure handling. FailAt is 1-based; zero
// never fails.
type FlakyLedger struct {
	Inner interface {
		BalanceOf(ctx context.Context, member string) (uint64, error)
		Mint(ctx context.Context, members []string, amounts []uint64) error
		Burn(ctx context.Context, members []string, amounts []uint64) error
		VotingPeriod(ctx context.Context) (uint64, error)
	}
	FailAt int

	mu    sync.Mutex
	calls int
	Ops   []LedgerOp
}

func (f *FlakyLedger) BalanceOf(ctx context.Context, member string) (uint64, error) {
	return f.Inner.BalanceOf(ctx, member)
}

func (f *FlakyLedger) VotingPeriod(ctx context.Context) (uint64, error) {
	return f.Inner.VotingPeriod(ctx)
}

func (f *FlakyLedger) Mint(ctx context.Context, members []string, amounts []uint64) error {
	if err := f.settle("mint", members, amounts); err != nil {
		return err
	}
	return f.Inner.Mint(ctx, members, amounts)
}

func (f *FlakyLedger) Burn(ctx context.Context, members []string, amounts []uint64) error {
	if err := f.settle("burn", members, amounts); err != nil {
		return err
	}
	return f.Inner.Burn(ctx, members, amounts)
}

func (f *FlakyLedger) settle(method string, members []string, amounts []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.FailAt > 0 && f.calls == f.FailAt {
		return fmt.Errorf("ledger rejected %s call %d", method, f.calls)
	}
	for i, m := range members {
		f.Ops = append(f.Ops, LedgerOp{Method: method, Member: m, Amount: amounts[i]})
	}
	return nil
}

// SettlementCalls returns the number of Mint/Burn calls seen, including
// the failed one.
func (f *FlakyLedger) SettlementCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
