// Package memory provides an in-memory share ledger for tests and local
// deployments without a chain backend.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/quarterdeck-network/crew_layer/internal/app/ledger"
)

// Ledger holds balances and the voting-period parameter in memory.
type Ledger struct {
	mu           sync.RWMutex
	balances     map[string]uint64
	votingPeriod uint64
}

var _ ledger.ShareLedger = (*Ledger)(nil)

// New creates an empty ledger with the given voting period in seconds.
func New(votingPeriod uint64) *Ledger {
	return &Ledger{
		balances:     make(map[string]uint64),
		votingPeriod: votingPeriod,
	}
}

// SetVotingPeriod updates the governance parameter.
func (l *Ledger) SetVotingPeriod(seconds uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.votingPeriod = seconds
}

// SetBalance overwrites a member's balance. Intended for seeding tests and
// local environments.
func (l *Ledger) SetBalance(member string, shares uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if shares == 0 {
		delete(l.balances, member)
		return
	}
	l.balances[member] = shares
}

func (l *Ledger) BalanceOf(_ context.Context, member string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[member], nil
}

func (l *Ledger) Mint(_ context.Context, members []string, amounts []uint64) error {
	if len(members) != len(amounts) {
		return fmt.Errorf("mint: %d members, %d amounts", len(members), len(amounts))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, member := range members {
		if amounts[i] > math.MaxUint64-l.balances[member] {
			return fmt.Errorf("mint: balance overflow for %s", member)
		}
	}
	for i, member := range members {
		l.balances[member] += amounts[i]
	}
	return nil
}

func (l *Ledger) Burn(_ context.Context, members []string, amounts []uint64) error {
	if len(members) != len(amounts) {
		return fmt.Errorf("burn: %d members, %d amounts", len(members), len(amounts))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, member := range members {
		if l.balances[member] < amounts[i] {
			return fmt.Errorf("burn: %s holds %d shares, cannot burn %d", member, l.balances[member], amounts[i])
		}
	}
	for i, member := range members {
		remaining := l.balances[member] - amounts[i]
		if remaining == 0 {
			delete(l.balances, member)
		} else {
			l.balances[member] = remaining
		}
	}
	return nil
}

func (l *Ledger) VotingPeriod(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.votingPeriod, nil
}
