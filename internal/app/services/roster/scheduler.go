package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/quarterdeck-network/crew_layer/internal/app/ledger"
)

// Scheduler computes the maturity deadline for newly queued orders. The
// voting period is read from the ledger on every call so governance changes
// take effect immediately; nothing is cached.
type Scheduler struct {
	ledger ledger.ShareLedger
	now    func() time.Time
}

// NewScheduler creates a scheduler reading the voting period from the ledger.
func NewScheduler(shares ledger.ShareLedger) *Scheduler {
	return &Scheduler{ledger: shares, now: time.Now}
}

// WithClock overrides the scheduler clock. Intended for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Deadline returns current time plus twice the voting period, in unix
// seconds. A zero voting period yields a deadline equal to the current time,
// making the order immediately maturable; that is accepted behavior, not an
// error.
func (s *Scheduler) Deadline(ctx context.Context) (uint64, error) {
	period, err := s.ledger.VotingPeriod(ctx)
	if err != nil {
		return 0, fmt.Errorf("read voting period: %w", err)
	}
	return uint64(s.now().Unix()) + 2*period, nil
}
