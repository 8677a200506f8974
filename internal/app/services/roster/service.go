// Package roster implements the delayed membership-change workflow: the
// captain queues onboarding and offboarding orders, each subject to a
// mandatory delay, and anyone may execute matured orders via Quarter.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/quarterdeck-network/crew_layer/internal/app/domain/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/events"
	"github.com/quarterdeck-network/crew_layer/internal/app/ledger"
	"github.com/quarterdeck-network/crew_layer/internal/app/metrics"
	"github.com/quarterdeck-network/crew_layer/internal/app/roles"
	"github.com/quarterdeck-network/crew_layer/internal/app/storage"
	"github.com/quarterdeck-network/crew_layer/pkg/logger"
)

// ErrNotAuthorized is returned when a gated operation is invoked by a
// principal that does not hold the captain role. The call is rejected before
// any state is touched and no event is recorded.
var ErrNotAuthorized = errors.New("caller does not hold the captain role")

// Config is the immutable per-deployment configuration of the service.
type Config struct {
	// CaptainRole is the role identifier checked before onboard/offboard.
	CaptainRole string
	// StartingShares is the amount minted when an onboarding order
	// executes.
	StartingShares uint64
}

// Service owns the order table state machine. All operations run under a
// single mutex: every call executes to completion before the next begins,
// so later batch positions observe writes made by earlier positions and no
// two calls interleave partial effects.
type Service struct {
	store  storage.RosterStore
	shares ledger.ShareLedger
	oracle roles.Oracle
	sink   events.Recorder
	sched  *Scheduler
	log    *logger.Logger
	cfg    Config

	mu  sync.Mutex
	now func() time.Time
}

// New constructs the roster service.
func New(store storage.RosterStore, shares ledger.ShareLedger, oracle roles.Oracle, sink events.Recorder, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("roster")
	}
	if sink == nil {
		sink = events.NoOpRecorder{}
	}
	if cfg.CaptainRole == "" {
		cfg.CaptainRole = roles.CaptainRole
	}
	return &Service{
		store:  store,
		shares: shares,
		oracle: oracle,
		sink:   sink,
		sched:  NewScheduler(shares),
		log:    log,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock overrides the service and scheduler clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.sched.WithClock(now)
	return s
}

// Onboard queues share grants for the given members. Only the captain may
// call it. Members that already have a pending order or already hold shares
// contribute zero to the batch; everyone else gets an order for the
// configured starting shares, all maturing at one shared deadline.
func (s *Service) Onboard(ctx context.Context, caller string, members []string) (domain.Batch, error) {
	if err := s.requireCaptain(ctx, caller); err != nil {
		return domain.Batch{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, staged, err := s.queue(ctx, members, true)
	if err != nil {
		return domain.Batch{}, err
	}
	if err := s.commitOrders(ctx, staged); err != nil {
		return domain.Batch{}, err
	}

	s.sink.Record(events.Event{Type: events.EventOnboard, Caller: caller, Batch: batch})
	metrics.RecordBatch("onboard")
	metrics.RecordQueued("onboard", len(staged))
	s.log.WithField("caller", caller).
		WithField("members", len(members)).
		WithField("queued", len(staged)).
		WithField("deadline", batch.Deadline).
		Info("onboarding orders queued")
	return batch, nil
}

// Offboard queues share revocations for the given members. Only the captain
// may call it. The burn amount is the balance observed now, not at
// execution time.
func (s *Service) Offboard(ctx context.Context, caller string, members []string) (domain.Batch, error) {
	if err := s.requireCaptain(ctx, caller); err != nil {
		return domain.Batch{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, staged, err := s.queue(ctx, members, false)
	if err != nil {
		return domain.Batch{}, err
	}
	if err := s.commitOrders(ctx, staged); err != nil {
		return domain.Batch{}, err
	}

	s.sink.Record(events.Event{Type: events.EventOffboard, Caller: caller, Batch: batch})
	metrics.RecordBatch("offboard")
	metrics.RecordQueued("offboard", len(staged))
	s.log.WithField("caller", caller).
		WithField("members", len(members)).
		WithField("queued", len(staged)).
		WithField("deadline", batch.Deadline).
		Info("offboarding orders queued")
	return batch, nil
}

// queue computes the per-member transitions for onboard/offboard without
// touching the store. Staged orders are visible to later positions of the
// same batch, so a duplicate address is skipped on its second occurrence.
func (s *Service) queue(ctx context.Context, members []string, onboarding bool) (domain.Batch, map[string]domain.Order, error) {
	deadline, err := s.sched.Deadline(ctx)
	if err != nil {
		return domain.Batch{}, nil, err
	}

	normalized := normalize(members)
	amounts := make([]uint64, len(normalized))
	staged := make(map[string]domain.Order)

	for i, member := range normalized {
		if member == "" {
			continue
		}
		if _, ok := staged[member]; ok {
			continue
		}
		existing, ok, err := s.store.GetOrder(ctx, member)
		if err != nil {
			return domain.Batch{}, nil, fmt.Errorf("lookup order for %s: %w", member, err)
		}
		if ok && existing.Pending() {
			continue
		}

		balance, err := s.shares.BalanceOf(ctx, member)
		if err != nil {
			return domain.Batch{}, nil, fmt.Errorf("balance of %s: %w", member, err)
		}

		var amount uint64
		if onboarding {
			if balance != 0 {
				continue
			}
			amount = s.cfg.StartingShares
		} else {
			if balance == 0 {
				continue
			}
			amount = balance
		}

		staged[member] = domain.Order{Onboarding: onboarding, Until: deadline, Shares: amount}
		amounts[i] = amount
	}

	return domain.Batch{Members: normalized, Amounts: amounts, Deadline: deadline}, staged, nil
}

// commitOrders writes the staged orders. When a write fails, the orders
// already written are removed so the table never carries part of a batch.
func (s *Service) commitOrders(ctx context.Context, staged map[string]domain.Order) error {
	written := make([]string, 0, len(staged))
	for member, order := range staged {
		if err := s.store.PutOrder(ctx, member, order); err != nil {
			for _, m := range written {
				if derr := s.store.DeleteOrder(ctx, m); derr != nil {
					s.log.WithError(derr).
						WithField("member", m).
						Errorf("rollback of staged order failed; order table carries a partial batch for %s", m)
				}
			}
			return fmt.Errorf("store order for %s: %w", member, err)
		}
		written = append(written, member)
	}
	return nil
}

// settlement is one matured order due for execution.
type settlement struct {
	member string
	order  domain.Order
}

// Quarter executes matured orders for the given members. It is deliberately
// permissionless so orders settle even if the captain becomes unavailable.
// Positions with no pending or not-yet-matured order contribute zero and
// inbound=false and are left untouched. Each matured order is settled with a
// single-address Mint or Burn call; a ledger failure aborts the whole call,
// compensating any ledger mutation already issued and leaving the order
// table as it was.
func (s *Service) Quarter(ctx context.Context, caller string, members []string) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := uint64(s.now().Unix())
	normalized := normalize(members)
	amounts := make([]uint64, len(normalized))
	inbound := make([]bool, len(normalized))

	var due []settlement
	claimed := make(map[string]struct{})

	for i, member := range normalized {
		if member == "" {
			continue
		}
		// A duplicate in the same batch sees the order already claimed
		// by its first occurrence and is a no-op.
		if _, ok := claimed[member]; ok {
			continue
		}
		order, ok, err := s.store.GetOrder(ctx, member)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("lookup order for %s: %w", member, err)
		}
		if !ok || !order.Matured(now) {
			continue
		}

		claimed[member] = struct{}{}
		due = append(due, settlement{member: member, order: order})
		amounts[i] = order.Shares
		inbound[i] = order.Onboarding
	}

	if err := s.settle(ctx, due); err != nil {
		return domain.Batch{}, err
	}

	for i, st := range due {
		if err := s.store.DeleteOrder(ctx, st.member); err != nil {
			// The ledger is already fully settled, so reverse every
			// ledger call and restore the orders deleted so far. A
			// retry then settles each order exactly once.
			s.compensate(ctx, due)
			s.restoreOrders(ctx, due[:i])
			return domain.Batch{}, fmt.Errorf("clear order for %s: %w", st.member, err)
		}
	}

	batch := domain.Batch{Members: normalized, Amounts: amounts, Inbound: inbound}
	s.sink.Record(events.Event{Type: events.EventQuarter, Caller: caller, Batch: batch})
	metrics.RecordBatch("quarter")
	for _, st := range due {
		metrics.RecordExecuted(st.order.Direction(), st.order.Shares)
	}
	s.log.WithField("caller", caller).
		WithField("members", len(members)).
		WithField("executed", len(due)).
		Info("matured orders executed")
	return batch, nil
}

// settle issues one ledger call per matured order. On failure it reverses
// the calls already issued so the ledger matches the untouched order table.
func (s *Service) settle(ctx context.Context, due []settlement) error {
	for i, st := range due {
		var err error
		if st.order.Onboarding {
			err = s.shares.Mint(ctx, []string{st.member}, []uint64{st.order.Shares})
		} else {
			err = s.shares.Burn(ctx, []string{st.member}, []uint64{st.order.Shares})
		}
		if err != nil {
			s.compensate(ctx, due[:i])
			return fmt.Errorf("settle %s for %s: %w", st.order.Direction(), st.member, err)
		}
	}
	return nil
}

// restoreOrders re-creates orders that were deleted before a later delete
// failed, so the table matches the compensated ledger again.
func (s *Service) restoreOrders(ctx context.Context, deleted []settlement) {
	for _, st := range deleted {
		if err := s.store.PutOrder(ctx, st.member, st.order); err != nil {
			s.log.WithError(err).
				WithField("member", st.member).
				Errorf("order restore failed; ledger and order table diverge for %s", st.member)
		}
	}
}

func (s *Service) compensate(ctx context.Context, applied []settlement) {
	for _, st := range applied {
		var err error
		if st.order.Onboarding {
			err = s.shares.Burn(ctx, []string{st.member}, []uint64{st.order.Shares})
		} else {
			err = s.shares.Mint(ctx, []string{st.member}, []uint64{st.order.Shares})
		}
		if err != nil {
			s.log.WithError(err).
				WithField("member", st.member).
				Errorf("compensation failed; ledger and order table diverge for %s", st.member)
		}
	}
}

func (s *Service) requireCaptain(ctx context.Context, caller string) error {
	ok, err := s.oracle.HasRole(ctx, caller, s.cfg.CaptainRole)
	if err != nil {
		return fmt.Errorf("role check for %s: %w", caller, err)
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}

func normalize(members []string) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = strings.TrimSpace(m)
	}
	return out
}
