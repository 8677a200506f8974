package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/quarterdeck-network/crew_layer/internal/app/domain/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/events"
	ledgermem "github.com/quarterdeck-network/crew_layer/internal/app/ledger/memory"
	"github.com/quarterdeck-network/crew_layer/internal/app/roles"
	storagemem "github.com/quarterdeck-network/crew_layer/internal/app/storage/memory"
	"github.com/quarterdeck-network/crew_layer/pkg/testutil"
)

const (
	captain      = "NcaptainAddr0000000000000000000000"
	votingPeriod = 3600
	starting     = 100
)

type fixture struct {
	svc    *Service
	store  *storagemem.Store
	shares *ledgermem.Ledger
	oracle *roles.Static
	sink   *events.RingBuffer
	clock  *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storagemem.New()
	shares := ledgermem.New(votingPeriod)
	oracle := roles.NewStatic(map[string]string{roles.CaptainRole: captain})
	sink := events.NewRingBuffer(100)
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))

	svc := New(store, shares, oracle, sink, Config{StartingShares: starting}, nil).WithClock(clock.Now)
	return &fixture{svc: svc, store: store, shares: shares, oracle: oracle, sink: sink, clock: clock}
}

func (f *fixture) mustOrder(t *testing.T, member string) domain.Order {
	t.Helper()
	order, ok, err := f.store.GetOrder(context.Background(), member)
	if err != nil {
		t.Fatalf("GetOrder(%s): %v", member, err)
	}
	if !ok {
		t.Fatalf("no order for %s", member)
	}
	return order
}

func (f *fixture) noOrder(t *testing.T, member string) {
	t.Helper()
	_, ok, err := f.store.GetOrder(context.Background(), member)
	if err != nil {
		t.Fatalf("GetOrder(%s): %v", member, err)
	}
	if ok {
		t.Fatalf("unexpected order for %s", member)
	}
}

func (f *fixture) balance(t *testing.T, member string) uint64 {
	t.Helper()
	b, err := f.shares.BalanceOf(context.Background(), member)
	if err != nil {
		t.Fatalf("BalanceOf(%s): %v", member, err)
	}
	return b
}

func TestOnboardQueuesOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.svc.Onboard(ctx, captain, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}

	wantDeadline := uint64(f.clock.Now().Unix()) + 2*votingPeriod
	if batch.Deadline != wantDeadline {
		t.Fatalf("deadline = %d, want %d", batch.Deadline, wantDeadline)
	}
	for i, amount := range batch.Amounts {
		if amount != starting {
			t.Fatalf("amount[%d] = %d, want %d", i, amount, starting)
		}
	}

	for _, member := range []string{"alice", "bob"} {
		order := f.mustOrder(t, member)
		if !order.Onboarding || order.Until != wantDeadline || order.Shares != starting {
			t.Fatalf("order for %s = %+v", member, order)
		}
		// Queuing must not touch the ledger.
		if f.balance(t, member) != 0 {
			t.Fatalf("balance of %s changed before maturity", member)
		}
	}

	recent := f.sink.Recent(1)
	if len(recent) != 1 || recent[0].Type != events.EventOnboard {
		t.Fatalf("recent events = %+v", recent)
	}
	if recent[0].Caller != captain {
		t.Fatalf("event caller = %q", recent[0].Caller)
	}
}

func TestOnboardRejectsNonCaptain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Onboard(ctx, "mallory", []string{"alice"})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	f.noOrder(t, "alice")
	if f.sink.Count() != 0 {
		t.Fatal("event recorded for rejected call")
	}

	if _, err := f.svc.Offboard(ctx, "mallory", []string{"alice"}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("offboard err = %v, want ErrNotAuthorized", err)
	}
}

func TestOnboardSkipsExistingHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shares.SetBalance("veteran", 500)

	batch, err := f.svc.Onboard(ctx, captain, []string{"veteran", "rookie"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if batch.Amounts[0] != 0 {
		t.Fatalf("holder amount = %d, want 0", batch.Amounts[0])
	}
	if batch.Amounts[1] != starting {
		t.Fatalf("rookie amount = %d, want %d", batch.Amounts[1], starting)
	}
	f.noOrder(t, "veteran")
	f.mustOrder(t, "rookie")
}

func TestOnboardSkipsPendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice"}); err != nil {
		t.Fatalf("first Onboard: %v", err)
	}
	first := f.mustOrder(t, "alice")

	f.clock.Advance(10 * time.Minute)
	batch, err := f.svc.Onboard(ctx, captain, []string{"alice"})
	if err != nil {
		t.Fatalf("second Onboard: %v", err)
	}
	if batch.Amounts[0] != 0 {
		t.Fatalf("repeat amount = %d, want 0", batch.Amounts[0])
	}
	if got := f.mustOrder(t, "alice"); got != first {
		t.Fatalf("pending order rewritten: %+v -> %+v", first, got)
	}
}

func TestOnboardSkipsDuplicatesWithinBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.svc.Onboard(ctx, captain, []string{"alice", " alice ", "alice"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if batch.Amounts[0] != starting || batch.Amounts[1] != 0 || batch.Amounts[2] != 0 {
		t.Fatalf("amounts = %v", batch.Amounts)
	}
	if batch.Members[1] != "alice" {
		t.Fatalf("member not trimmed: %q", batch.Members[1])
	}
}

func TestOnboardEmptyMemberContributesZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.svc.Onboard(ctx, captain, []string{"", "   ", "bob"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if batch.Amounts[0] != 0 || batch.Amounts[1] != 0 || batch.Amounts[2] != starting {
		t.Fatalf("amounts = %v", batch.Amounts)
	}
	orders, err := f.store.ListOrders(ctx)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %v", orders)
	}
}

func TestOffboardQueuesBalanceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shares.SetBalance("alice", 250)

	batch, err := f.svc.Offboard(ctx, captain, []string{"alice", "stranger"})
	if err != nil {
		t.Fatalf("Offboard: %v", err)
	}
	if batch.Amounts[0] != 250 {
		t.Fatalf("alice amount = %d, want 250", batch.Amounts[0])
	}
	if batch.Amounts[1] != 0 {
		t.Fatalf("stranger amount = %d, want 0", batch.Amounts[1])
	}

	order := f.mustOrder(t, "alice")
	if order.Onboarding || order.Shares != 250 {
		t.Fatalf("order = %+v", order)
	}
	f.noOrder(t, "stranger")

	// The burn amount is pinned at queue time even if the balance moves.
	f.shares.SetBalance("alice", 900)
	if got := f.mustOrder(t, "alice"); got.Shares != 250 {
		t.Fatalf("order shares moved with balance: %d", got.Shares)
	}

	recent := f.sink.Recent(1)
	if len(recent) != 1 || recent[0].Type != events.EventOffboard {
		t.Fatalf("recent events = %+v", recent)
	}
}

func TestDeadlineReadsVotingPeriodFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	first := f.mustOrder(t, "alice").Until

	f.shares.SetVotingPeriod(7200)
	batch, err := f.svc.Onboard(ctx, captain, []string{"bob"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	want := uint64(f.clock.Now().Unix()) + 2*7200
	if batch.Deadline != want {
		t.Fatalf("deadline = %d, want %d", batch.Deadline, want)
	}
	if batch.Deadline == first {
		t.Fatal("voting period change did not affect new deadline")
	}
}

func TestQuarterBeforeMaturityIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}

	f.clock.Advance(2*votingPeriod*time.Second - time.Second)
	batch, err := f.svc.Quarter(ctx, "anyone", []string{"alice"})
	if err != nil {
		t.Fatalf("Quarter: %v", err)
	}
	if batch.Amounts[0] != 0 || batch.Inbound[0] {
		t.Fatalf("premature execution: %+v", batch)
	}
	f.mustOrder(t, "alice")
	if f.balance(t, "alice") != 0 {
		t.Fatal("balance changed before maturity")
	}
}

func TestQuarterExecutesMaturedOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shares.SetBalance("leaver", 300)

	if _, err := f.svc.Onboard(ctx, captain, []string{"joiner"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if _, err := f.svc.Offboard(ctx, captain, []string{"leaver"}); err != nil {
		t.Fatalf("Offboard: %v", err)
	}

	f.clock.Advance(2 * votingPeriod * time.Second)
	batch, err := f.svc.Quarter(ctx, "anyone", []string{"joiner", "leaver", "stranger"})
	if err != nil {
		t.Fatalf("Quarter: %v", err)
	}

	if batch.Amounts[0] != starting || !batch.Inbound[0] {
		t.Fatalf("joiner position = %d/%v", batch.Amounts[0], batch.Inbound[0])
	}
	if batch.Amounts[1] != 300 || batch.Inbound[1] {
		t.Fatalf("leaver position = %d/%v", batch.Amounts[1], batch.Inbound[1])
	}
	if batch.Amounts[2] != 0 {
		t.Fatalf("stranger position = %d", batch.Amounts[2])
	}

	if f.balance(t, "joiner") != starting {
		t.Fatalf("joiner balance = %d", f.balance(t, "joiner"))
	}
	if f.balance(t, "leaver") != 0 {
		t.Fatalf("leaver balance = %d", f.balance(t, "leaver"))
	}
	f.noOrder(t, "joiner")
	f.noOrder(t, "leaver")

	recent := f.sink.Recent(1)
	if len(recent) != 1 || recent[0].Type != events.EventQuarter {
		t.Fatalf("recent events = %+v", recent)
	}
}

func TestQuarterIsPermissionless(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	f.clock.Advance(2 * votingPeriod * time.Second)

	if _, err := f.svc.Quarter(ctx, "mallory", []string{"alice"}); err != nil {
		t.Fatalf("Quarter by non-captain: %v", err)
	}
	if f.balance(t, "alice") != starting {
		t.Fatal("matured order not executed")
	}
}

func TestQuarterDuplicateExecutesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	f.clock.Advance(2 * votingPeriod * time.Second)

	batch, err := f.svc.Quarter(ctx, "anyone", []string{"alice", "alice"})
	if err != nil {
		t.Fatalf("Quarter: %v", err)
	}
	if batch.Amounts[0] != starting || batch.Amounts[1] != 0 {
		t.Fatalf("amounts = %v", batch.Amounts)
	}
	if f.balance(t, "alice") != starting {
		t.Fatalf("balance = %d, want single grant", f.balance(t, "alice"))
	}
}

func TestQuarterLedgerFailureLeavesOrdersIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shares.SetBalance("leaver", 300)

	if _, err := f.svc.Onboard(ctx, captain, []string{"joiner"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if _, err := f.svc.Offboard(ctx, captain, []string{"leaver"}); err != nil {
		t.Fatalf("Offboard: %v", err)
	}

	flaky := &testutil.FlakyLedger{Inner: f.shares, FailAt: 2}
	f.svc.shares = flaky
	f.clock.Advance(2 * votingPeriod * time.Second)

	eventsBefore := f.sink.Count()
	if _, err := f.svc.Quarter(ctx, "anyone", []string{"joiner", "leaver"}); err == nil {
		t.Fatal("expected ledger failure to abort quarter")
	}

	// First settlement was compensated: balances back to pre-call state.
	if f.balance(t, "joiner") != 0 {
		t.Fatalf("joiner balance = %d after rollback", f.balance(t, "joiner"))
	}
	if f.balance(t, "leaver") != 300 {
		t.Fatalf("leaver balance = %d after rollback", f.balance(t, "leaver"))
	}
	f.mustOrder(t, "joiner")
	f.mustOrder(t, "leaver")
	if f.sink.Count() != eventsBefore {
		t.Fatal("event recorded for failed quarter")
	}

	// Orders remain executable once the ledger recovers.
	f.svc.shares = f.shares
	if _, err := f.svc.Quarter(ctx, "anyone", []string{"joiner", "leaver"}); err != nil {
		t.Fatalf("retry Quarter: %v", err)
	}
	if f.balance(t, "joiner") != starting || f.balance(t, "leaver") != 0 {
		t.Fatal("retry did not settle orders")
	}
}

// flakyStore wraps the memory store and fails selected writes, for
// exercising the rollback paths.
type flakyStore struct {
	*storagemem.Store
	failPut     int            // fail the Nth PutOrder, 1-based; 0 disables
	failDeletes map[string]int // member -> remaining DeleteOrder failures
	puts        int
}

func (s *flakyStore) PutOrder(ctx context.Context, member string, order domain.Order) error {
	s.puts++
	if s.failPut > 0 && s.puts == s.failPut {
		return errors.New("connection reset")
	}
	return s.Store.PutOrder(ctx, member, order)
}

func (s *flakyStore) DeleteOrder(ctx context.Context, member string) error {
	if n := s.failDeletes[member]; n > 0 {
		s.failDeletes[member] = n - 1
		return errors.New("connection reset")
	}
	return s.Store.DeleteOrder(ctx, member)
}

func newFlakyFixture(t *testing.T, store *flakyStore) *fixture {
	t.Helper()

	shares := ledgermem.New(votingPeriod)
	oracle := roles.NewStatic(map[string]string{roles.CaptainRole: captain})
	sink := events.NewRingBuffer(100)
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))

	svc := New(store, shares, oracle, sink, Config{StartingShares: starting}, nil).WithClock(clock.Now)
	return &fixture{svc: svc, store: store.Store, shares: shares, oracle: oracle, sink: sink, clock: clock}
}

func TestQuarterDeleteFailureRollsBackLedger(t *testing.T) {
	store := &flakyStore{Store: storagemem.New(), failDeletes: map[string]int{"bob": 1}}
	f := newFlakyFixture(t, store)
	ctx := context.Background()

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice", "bob"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	f.clock.Advance(2 * votingPeriod * time.Second)

	eventsBefore := f.sink.Count()
	if _, err := f.svc.Quarter(ctx, "anyone", []string{"alice", "bob"}); err == nil {
		t.Fatal("expected delete failure to abort quarter")
	}

	// Both mints were reversed and both orders are back in the table.
	if f.balance(t, "alice") != 0 {
		t.Fatalf("alice balance = %d after rollback", f.balance(t, "alice"))
	}
	if f.balance(t, "bob") != 0 {
		t.Fatalf("bob balance = %d after rollback", f.balance(t, "bob"))
	}
	f.mustOrder(t, "alice")
	f.mustOrder(t, "bob")
	if f.sink.Count() != eventsBefore {
		t.Fatal("event recorded for failed quarter")
	}

	// A retry settles each order exactly once.
	if _, err := f.svc.Quarter(ctx, "anyone", []string{"alice", "bob"}); err != nil {
		t.Fatalf("retry Quarter: %v", err)
	}
	if f.balance(t, "alice") != starting || f.balance(t, "bob") != starting {
		t.Fatalf("balances = %d/%d after retry, want %d each",
			f.balance(t, "alice"), f.balance(t, "bob"), starting)
	}
	f.noOrder(t, "alice")
	f.noOrder(t, "bob")
}

func TestOnboardPutFailureLeavesTableEmpty(t *testing.T) {
	store := &flakyStore{Store: storagemem.New(), failPut: 2}
	f := newFlakyFixture(t, store)
	ctx := context.Background()

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice", "bob"}); err == nil {
		t.Fatal("expected store failure to abort onboard")
	}

	orders, err := f.store.ListOrders(ctx)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("orders = %v after failed onboard", orders)
	}
	if f.sink.Count() != 0 {
		t.Fatal("event recorded for failed onboard")
	}

	// The batch can be resubmitted cleanly once the store recovers.
	batch, err := f.svc.Onboard(ctx, captain, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("retry Onboard: %v", err)
	}
	if batch.Amounts[0] != starting || batch.Amounts[1] != starting {
		t.Fatalf("retry amounts = %v", batch.Amounts)
	}
}

func TestOffboardThenReonboardLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shares.SetBalance("sailor", starting)

	if _, err := f.svc.Offboard(ctx, captain, []string{"sailor"}); err != nil {
		t.Fatalf("Offboard: %v", err)
	}

	// A pending offboarding blocks a new onboarding order.
	batch, err := f.svc.Onboard(ctx, captain, []string{"sailor"})
	if err != nil {
		t.Fatalf("Onboard while pending: %v", err)
	}
	if batch.Amounts[0] != 0 {
		t.Fatalf("amount = %d while order pending", batch.Amounts[0])
	}

	f.clock.Advance(2 * votingPeriod * time.Second)
	if _, err := f.svc.Quarter(ctx, "anyone", []string{"sailor"}); err != nil {
		t.Fatalf("Quarter: %v", err)
	}
	if f.balance(t, "sailor") != 0 {
		t.Fatal("offboard did not burn shares")
	}

	// Once the revocation executed the member can be onboarded again.
	batch, err = f.svc.Onboard(ctx, captain, []string{"sailor"})
	if err != nil {
		t.Fatalf("re-Onboard: %v", err)
	}
	if batch.Amounts[0] != starting {
		t.Fatalf("re-onboard amount = %d", batch.Amounts[0])
	}
}

func TestZeroVotingPeriodMaturesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shares.SetVotingPeriod(0)

	if _, err := f.svc.Onboard(ctx, captain, []string{"alice"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	batch, err := f.svc.Quarter(ctx, "anyone", []string{"alice"})
	if err != nil {
		t.Fatalf("Quarter: %v", err)
	}
	if batch.Amounts[0] != starting {
		t.Fatalf("amount = %d, want immediate execution", batch.Amounts[0])
	}
}
