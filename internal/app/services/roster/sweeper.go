package roster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quarterdeck-network/crew_layer/internal/app/metrics"
	"github.com/quarterdeck-network/crew_layer/internal/app/storage"
	"github.com/quarterdeck-network/crew_layer/internal/app/system"
	"github.com/quarterdeck-network/crew_layer/pkg/logger"
)

// SweeperCaller is recorded as the calling principal on sweep events.
const SweeperCaller = "roster-sweeper"

// DefaultSweepSchedule runs a sweep every thirty seconds.
const DefaultSweepSchedule = "@every 30s"

// Sweeper periodically executes matured orders so members do not stay stuck
// in a pending state when nobody submits a quarter call. Quarter is
// permissionless, so the sweeper needs no credentials.
type Sweeper struct {
	store    storage.RosterStore
	service  *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	now     func() time.Time
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper on the given cron schedule (for example
// "@every 30s" or "*/5 * * * *").
func NewSweeper(store storage.RosterStore, service *Service, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("roster-sweeper")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		store:    store,
		service:  service,
		schedule: schedule,
		log:      log,
		now:      time.Now,
	}
}

func (s *Sweeper) Name() string { return "roster-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(runCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.Infof("roster sweeper started (schedule %q)", s.schedule)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep executes a single pass: every matured pending order is submitted to
// Quarter in one batch. Addresses are sorted so sweep batches are
// deterministic.
func (s *Sweeper) Sweep(ctx context.Context) {
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list pending orders failed")
		return
	}
	metrics.SetPendingOrders(len(orders))

	now := uint64(s.now().Unix())
	var matured []string
	for member, order := range orders {
		if order.Matured(now) {
			matured = append(matured, member)
		}
	}
	if len(matured) == 0 {
		return
	}
	sort.Strings(matured)

	if _, err := s.service.Quarter(ctx, SweeperCaller, matured); err != nil {
		s.log.WithError(err).Warnf("sweep of %d matured orders failed", len(matured))
		return
	}
	s.log.Infof("sweep executed %d matured orders", len(matured))
}
