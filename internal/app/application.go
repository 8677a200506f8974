// Package app wires the roster service to its collaborators and manages the
// lifecycle of background components.
package app

import (
	"context"
	"fmt"

	domain "github.com/quarterdeck-network/crew_layer/internal/app/domain/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/events"
	"github.com/quarterdeck-network/crew_layer/internal/app/ledger"
	ledgermem "github.com/quarterdeck-network/crew_layer/internal/app/ledger/memory"
	"github.com/quarterdeck-network/crew_layer/internal/app/roles"
	rostersvc "github.com/quarterdeck-network/crew_layer/internal/app/services/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/storage"
	storagemem "github.com/quarterdeck-network/crew_layer/internal/app/storage/memory"
	"github.com/quarterdeck-network/crew_layer/internal/app/system"
	"github.com/quarterdeck-network/crew_layer/pkg/logger"
)

// RosterOp is the shape shared by the three roster entry points.
type RosterOp func(ctx context.Context, caller string, members []string) (domain.Batch, error)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation.
type Stores struct {
	Roster storage.RosterStore
}

// Collaborators are the external services the core consults. Nil values
// default to in-memory stand-ins suitable for local development.
type Collaborators struct {
	Ledger ledger.ShareLedger
	Roles  roles.Oracle
}

// Options carries per-deployment settings.
type Options struct {
	Roster         rostersvc.Config
	SweepSchedule  string
	DisableSweeper bool
}

// Application ties the roster service together and manages its lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Roster *rostersvc.Service
	Events events.Recorder
}

// New builds a fully initialised application.
func New(stores Stores, collab Collaborators, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Roster == nil {
		stores.Roster = storagemem.New()
	}
	if collab.Ledger == nil {
		log.Warn("no share ledger configured; using empty in-memory ledger")
		collab.Ledger = ledgermem.New(0)
	}
	if collab.Roles == nil {
		log.Warn("no role oracle configured; onboard/offboard will reject every caller")
		collab.Roles = roles.NewStatic(nil)
	}

	recorder := events.NewRingBuffer(1000)
	service := rostersvc.New(stores.Roster, collab.Ledger, collab.Roles, recorder, opts.Roster, log)

	manager := system.NewManager()
	if !opts.DisableSweeper {
		sweeper := rostersvc.NewSweeper(stores.Roster, service, opts.SweepSchedule, log)
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register sweeper: %w", err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Roster:  service,
		Events:  recorder,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start starts background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops background services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
