package app

import (
	"context"
	"testing"

	ledgermem "github.com/quarterdeck-network/crew_layer/internal/app/ledger/memory"
	"github.com/quarterdeck-network/crew_layer/internal/app/roles"
	rostersvc "github.com/quarterdeck-network/crew_layer/internal/app/services/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/system"
)

func TestNewDefaultsToInMemory(t *testing.T) {
	application, err := New(Stores{}, Collaborators{}, Options{DisableSweeper: true}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if application.Roster == nil || application.Events == nil {
		t.Fatal("application not fully wired")
	}

	// The default oracle grants nobody, so gated calls are rejected.
	_, err = application.Roster.Onboard(context.Background(), "anyone", []string{"alice"})
	if err != rostersvc.ErrNotAuthorized {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	shares := ledgermem.New(0)
	application, err := New(
		Stores{},
		Collaborators{
			Ledger: shares,
			Roles:  roles.NewStatic(map[string]string{roles.CaptainRole: "captain"}),
		},
		Options{
			Roster:        rostersvc.Config{StartingShares: 10},
			SweepSchedule: "@every 1h",
		},
		nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := application.Attach(system.NoopService{ServiceName: "extra"}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := application.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}()

	batch, err := application.Roster.Onboard(ctx, "captain", []string{"alice"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if batch.Amounts[0] != 10 {
		t.Fatalf("amount = %d", batch.Amounts[0])
	}
	if application.Events.Recent(1)[0].Caller != "captain" {
		t.Fatal("event not recorded")
	}
}
