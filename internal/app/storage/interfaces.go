package storage

import (
	"context"

	"github.com/quarterdeck-network/crew_layer/internal/app/domain/roster"
)

// RosterStore persists pending membership orders keyed by member address.
// The roster service enforces the one-order-per-address state machine; the
// store only guarantees at most one record per key.
type RosterStore interface {
	// GetOrder returns the pending order for a member. The boolean is
	// false when no order is pending.
	GetOrder(ctx context.Context, member string) (roster.Order, bool, error)

	// PutOrder stores or replaces the pending order for a member.
	PutOrder(ctx context.Context, member string, order roster.Order) error

	// DeleteOrder removes the pending order for a member. Deleting an
	// absent order is not an error.
	DeleteOrder(ctx context.Context, member string) error

	// ListOrders returns all pending orders keyed by member address.
	ListOrders(ctx context.Context) (map[string]roster.Order, error)
}
