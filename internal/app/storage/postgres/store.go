// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quarterdeck-network/crew_layer/internal/app/domain/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/storage"
)

// Store persists pending orders in the crew_orders table.
type Store struct {
	db *sqlx.DB
}

var _ storage.RosterStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type orderRow struct {
	Member     string    `db:"member"`
	Onboarding bool      `db:"onboarding"`
	Until      int64     `db:"until_ts"`
	Shares     int64     `db:"shares"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r orderRow) toDomain() roster.Order {
	return roster.Order{
		Onboarding: r.Onboarding,
		Until:      uint64(r.Until),
		Shares:     uint64(r.Shares),
	}
}

func (s *Store) GetOrder(ctx context.Context, member string) (roster.Order, bool, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT member, onboarding, until_ts, shares, created_at
		FROM crew_orders
		WHERE member = $1
	`, member)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.Order{}, false, nil
	}
	if err != nil {
		return roster.Order{}, false, err
	}
	return row.toDomain(), true, nil
}

func (s *Store) PutOrder(ctx context.Context, member string, order roster.Order) error {
	// until_ts and shares are BIGINT columns; reject values that would
	// wrap on the int64 round-trip instead of storing them corrupted.
	if order.Until > math.MaxInt64 || order.Shares > math.MaxInt64 {
		return fmt.Errorf("order for %s exceeds storable range (until=%d shares=%d)", member, order.Until, order.Shares)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crew_orders (member, onboarding, until_ts, shares, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (member)
		DO UPDATE SET onboarding = $2, until_ts = $3, shares = $4
	`, member, order.Onboarding, int64(order.Until), int64(order.Shares), time.Now().UTC())
	return err
}

func (s *Store) DeleteOrder(ctx context.Context, member string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM crew_orders WHERE member = $1`, member)
	return err
}

func (s *Store) ListOrders(ctx context.Context) (map[string]roster.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT member, onboarding, until_ts, shares, created_at
		FROM crew_orders
		ORDER BY member
	`)
	if err != nil {
		return nil, err
	}

	out := make(map[string]roster.Order, len(rows))
	for _, row := range rows {
		out[row.Member] = row.toDomain()
	}
	return out, nil
}
