// Package ledger defines the share ledger collaborator consumed by the
// roster service. The ledger tracks voting shares per member and carries the
// governance voting-period parameter used to schedule order maturity.
package ledger

import "context"

// ShareLedger is the external share ledger. The roster service consults
// balances and the voting period, and settles matured orders through Mint
// and Burn. Mint and Burn take parallel address/amount slices; the roster
// service always issues them with batches of size one so per-address
// failures stay isolated on the ledger side.
type ShareLedger interface {
	BalanceOf(ctx context.Context, member string) (uint64, error)
	Mint(ctx context.Context, members []string, amounts []uint64) error
	Burn(ctx context.Context, members []string, amounts []uint64) error

	// VotingPeriod returns the governance voting period in seconds. It is
	// read fresh on every use, never cached.
	VotingPeriod(ctx context.Context) (uint64, error)
}
