// Package neo adapts an on-chain share contract to the ShareLedger
// interface. Balance and voting-period reads are test invocations;
// mint and burn are signed transactions issued through a chain actor.
package neo

import (
	"context"
	"fmt"
	"math/big"

	"github.com/quarterdeck-network/crew_layer/internal/app/ledger"
	"github.com/quarterdeck-network/crew_layer/internal/chain"
)

// Ledger talks to the deployed share contract. Member identifiers are
// 0x-prefixed script hashes.
type Ledger struct {
	client   *chain.Client
	actor    *chain.Actor
	contract string
}

var _ ledger.ShareLedger = (*Ledger)(nil)

// New creates a ledger bound to the share contract script hash. The actor
// may be nil for read-only deployments; Mint and Burn then fail.
func New(client *chain.Client, actor *chain.Actor, contract string) (*Ledger, error) {
	if contract == "" {
		return nil, fmt.Errorf("share contract hash required")
	}
	return &Ledger{client: client, actor: actor, contract: contract}, nil
}

func (l *Ledger) BalanceOf(ctx context.Context, member string) (uint64, error) {
	result, err := l.client.InvokeFunction(ctx, l.contract, "balanceOf", []chain.ContractParam{
		chain.NewHash160Param(member),
	})
	if err != nil {
		return 0, fmt.Errorf("balanceOf %s: %w", member, err)
	}
	n, err := firstInteger(result)
	if err != nil {
		return 0, fmt.Errorf("balanceOf %s: %w", member, err)
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("balanceOf %s: value %s out of range", member, n)
	}
	return n.Uint64(), nil
}

func (l *Ledger) VotingPeriod(ctx context.Context) (uint64, error) {
	result, err := l.client.InvokeFunction(ctx, l.contract, "votingPeriod", nil)
	if err != nil {
		return 0, fmt.Errorf("votingPeriod: %w", err)
	}
	n, err := firstInteger(result)
	if err != nil {
		return 0, fmt.Errorf("votingPeriod: %w", err)
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("votingPeriod: value %s out of range", n)
	}
	return n.Uint64(), nil
}

func (l *Ledger) Mint(ctx context.Context, members []string, amounts []uint64) error {
	return l.settle(ctx, "mint", members, amounts)
}

func (l *Ledger) Burn(ctx context.Context, members []string, amounts []uint64) error {
	return l.settle(ctx, "burn", members, amounts)
}

func (l *Ledger) settle(ctx context.Context, method string, members []string, amounts []uint64) error {
	if l.actor == nil {
		return fmt.Errorf("%s: no signing account configured", method)
	}
	if len(members) != len(amounts) {
		return fmt.Errorf("%s: %d members, %d amounts", method, len(members), len(amounts))
	}

	memberParams := make([]chain.ContractParam, len(members))
	amountParams := make([]chain.ContractParam, len(amounts))
	for i := range members {
		memberParams[i] = chain.NewHash160Param(members[i])
		amountParams[i] = chain.NewIntegerParam(new(big.Int).SetUint64(amounts[i]))
	}

	_, err := l.actor.Invoke(ctx, l.contract, method, []chain.ContractParam{
		chain.NewArrayParam(memberParams...),
		chain.NewArrayParam(amountParams...),
	})
	return err
}

func firstInteger(result *chain.InvokeResult) (*big.Int, error) {
	if result.State != "HALT" {
		return nil, fmt.Errorf("execution faulted: %s", result.Exception)
	}
	if len(result.Stack) == 0 {
		return nil, fmt.Errorf("empty result stack")
	}
	return chain.ParseInteger(result.Stack[0])
}
