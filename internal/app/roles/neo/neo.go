// Package neo adapts an on-chain role registry to the roles.Oracle
// interface.
package neo

import (
	"context"
	"fmt"

	"github.com/quarterdeck-network/crew_layer/internal/app/roles"
	"github.com/quarterdeck-network/crew_layer/internal/chain"
)

// Oracle consults a deployed role registry contract. Principals are
// 0x-prefixed script hashes.
type Oracle struct {
	client   *chain.Client
	contract string
}

var _ roles.Oracle = (*Oracle)(nil)

// New creates an oracle bound to the role registry contract.
func New(client *chain.Client, contract string) (*Oracle, error) {
	if contract == "" {
		return nil, fmt.Errorf("role contract hash required")
	}
	return &Oracle{client: client, contract: contract}, nil
}

func (o *Oracle) HasRole(ctx context.Context, principal, role string) (bool, error) {
	result, err := o.client.InvokeFunction(ctx, o.contract, "hasRole", []chain.ContractParam{
		chain.NewHash160Param(principal),
		chain.NewStringParam(role),
	})
	if err != nil {
		return false, fmt.Errorf("hasRole %s: %w", principal, err)
	}
	if result.State != "HALT" {
		return false, fmt.Errorf("hasRole %s: execution faulted: %s", principal, result.Exception)
	}
	if len(result.Stack) == 0 {
		return false, fmt.Errorf("hasRole %s: empty result stack", principal)
	}
	return chain.ParseBoolean(result.Stack[0])
}
