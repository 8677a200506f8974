package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// validUntilOffset is how many blocks a built transaction stays valid.
const validUntilOffset = 240

// Actor builds, signs and broadcasts state-changing contract invocations on
// behalf of a single account. Read-only calls go through Client directly;
// the actor is only needed for mint/burn style writes.
type Actor struct {
	client  *Client
	account *wallet.Account
	network netmode.Magic
}

// NewActor creates an actor from a hex-encoded private key (0x prefix
// optional).
func NewActor(client *Client, privateKeyHex string) (*Actor, error) {
	pk, err := keys.NewPrivateKeyFromHex(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Actor{
		client:  client,
		account: wallet.NewAccountFromPrivateKey(pk),
		network: netmode.Magic(client.NetworkID()),
	}, nil
}

// Address returns the actor's account address.
func (a *Actor) Address() string { return a.account.Address }

// Invoke test-executes the method to obtain its script and system fee, then
// builds, signs and broadcasts the real transaction and waits for its
// application log. An execution that does not HALT is an error.
func (a *Actor) Invoke(ctx context.Context, contractHash, method string, params []ContractParam) (*ApplicationLog, error) {
	signer := Signer{Account: a.account.Address, Scopes: "CalledByEntry"}
	test, err := a.client.InvokeFunction(ctx, contractHash, method, params, signer)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}
	if test.State != "HALT" {
		return nil, fmt.Errorf("%s failed: %s", method, test.Exception)
	}

	script, err := base64.StdEncoding.DecodeString(test.Script)
	if err != nil {
		return nil, fmt.Errorf("decode invocation script: %w", err)
	}
	sysFee, err := strconv.ParseInt(test.GasConsumed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse gas consumed %q: %w", test.GasConsumed, err)
	}

	height, err := a.client.GetBlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}

	tx := transaction.New(script, sysFee)
	tx.ValidUntilBlock = uint32(height) + validUntilOffset
	tx.Signers = []transaction.Signer{{
		Account: a.account.ScriptHash(),
		Scopes:  transaction.CalledByEntry,
	}}

	// Attach a witness template so the node can price the final size.
	tx.Scripts = []transaction.Witness{{
		VerificationScript: a.account.GetVerificationScript(),
	}}
	netFee, err := a.client.CalculateNetworkFee(ctx, base64.StdEncoding.EncodeToString(tx.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("calculate network fee: %w", err)
	}
	tx.NetworkFee = netFee

	tx.Scripts = nil
	if err := a.account.SignTx(a.network, tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	txHash, err := a.client.SendRawTransaction(ctx, base64.StdEncoding.EncodeToString(tx.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("broadcast %s: %w", method, err)
	}

	wctx, cancel := context.WithTimeout(ctx, DefaultTxWaitTimeout)
	defer cancel()

	appLog, err := a.client.WaitForApplicationLog(wctx, txHash, DefaultPollInterval)
	if err != nil {
		return nil, fmt.Errorf("wait for %s execution: %w", method, err)
	}
	for _, exec := range appLog.Executions {
		if exec.VMState != "HALT" {
			return appLog, fmt.Errorf("%s reverted: %s", method, exec.Exception)
		}
	}
	return appLog, nil
}
