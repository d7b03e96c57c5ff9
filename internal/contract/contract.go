// Package contract is the handle to the token's smart contract.
package contract

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
)

// Querier runs a raw smart query. *wallet.Client implements it.
type Querier interface {
	QuerySmart(ctx context.Context, contract, codeHash string, msg []byte) ([]byte, error)
}

// Contract binds an address and code hash to a node.
type Contract struct {
	Address  string `json:"address"`
	CodeHash string `json:"code_hash,omitempty"`

	q Querier
}

func New(q Querier, address, codeHash string) (*Contract, error) {
	if q == nil {
		return nil, errors.New("contract: nil querier")
	}
	if address == "" {
		return nil, errors.New("contract: empty address")
	}
	return &Contract{Address: address, CodeHash: codeHash, q: q}, nil
}

// Query sends {method: args} authenticated with cred and decodes the answer into out.
// out may be nil to discard the answer.
func (c *Contract) Query(ctx context.Context, method string, args map[string]any, cred auth.Credential, out any) error {
	msg, err := cred.WrapQuery(method, args)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "encode %s query", method)
	}

	answer, err := c.q.QuerySmart(ctx, c.Address, c.CodeHash, raw)
	if err != nil {
		return errors.Wrapf(err, "%s query", method)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(answer, out); err != nil {
		return errors.Wrapf(err, "decode %s answer", method)
	}
	return nil
}
