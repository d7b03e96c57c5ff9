// Package nfpx holds the values a boot exports to loaded modules. A Namespace is built once
// and never changes afterwards; modules receive it by reference.
package nfpx

import (
	"errors"
	"maps"
	"slices"

	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/contract"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/nfps-dev/nfp-bootloader/internal/wallet"
)

// Version of the exported surface. Keys are only ever added.
const Version = 1

type Namespace struct {
	location   tokenloc.Location
	client     *wallet.Client
	contract   *contract.Contract
	credential auth.Credential
	comms      []string
	extras     map[string]any
}

func (n *Namespace) Location() tokenloc.Location { return n.location }
func (n *Namespace) Wallet() *wallet.Client { return n.client }
func (n *Namespace) Contract() *contract.Contract { return n.contract }
func (n *Namespace) Credential() auth.Credential { return n.credential }
func (n *Namespace) LCD() string { return n.client.LCD }
func (n *Namespace) Comms() []string { return slices.Clone(n.comms) }

func (n *Namespace) Extra(key string) (any, bool) {
	v, ok := n.extras[key]
	return v, ok
}

// Export is the plain view handed to scripts. It carries the credential itself, so it is only
// for the runtime that hosts the token's own modules.
func (n *Namespace) Export() map[string]any {
	return map[string]any{
		"version": Version,
		"token_location": map[string]any{
			"chain_id": n.location.ChainID,
			"contract": n.location.Contract,
			"token_id": n.location.TokenID,
		},
		"lcd":             n.client.LCD,
		"comms":           slices.Clone(n.comms),
		"wallet_address":  n.client.Wallet.Address(),
		"contract":        map[string]any{"address": n.contract.Address, "code_hash": n.contract.CodeHash},
		"credential":      n.credential,
		"credential_kind": string(n.credential.Kind()),
		"owner":           n.credential.Owner(),
		"extras":          maps.Clone(n.extras),
	}
}

// Builder collects namespace values. It is single use.
type Builder struct {
	ns    *Namespace
	built bool
}

func NewBuilder() *Builder {
	return &Builder{ns: &Namespace{extras: map[string]any{}}}
}

func (b *Builder) Location(l tokenloc.Location) *Builder {
	b.ns.location = l
	return b
}

func (b *Builder) Wallet(c *wallet.Client) *Builder {
	b.ns.client = c
	return b
}

func (b *Builder) Contract(c *contract.Contract) *Builder {
	b.ns.contract = c
	return b
}

func (b *Builder) Credential(c auth.Credential) *Builder {
	b.ns.credential = c
	return b
}

// Comms lists the websocket endpoints modules may subscribe through.
func (b *Builder) Comms(endpoints []string) *Builder {
	b.ns.comms = slices.Clone(endpoints)
	return b
}

func (b *Builder) Extra(key string, value any) *Builder {
	b.ns.extras[key] = value
	return b
}

// Build validates and freezes the namespace.
func (b *Builder) Build() (*Namespace, error) {
	if b.built {
		return nil, errors.New("nfpx: builder already used")
	}
	var errs []error
	if err := b.ns.location.Validate(); err != nil {
		errs = append(errs, err)
	}
	if b.ns.client == nil {
		errs = append(errs, errors.New("wallet client is missing"))
	}
	if b.ns.contract == nil {
		errs = append(errs, errors.New("contract is missing"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errors.Join(errors.New("nfpx: incomplete namespace"), err)
	}
	b.built = true
	ns := *b.ns
	ns.extras = maps.Clone(b.ns.extras)
	return &ns, nil
}
